// Copyright 2026 The Mailworks Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TransientError wraps a failure that is safe to retry: connection resets,
// timeouts, temporary DNS trouble.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// BusyError is the server-busy fault. RetryAfter carries the back-off the
// server asked for, when it supplied one.
type BusyError struct {
	RetryAfter time.Duration
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("server busy, retry after %s", e.RetryAfter)
}

// TooManyObjectsError signals the server refused the call because the
// session holds too many open connections or objects. The session responds
// by shrinking its connection pool before retrying.
type TooManyObjectsError struct{}

func (e *TooManyObjectsError) Error() string {
	return "too many objects opened on the server"
}

// RedirectError reports that the requested endpoint lives elsewhere.
type RedirectError struct {
	URL string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirected to %s", e.URL)
}

type UnauthorizedError struct {
	Endpoint string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("authentication failed against %s", e.Endpoint)
}

// FaultError is a non-retryable rejection from the service: a malformed
// request, an unknown operation, a schema violation.
type FaultError struct {
	Code    string
	Message string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("service fault %s: %s", e.Code, e.Message)
}

// MailboxNotFoundError invalidates every item of the batch that produced
// it, so it aborts the whole call rather than a single result slot.
type MailboxNotFoundError struct {
	Mailbox string
}

func (e *MailboxNotFoundError) Error() string {
	return fmt.Sprintf("mailbox does not exist: %s", e.Mailbox)
}

// BatchFatal marks the error as invalidating the entire batch.
func (e *MailboxNotFoundError) BatchFatal() bool { return true }

// RetriesExhaustedError is the terminal error of a retry loop. It preserves
// the last cause and the number of transient attempts for diagnostics.
type RetriesExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Cause    error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts over %s: %v", e.Attempts, e.Elapsed, e.Cause)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Cause }

// IsTransient classifies an error as retryable. Deadline expiry on a single
// call is transient; cancellation means the caller gave up and is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var busy *BusyError
	if errors.As(err, &busy) {
		return true
	}
	var tooMany *TooManyObjectsError
	if errors.As(err, &tooMany) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// RetryAfterHint extracts a server-suggested back-off from the error chain.
func RetryAfterHint(err error) (time.Duration, bool) {
	var busy *BusyError
	if errors.As(err, &busy) && busy.RetryAfter > 0 {
		return busy.RetryAfter, true
	}
	return 0, false
}

// IsBatchFatal reports whether the error invalidates an entire batch rather
// than a single result slot.
func IsBatchFatal(err error) bool {
	var fatal interface{ BatchFatal() bool }
	return errors.As(err, &fatal) && fatal.BatchFatal()
}
