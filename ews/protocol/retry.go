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
	"time"
)

const (
	// DefaultMaxWait keeps retrying transient failures for up to an hour.
	DefaultMaxWait = time.Hour
	// DefaultBackoffBase is the first retry delay; it doubles per attempt.
	DefaultBackoffBase = 4 * time.Second
)

// Policy produces per-call retry state. One Call tracks a single network
// call across its attempts; policies themselves are stateless and shared.
type Policy interface {
	New() Call
}

// Call decides the fate of one network call. Attempt returns the back-off
// to sleep before the next try, or a terminal error when the call should
// fail. The invariant is that elapsed time plus the returned delay never
// exceeds the policy's maximum wait.
type Call interface {
	Attempt(err error) (time.Duration, error)
	Attempts() int
}

// FaultTolerance retries transient errors with exponential back-off until
// MaxWait would be exceeded. A server-supplied back-off hint floors the
// computed delay.
type FaultTolerance struct {
	MaxWait     time.Duration
	BackoffBase time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

func NewFaultTolerance(maxWait, backoffBase time.Duration) *FaultTolerance {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	return &FaultTolerance{MaxWait: maxWait, BackoffBase: backoffBase, now: time.Now}
}

func (p *FaultTolerance) New() Call {
	clock := p.now
	if clock == nil {
		clock = time.Now
	}
	return &faultTolerantCall{policy: p, now: clock}
}

type faultTolerantCall struct {
	policy   *FaultTolerance
	now      func() time.Time
	started  time.Time
	attempts int
}

func (c *faultTolerantCall) Attempts() int { return c.attempts }

func (c *faultTolerantCall) Attempt(err error) (time.Duration, error) {
	if c.started.IsZero() {
		c.started = c.now()
	}
	c.attempts++

	if !IsTransient(err) {
		return 0, err
	}

	delay := c.policy.BackoffBase << (c.attempts - 1)
	if delay <= 0 || delay > c.policy.MaxWait {
		// shift overflow or cap
		delay = c.policy.MaxWait
	}
	if hint, ok := RetryAfterHint(err); ok && hint > delay {
		delay = hint
	}

	elapsed := c.now().Sub(c.started)
	if elapsed+delay > c.policy.MaxWait {
		return 0, &RetriesExhaustedError{Attempts: c.attempts, Elapsed: elapsed, Cause: err}
	}
	return delay, nil
}

// FailFast never retries.
type FailFast struct{}

func (FailFast) New() Call { return failFastCall{} }

type failFastCall struct{}

func (failFastCall) Attempts() int { return 1 }

func (failFastCall) Attempt(err error) (time.Duration, error) {
	return 0, err
}
