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

// Package protocol carries every network call of the client: typed errors,
// retry policies, the bounded connection pool, and the session loop that
// ties them together around the SOAP transport.
package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Operation is one service call: it renders its own request body and
// consumes its own response body. The session never looks inside either
// beyond pagination and error metadata surfaced by the operation itself.
type Operation interface {
	Name() string
	Payload() (string, error)
	Consume(body []byte) error
}

// Caller executes one operation over one connection. The SOAP HTTP caller
// is the production implementation; tests substitute recorders.
type Caller interface {
	Call(ctx context.Context, op Operation, conn *Conn) error
}

// Session owns the connection pool and retry policy for one (endpoint,
// credential) pair and funnels every operation through them.
type Session struct {
	logger     *zap.Logger
	endpoint   string
	credential Credential
	pool       *Pool
	policy     Policy
	caller     Caller

	onInvalidEndpoint func(error)
}

type SessionOption func(*Session)

// WithPolicy selects the retry policy; the default is fault tolerance with
// an hour of patience.
func WithPolicy(p Policy) SessionOption {
	return func(s *Session) { s.policy = p }
}

func WithCaller(c Caller) SessionOption {
	return func(s *Session) { s.caller = c }
}

func WithPoolSize(n int, dial Dialer) SessionOption {
	return func(s *Session) {
		s.pool = NewPool(s.logger.Named("Pool"), s.endpoint, s.credential, n, dial)
	}
}

// WithInvalidEndpointHandler installs a hook invoked when the server says
// the endpoint is no longer the right one, so discovery caches can evict.
func WithInvalidEndpointHandler(fn func(error)) SessionOption {
	return func(s *Session) { s.onInvalidEndpoint = fn }
}

func NewSession(logger *zap.Logger, endpoint string, credential Credential, opts ...SessionOption) *Session {
	s := &Session{
		logger:     logger,
		endpoint:   endpoint,
		credential: credential,
		policy:     NewFaultTolerance(DefaultMaxWait, DefaultBackoffBase),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = NewPool(logger.Named("Pool"), endpoint, credential, 4, nil)
	}
	if s.caller == nil {
		s.caller = NewSOAPCaller(logger.Named("SOAP"))
	}
	return s
}

func (s *Session) Endpoint() string { return s.endpoint }

// Pool exposes the session's connection pool for capacity tuning.
func (s *Session) Pool() *Pool { return s.pool }

func (s *Session) Close() { s.pool.Close() }

// Do runs one operation to completion under the retry policy. Transient
// failures are retried with back-off; a too-many-objects signal shrinks the
// pool before the next attempt; the terminal error preserves the transient
// attempt count.
func (s *Session) Do(ctx context.Context, op Operation) error {
	call := s.policy.New()
	log := s.logger.Named("Do").With(
		zap.String("operation", op.Name()),
		zap.String("requestId", uuid.New().String()),
	)

	for {
		err := s.attempt(ctx, op)
		if err == nil {
			return nil
		}

		var tooMany *TooManyObjectsError
		if errors.As(err, &tooMany) {
			log.Debug("server reports too many open objects, shrinking pool",
				zap.Int("target", s.pool.Shrink()))
		}

		delay, terminal := call.Attempt(err)
		if terminal != nil {
			var redirect *RedirectError
			if errors.As(terminal, &redirect) && s.onInvalidEndpoint != nil {
				s.onInvalidEndpoint(terminal)
			}
			log.Debug("operation failed", zap.Int("attempts", call.Attempts()), zap.Error(terminal))
			return terminal
		}

		log.Debug("retrying after transient error", zap.Duration("backoff", delay), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) attempt(ctx context.Context, op Operation) error {
	conn, err := s.pool.Checkout(ctx)
	if err != nil {
		return err
	}

	err = s.caller.Call(ctx, op, conn)

	var transient *TransientError
	if errors.As(err, &transient) {
		// the transport may be wedged, do not reuse it
		s.pool.Discard(conn)
	} else {
		s.pool.Return(conn)
	}
	return err
}
