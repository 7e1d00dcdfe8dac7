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
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is one reusable transport handle against a fixed endpoint and
// credential identity.
type Conn struct {
	ID         string
	Endpoint   string
	Credential Credential
	HTTP       *http.Client

	closed bool
}

// Credential identifies the account the connection authenticates as. The
// concrete authentication handshake is supplied by the transport layer.
type Credential struct {
	Username string
	Password string
}

func (c Credential) Identity() string { return c.Username }

// Dialer creates new connections; replaceable in tests.
type Dialer func(endpoint string, credential Credential) (*Conn, error)

func defaultDialer(endpoint string, credential Credential) (*Conn, error) {
	return &Conn{
		ID:         uuid.New().String(),
		Endpoint:   endpoint,
		Credential: credential,
		HTTP: &http.Client{
			Timeout: 2 * time.Minute,
			// redirects carry endpoint moves; they are classified, not followed
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

var errPoolClosed = errors.New("connection pool is closed")

// Pool is a bounded set of reusable connections for one (endpoint,
// credential) pair. Its target size can shrink at runtime in response to
// server capacity signals; excess connections are retired lazily as they
// are returned, never interrupted mid-call.
type Pool struct {
	endpoint   string
	credential Credential
	dial       Dialer
	logger     *zap.Logger

	mu      sync.Mutex
	idle    []*Conn
	total   int // idle + checked out
	target  int
	max     int
	closed  bool
	waiters []chan *Conn
}

func NewPool(logger *zap.Logger, endpoint string, credential Credential, size int, dial Dialer) *Pool {
	if size < 1 {
		size = 1
	}
	if dial == nil {
		dial = defaultDialer
	}
	return &Pool{
		endpoint:   endpoint,
		credential: credential,
		dial:       dial,
		logger:     logger,
		target:     size,
		max:        size,
	}
}

// Checkout acquires a connection, dialing a new one when under the target
// size and blocking when the pool is exhausted.
func (p *Pool) Checkout(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	if p.total < p.target {
		p.total++
		p.mu.Unlock()
		conn, err := p.dial(p.endpoint, p.credential)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, &TransientError{Cause: err}
		}
		return conn, nil
	}

	wait := make(chan *Conn, 1)
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()

	select {
	case conn := <-wait:
		if conn == nil {
			return nil, errPoolClosed
		}
		return conn, nil
	case <-ctx.Done():
		p.abandon(wait)
		return nil, ctx.Err()
	}
}

// Return gives a connection back; it is handed to a waiter, retired when the
// target has shrunk below the live count, or parked idle.
func (p *Pool) Return(conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn == nil || conn.closed {
		return
	}
	if p.closed || p.total > p.target {
		p.retire(conn)
		return
	}
	for len(p.waiters) > 0 {
		wait := p.waiters[0]
		p.waiters = p.waiters[1:]
		select {
		case wait <- conn:
			return
		default:
			// waiter abandoned its checkout
		}
	}
	p.idle = append(p.idle, conn)
}

// Discard drops a connection that failed mid-call instead of returning it.
func (p *Pool) Discard(conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn == nil || conn.closed {
		return
	}
	p.retire(conn)
}

// Shrink decrements the target size, never below one. Live connections above
// the new target are retired as they come back.
func (p *Pool) Shrink() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.target > 1 {
		p.target--
		p.logger.Debug("connection pool shrunk", zap.Int("target", p.target))
	}
	return p.target
}

// Grow raises the target size back toward the configured maximum.
func (p *Pool) Grow() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.target < p.max {
		p.target++
	}
	return p.target
}

// Target returns the current target size.
func (p *Pool) Target() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, conn := range p.idle {
		p.retire(conn)
	}
	p.idle = nil
	for _, wait := range p.waiters {
		close(wait)
	}
	p.waiters = nil
}

// retire must be called with the lock held.
func (p *Pool) retire(conn *Conn) {
	conn.closed = true
	if conn.HTTP != nil {
		conn.HTTP.CloseIdleConnections()
	}
	p.total--
}

// abandon removes a waiter that gave up; if a connection already arrived on
// its channel, the connection is returned to the pool.
func (p *Pool) abandon(wait chan *Conn) {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == wait {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	select {
	case conn := <-wait:
		if conn != nil {
			p.Return(conn)
		}
	default:
	}
}
