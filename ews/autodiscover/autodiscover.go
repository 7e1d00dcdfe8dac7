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

// Package autodiscover locates the service endpoint for a mailbox address
// by probing well-known candidate URLs, following server redirects, and
// caching the answer per domain.
package autodiscover

import (
	"fmt"
	"strings"
)

// Result is a resolved endpoint for a domain.
type Result struct {
	Endpoint string `db:"endpoint"`
	AuthType string `db:"auth_type"`
	Version  string `db:"version"`
}

// TooManyRedirectsError aborts a discovery run that keeps bouncing between
// servers.
type TooManyRedirectsError struct {
	Budget int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("autodiscover exceeded %d redirects", e.Budget)
}

// ExhaustedError reports that every candidate failed. Unauthorized is set
// when at least one candidate rejected the credentials, which callers treat
// differently from plain unreachability.
type ExhaustedError struct {
	Domain       string
	Unauthorized bool
	Causes       error
}

func (e *ExhaustedError) Error() string {
	if e.Unauthorized {
		return fmt.Sprintf("autodiscover for %s failed: credentials rejected: %v", e.Domain, e.Causes)
	}
	return fmt.Sprintf("autodiscover for %s failed: no candidate reachable: %v", e.Domain, e.Causes)
}

func (e *ExhaustedError) Unwrap() error { return e.Causes }

// Domain extracts the domain part of a mailbox address.
func Domain(email string) (string, error) {
	i := strings.LastIndexByte(email, '@')
	if i < 0 || i == len(email)-1 {
		return "", fmt.Errorf("malformed mailbox address: %s", email)
	}
	return strings.ToLower(email[i+1:]), nil
}
