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

package autodiscover

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailworks/ews-go/ews/protocol"
)

const (
	requestSchema  = "http://schemas.microsoft.com/exchange/autodiscover/outlook/requestschema/2006"
	responseSchema = "http://schemas.microsoft.com/exchange/autodiscover/outlook/responseschema/2006a"
)

// ProbeResult is one probe outcome: resolved settings, a URL to try
// instead, or a different address to restart discovery with. Exactly one
// field is set.
type ProbeResult struct {
	Settings        *Result
	RedirectURL     string
	RedirectAddress string
}

// Prober issues one autodiscover request against one candidate URL.
type Prober interface {
	Probe(ctx context.Context, url, email string) (*ProbeResult, error)
}

// POXProber speaks the plain-XML autodiscover dialect. Redirect responses
// are surfaced, not followed, so the discovery loop can enforce its budget.
type POXProber struct {
	logger     *zap.Logger
	client     *http.Client
	credential protocol.Credential
}

func NewPOXProber(logger *zap.Logger, credential protocol.Credential) *POXProber {
	return &POXProber{
		logger:     logger,
		credential: credential,
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *POXProber) Probe(ctx context.Context, url, email string) (*ProbeResult, error) {
	body := probeRequest(email)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.SetBasicAuth(p.credential.Username, p.credential.Password)

	res, err := p.client.Do(req)
	if err != nil {
		return nil, &protocol.TransientError{Cause: err}
	}
	defer res.Body.Close()

	p.logger.Debug("probe response", zap.String("url", url), zap.Int("status", res.StatusCode))

	switch {
	case res.StatusCode == http.StatusMovedPermanently || res.StatusCode == http.StatusFound:
		location := res.Header.Get("Location")
		if location == "" {
			return nil, &protocol.TransientError{Cause: fmt.Errorf("redirect from %s without a location", url)}
		}
		return &ProbeResult{RedirectURL: location}, nil
	case res.StatusCode == http.StatusUnauthorized:
		return nil, &protocol.UnauthorizedError{Endpoint: url}
	case res.StatusCode == http.StatusServiceUnavailable:
		return nil, &protocol.TransientError{Cause: fmt.Errorf("status %d from %s", res.StatusCode, url)}
	case res.StatusCode != http.StatusOK:
		return nil, &protocol.TransientError{Cause: fmt.Errorf("status %d from %s", res.StatusCode, url)}
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &protocol.TransientError{Cause: err}
	}
	return parseProbeResponse(raw)
}

func probeRequest(email string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<Autodiscover xmlns="` + requestSchema + `"><Request>`)
	b.WriteString("<EMailAddress>")
	_ = xml.EscapeText(&b, []byte(email))
	b.WriteString("</EMailAddress>")
	b.WriteString("<AcceptableResponseSchema>" + responseSchema + "</AcceptableResponseSchema>")
	b.WriteString("</Request></Autodiscover>")
	return b.String()
}

type probeResponse struct {
	Response struct {
		Error *struct {
			ErrorCode string `xml:"ErrorCode"`
			Message   string `xml:"Message"`
		} `xml:"Error"`
		Account struct {
			Action       string `xml:"Action"`
			RedirectAddr string `xml:"RedirectAddr"`
			RedirectURL  string `xml:"RedirectUrl"`
			Protocols    []struct {
				Type          string `xml:"Type"`
				EwsURL        string `xml:"EwsUrl"`
				AuthPackage   string `xml:"AuthPackage"`
				ServerVersion string `xml:"ServerVersion"`
			} `xml:"Protocol"`
		} `xml:"Account"`
	} `xml:"Response"`
}

// parseProbeResponse prefers the EXPR (internet-facing) protocol entry and
// falls back to EXCH.
func parseProbeResponse(raw []byte) (*ProbeResult, error) {
	var res probeResponse
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&res); err != nil {
		return nil, &protocol.TransientError{Cause: fmt.Errorf("malformed autodiscover response: %w", err)}
	}

	if e := res.Response.Error; e != nil {
		return nil, &protocol.FaultError{Code: e.ErrorCode, Message: e.Message}
	}

	account := res.Response.Account
	switch account.Action {
	case "redirectUrl":
		if account.RedirectURL == "" {
			return nil, &protocol.TransientError{Cause: fmt.Errorf("redirectUrl action without a url")}
		}
		return &ProbeResult{RedirectURL: account.RedirectURL}, nil
	case "redirectAddr":
		if account.RedirectAddr == "" {
			return nil, &protocol.TransientError{Cause: fmt.Errorf("redirectAddr action without an address")}
		}
		return &ProbeResult{RedirectAddress: account.RedirectAddr}, nil
	}

	var fallback *Result
	for _, proto := range account.Protocols {
		if proto.EwsURL == "" {
			continue
		}
		result := &Result{Endpoint: proto.EwsURL, AuthType: proto.AuthPackage, Version: proto.ServerVersion}
		if proto.Type == "EXPR" {
			return &ProbeResult{Settings: result}, nil
		}
		if fallback == nil {
			fallback = result
		}
	}
	if fallback != nil {
		return &ProbeResult{Settings: fallback}, nil
	}
	return nil, &protocol.TransientError{Cause: fmt.Errorf("autodiscover response carries no endpoint")}
}
