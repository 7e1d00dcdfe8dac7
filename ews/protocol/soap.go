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
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	soapNamespace     = "http://schemas.xmlsoap.org/soap/envelope/"
	messagesNamespace = "http://schemas.microsoft.com/exchange/services/2006/messages"
	typesNamespace    = "http://schemas.microsoft.com/exchange/services/2006/types"

	// RequestServerVersion pinned to the oldest schema the client emits.
	requestServerVersion = "Exchange2013"
)

// SOAPCaller posts operations to the service endpoint as SOAP envelopes and
// maps transport and fault conditions onto the package's error types.
type SOAPCaller struct {
	logger *zap.Logger
}

func NewSOAPCaller(logger *zap.Logger) *SOAPCaller {
	return &SOAPCaller{logger: logger}
}

func (c *SOAPCaller) Call(ctx context.Context, op Operation, conn *Conn) error {
	payload, err := op.Payload()
	if err != nil {
		return fmt.Errorf("rendering %s request: %w", op.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.Endpoint, strings.NewReader(envelope(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.SetBasicAuth(conn.Credential.Username, conn.Credential.Password)

	res, err := conn.HTTP.Do(req)
	if err != nil {
		return classifyNetworkError(err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return &TransientError{Cause: err}
	}

	c.logger.Debug("response received",
		zap.String("operation", op.Name()),
		zap.Int("status", res.StatusCode),
		zap.Int("bytes", len(body)))

	if err := classifyStatus(res, body); err != nil {
		return err
	}

	inner, err := unwrap(body)
	if err != nil {
		return err
	}
	return op.Consume(inner)
}

func envelope(payload string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<s:Envelope xmlns:s="` + soapNamespace + `" xmlns:m="` + messagesNamespace + `" xmlns:t="` + typesNamespace + `">`)
	b.WriteString(`<s:Header><t:RequestServerVersion Version="` + requestServerVersion + `"/></s:Header>`)
	b.WriteString(`<s:Body>`)
	b.WriteString(payload)
	b.WriteString(`</s:Body>`)
	b.WriteString(`</s:Envelope>`)
	return b.String()
}

// classifyNetworkError treats every transport failure as transient. The
// retry policy still refuses to continue when the caller's context was
// cancelled, because the cancellation survives in the wrapped chain.
func classifyNetworkError(err error) error {
	return &TransientError{Cause: err}
}

func classifyStatus(res *http.Response, body []byte) error {
	switch {
	case res.StatusCode == http.StatusOK:
		return nil
	case res.StatusCode == http.StatusMovedPermanently || res.StatusCode == http.StatusFound:
		return &RedirectError{URL: res.Header.Get("Location")}
	case res.StatusCode == http.StatusUnauthorized:
		return &UnauthorizedError{}
	case res.StatusCode == http.StatusServiceUnavailable || res.StatusCode == http.StatusTooManyRequests:
		return &BusyError{RetryAfter: retryAfterHeader(res)}
	case res.StatusCode == http.StatusInternalServerError:
		// 500 carries the SOAP fault in the body, fall through to fault parsing
		if err := classifyFault(body); err != nil {
			return err
		}
		return &TransientError{Cause: fmt.Errorf("status %d with unreadable fault", res.StatusCode)}
	case res.StatusCode >= 500:
		return &TransientError{Cause: fmt.Errorf("status %d", res.StatusCode)}
	default:
		return &FaultError{Code: strconv.Itoa(res.StatusCode), Message: http.StatusText(res.StatusCode)}
	}
}

func retryAfterHeader(res *http.Response) time.Duration {
	seconds, err := strconv.Atoi(res.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

type soapEnvelope struct {
	Body struct {
		Fault *soapFault `xml:"Fault"`
		Inner []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	Reason string `xml:"faultstring"`
	Detail struct {
		ResponseCode string `xml:"ResponseCode"`
		Message      string `xml:"Message"`
		MessageXML   struct {
			Values []faultValue `xml:"Value"`
		} `xml:"MessageXml"`
	} `xml:"detail"`
}

type faultValue struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

func classifyFault(body []byte) error {
	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err != nil || env.Body.Fault == nil {
		return nil
	}
	f := env.Body.Fault
	code := f.Detail.ResponseCode
	if code == "" {
		code = f.Code
	}
	message := f.Detail.Message
	if message == "" {
		message = f.Reason
	}
	return responseCodeError(code, message, f.Detail.MessageXML.Values)
}

// responseCodeError maps a service response code onto a typed error. Codes
// without a dedicated type become FaultErrors, which the retry policy treats
// as terminal.
func responseCodeError(code, message string, values []faultValue) error {
	switch code {
	case "", "NoError":
		return nil
	case "ErrorServerBusy":
		return &BusyError{RetryAfter: backOffValue(values)}
	case "ErrorTooManyObjectsOpened":
		return &TooManyObjectsError{}
	case "ErrorNonExistentMailbox", "ErrorMailboxMoveInProgress":
		return &MailboxNotFoundError{Mailbox: message}
	case "ErrorTimeoutExpired", "ErrorInternalServerTransientError", "ErrorMailboxStoreUnavailable":
		return &TransientError{Cause: &FaultError{Code: code, Message: message}}
	case "ErrorIncorrectSchemaVersion", "ErrorInvalidServerVersion":
		return &RedirectError{URL: ""}
	default:
		return &FaultError{Code: code, Message: message}
	}
}

func backOffValue(values []faultValue) time.Duration {
	for _, v := range values {
		if v.Name != "BackOffMilliseconds" {
			continue
		}
		ms, err := strconv.Atoi(strings.TrimSpace(v.Value))
		if err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 0
}

func unwrap(body []byte) ([]byte, error) {
	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, &TransientError{Cause: fmt.Errorf("malformed envelope: %w", err)}
	}
	if env.Body.Fault != nil {
		if err := classifyFault(body); err != nil {
			return nil, err
		}
	}
	return env.Body.Inner, nil
}
