// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response handling for the
// local JSON APIs tunnelwarden talks to.
//
// Every body read stops at MaxResponseSize. A body that would exceed
// it fails with ErrResponseTooLarge instead of being silently
// truncated into invalid JSON.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxResponseSize bounds response body reads: 4 MiB. A vault listing
// for a single search term is orders of magnitude smaller.
const MaxResponseSize int64 = 4 << 20

// maxErrorBody bounds how much of an error response ends up in an
// error message.
const maxErrorBody = 512

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// ReadResponse reads a response body of at most MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

// DecodeResponse reads a bounded body and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// ErrorBody returns the start of an error response body for use in an
// error message. Read errors are ignored; a partial body still helps.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return string(data)
}

// CheckStatus returns a *StatusError for any non-2xx response.
func CheckStatus(response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	statusError := &StatusError{Code: response.StatusCode, Body: ErrorBody(response.Body)}
	if response.Request != nil {
		statusError.Method = response.Request.Method
		statusError.URL = response.Request.URL.Redacted()
	}
	return statusError
}
