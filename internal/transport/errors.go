// Synadmin - Homeserver Administration Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/synadmin

package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// APIError is the normalized error shape for every failed primary-API call:
// the upstream's structured envelope when present, a generic fallback
// otherwise. Status 0 means the request never produced an HTTP response
// (network failure, open circuit).
type APIError struct {
	Message string
	Status  int
	Errcode string
	Body    []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Errcode, e.Message)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Errcode, e.Status, e.Message)
}

// errorEnvelope is the upstream structured error shape.
type errorEnvelope struct {
	Errcode string `json:"errcode"`
	Message string `json:"error"`
}

// newAPIError builds an APIError from a non-2xx response body, decoding
// the structured envelope when present.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{
		Status:  status,
		Errcode: "M_UNKNOWN",
		Message: http.StatusText(status),
		Body:    body,
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Errcode != "" {
			apiErr.Errcode = env.Errcode
		}
		if env.Message != "" {
			apiErr.Message = env.Message
		}
	}

	return apiErr
}

// newTransportError normalizes a failure that produced no HTTP response.
func newTransportError(errcode string, err error) *APIError {
	return &APIError{
		Errcode: errcode,
		Message: err.Error(),
	}
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsAuthInvalid reports whether err signals an invalid session (401/403).
// The console treats these as a logout trigger, not a displayable error.
func IsAuthInvalid(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}
