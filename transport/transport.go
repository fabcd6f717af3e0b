// Package transport defines the wire boundary consumed by the identity engine.
//
// Every response is an explicit two-field envelope: the endpoint payload and
// an optional piggybacked client snapshot. The engine applies the snapshot in
// a single step whenever it is present, on success and on API errors alike.
//
// # What this package must NOT do
//
//   - Implement HTTP, retries or TLS. Those belong to the caller's Transport.
//   - Import goIdentity.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/MrEthical07/goIdentity/model"
)

// Transport sends one request to the authentication service.
//
// Implementations return *APIError for responses the service rejected and
// any other error for network-level failures.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Method is an HTTP-style verb understood by the service.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Request describes one call. Params are form-encoded by HTTP transports.
type Request struct {
	Method    Method
	Path      string
	Params    url.Values
	RequestID string
}

// Response is the envelope returned by every endpoint.
type Response struct {
	Payload json.RawMessage `json:"response"`
	Client  *model.Client   `json:"client,omitempty"`
}

// Decode unmarshals the payload into dst.
func (r *Response) Decode(dst any) error {
	if r == nil || len(r.Payload) == 0 || string(r.Payload) == "null" {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(r.Payload, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// ErrEmptyPayload is returned by Decode when the endpoint sent no payload.
var ErrEmptyPayload = errors.New("empty response payload")

// APIError is a rejected request. It may carry a piggybacked client snapshot.
type APIError struct {
	Status int               `json:"status"`
	Errors []model.ErrorInfo `json:"errors"`
	Client *model.Client     `json:"client,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if len(e.Errors) == 0 {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, info := range e.Errors {
		parts = append(parts, info.Code)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, strings.Join(parts, ","))
}

// First returns the first error entry, or a zero value.
func (e *APIError) First() model.ErrorInfo {
	if e == nil || len(e.Errors) == 0 {
		return model.ErrorInfo{}
	}
	return e.Errors[0]
}

// HasCode reports whether any entry carries code.
func (e *APIError) HasCode(code string) bool {
	if e == nil {
		return false
	}
	for _, info := range e.Errors {
		if info.Code == code {
			return true
		}
	}
	return false
}
