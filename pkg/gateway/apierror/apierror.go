package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vango-go/live-relay/pkg/relay"
)

type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// Error is the JSON error body returned by every HTTP endpoint.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type Envelope struct {
	Error *Error `json:"error"`
}

func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(apiErr.Type)
	}

	// Remote live session failures.
	if errors.Is(err, relay.ErrConnect) {
		return &Error{
			Type:      ErrProvider,
			Message:   "failed to connect live session",
			Code:      "connect_failed",
			RequestID: requestID,
		}, http.StatusBadGateway
	}
	if errors.Is(err, relay.ErrRemoteClosed) || errors.Is(err, relay.ErrUplinkFailed) || errors.Is(err, relay.ErrDownlinkFailed) {
		return &Error{
			Type:      ErrProvider,
			Message:   "live session failed",
			Code:      "remote_failed",
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &Error{
		Type:      ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrOverloaded:
		return http.StatusServiceUnavailable
	case ErrProvider:
		return http.StatusBadGateway
	case ErrAPI:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Write encodes apiErr as a JSON envelope with the given status.
func Write(w http.ResponseWriter, status int, apiErr *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: apiErr})
}
