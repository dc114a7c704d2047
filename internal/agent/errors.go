package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a transport failure
type Kind int

const (
	KindMissingCredential Kind = iota + 1
	KindUnreachable
	KindTimeout
	KindCanceled
	KindStatus
	KindNoTextContent
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindStatus:
		return "status"
	case KindNoTextContent:
		return "no_text_content"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// User-facing messages
const (
	MsgMissingCredential   = "Please enter your API key to send messages."
	MsgDirectUnreachable   = "Cannot connect to Claude API. Please check your network connection."
	MsgProxyUnreachable    = "Cannot connect to backend. Please ensure the server is running."
	MsgTimeout             = "Request timed out. Please try again."
	MsgCanceled            = "Request was canceled."
	MsgNoTextContent       = "No text content in response"
	MsgMalformedResponse   = "Received an unreadable response from the server."
	MsgInvalidKey          = "Invalid API key. Please check your API key and try again."
	MsgInvalidBackendKey   = "Backend API key is invalid. Please check the server configuration."
	MsgRateLimited         = "Rate limit exceeded. Please wait a moment and try again."
	MsgOverloaded          = "Claude is currently overloaded. Please try again later."
	MsgServerError         = "Server error. Please try again later."
	MsgBackendUnavailable  = "Backend service unavailable. Please ensure the server is running."
	MsgUnexpected          = "An unexpected error occurred"
	overloadedErrorType    = "overloaded_error"
)

// APIError is returned by every Transport for failed calls
type APIError struct {
	Kind       Kind
	StatusCode int    // HTTP status for KindStatus
	ErrorType  string // provider error category, e.g. overloaded_error
	Message    string
	Proxied    bool
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// statusError builds a KindStatus error, falling back to a generic message
func statusError(status int, message, errorType string, proxied bool) *APIError {
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", status)
	}
	return &APIError{
		Kind:       KindStatus,
		StatusCode: status,
		ErrorType:  errorType,
		Message:    message,
		Proxied:    proxied,
	}
}

// networkError classifies a failed http.Client.Do
func networkError(err error, proxied bool) *APIError {
	apiErr := &APIError{Proxied: proxied, Err: err}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		apiErr.Kind, apiErr.Message = KindTimeout, MsgTimeout
	case errors.Is(err, context.Canceled):
		apiErr.Kind, apiErr.Message = KindCanceled, MsgCanceled
	case errors.As(err, &netErr) && netErr.Timeout():
		apiErr.Kind, apiErr.Message = KindTimeout, MsgTimeout
	case proxied:
		apiErr.Kind, apiErr.Message = KindUnreachable, MsgProxyUnreachable
	default:
		apiErr.Kind, apiErr.Message = KindUnreachable, MsgDirectUnreachable
	}
	return apiErr
}

// IsKind reports whether err is an *APIError of the given kind
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// ErrorMessage maps any error to the string shown to the user
func ErrorMessage(err error) string {
	if err == nil {
		return MsgUnexpected
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		if msg := err.Error(); msg != "" {
			return msg
		}
		return MsgUnexpected
	}

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized:
		if apiErr.Proxied {
			return MsgInvalidBackendKey
		}
		return MsgInvalidKey
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return MsgRateLimited
	case apiErr.ErrorType == overloadedErrorType:
		return MsgOverloaded
	case apiErr.StatusCode == http.StatusInternalServerError:
		return MsgServerError
	case apiErr.StatusCode == http.StatusServiceUnavailable && apiErr.Proxied:
		return MsgBackendUnavailable
	case apiErr.Message != "":
		return apiErr.Message
	default:
		return MsgUnexpected
	}
}
