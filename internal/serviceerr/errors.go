package serviceerr

import (
	"net/http"
)

// Code classifies a failure seen by the session client.
type Code string

const (
	// Failures of the transport layer (network, DNS, timeout).
	CodeTransport Code = "transport_failure"

	// Failures reported by the authentication server.
	CodeUnauthorized       Code = "unauthorized"
	CodeAccessDenied       Code = "access_denied"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeServerError        Code = "server_error"

	// Failures of the session itself.
	CodeRenewalFailed   Code = "renewal_failed"
	CodeInvalidResponse Code = "invalid_response"

	// Custom codes
	CodeUnexpectedStatus Code = "unexpected_status"
	CodeNotFound         Code = "not_found"
)

type Error struct {
	Err         Code
	Description string
}

var (
	ErrTransport          = &Error{Err: CodeTransport, Description: "transport failure"}
	ErrUnauthorized       = &Error{Err: CodeUnauthorized, Description: "authorization failure"}
	ErrAccessDenied       = &Error{Err: CodeAccessDenied}
	ErrInvalidCredentials = &Error{Err: CodeInvalidCredentials, Description: "invalid username or password"}
	ErrServerError        = &Error{Err: CodeServerError}
	ErrRenewalFailed      = &Error{Err: CodeRenewalFailed, Description: "could not renew the access credential"}
	ErrInvalidResponse    = &Error{Err: CodeInvalidResponse, Description: "malformed response body"}
	ErrUnexpectedStatus   = &Error{Err: CodeUnexpectedStatus, Description: "unexpected response status"}
	ErrNotFound           = &Error{Err: CodeNotFound, Description: "not found"}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// Is matches errors by code so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Err == e.Err
}

// FromHTTPStatus maps a non-successful response status to an error.
func FromHTTPStatus(status int) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrAccessDenied
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= http.StatusInternalServerError:
		return ErrServerError
	default:
		return ErrUnexpectedStatus
	}
}
