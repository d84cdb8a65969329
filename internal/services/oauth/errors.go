package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	domainagg "github.com/yungbote/headless-lms/internal/domain/aggregates"
)

const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrUnauthorizedClient      = "unauthorized_client"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrInvalidScope            = "invalid_scope"
	ErrAccessDenied            = "access_denied"
	ErrUnsupportedResponseType = "unsupported_response_type"
	ErrInvalidDPoPProof        = "invalid_dpop_proof"
	ErrInvalidToken            = "invalid_token"
	ErrLoginRequired           = "login_required"
	ErrConsentRequired         = "consent_required"
	ErrServerError             = "server_error"
)

// Error is an RFC 6749 error response. When RedirectURI is set the error is
// delivered to the client through a redirect instead of a JSON body.
type Error struct {
	Code        string
	Description string
	RedirectURI string
	State       string
	Nonce       string
	Status      int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Body is the JSON form returned by the token, introspection and revocation endpoints.
func (e *Error) Body() map[string]string {
	out := map[string]string{"error": e.Code}
	if e.Description != "" {
		out["error_description"] = e.Description
	}
	return out
}

// Location returns the redirect target carrying the error, or "" when the
// error must not be redirected.
func (e *Error) Location() string {
	if e.RedirectURI == "" {
		return ""
	}
	u, err := url.Parse(e.RedirectURI)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("error", e.Code)
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	if e.State != "" {
		q.Set("state", e.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func newError(code, description string) *Error {
	status := http.StatusBadRequest
	switch code {
	case ErrInvalidClient, ErrInvalidToken:
		status = http.StatusUnauthorized
	case ErrAccessDenied:
		status = http.StatusForbidden
	case ErrServerError:
		status = http.StatusInternalServerError
	}
	return &Error{Code: code, Description: description, Status: status}
}

func (e *Error) redirectTo(uri, state string) *Error {
	e.RedirectURI = uri
	e.State = state
	return e
}

// AsError converts any error into an OAuth error. Storage failures become
// server_error so their cause never reaches the client.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	switch domainagg.CodeOf(err) {
	case domainagg.CodeValidation:
		return newError(ErrInvalidRequest, err.Error())
	case domainagg.CodeNotFound:
		return newError(ErrInvalidGrant, "")
	}
	return newError(ErrServerError, "")
}
