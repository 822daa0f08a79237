package session

import (
	"fmt"
	"strings"

	"github.com/openkcm/session-client/internal/serviceerr"
)

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Credential string // Access credential, empty when absent
	Loading    bool   // True until the initial session check has settled
}

// Authenticated reports whether a credential is present.
func (s Snapshot) Authenticated() bool {
	return s.Credential != ""
}

// Identity is the user the current credential belongs to.
type Identity struct {
	Username string
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// credential returns the access token of a bearer token response.
func (r tokenResponse) credential() (string, error) {
	if r.AccessToken == "" {
		return "", fmt.Errorf("%w: response carries no access token", serviceerr.ErrInvalidResponse)
	}
	if r.TokenType != "" && !strings.EqualFold(r.TokenType, "bearer") {
		return "", fmt.Errorf("%w: unsupported token type %q", serviceerr.ErrInvalidResponse, r.TokenType)
	}

	return r.AccessToken, nil
}

type messageResponse struct {
	Message string `json:"message"`
}
