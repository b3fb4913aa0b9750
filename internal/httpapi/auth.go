package httpapi

import (
	"errors"
	"net/http"
	"strings"
)

// ErrMissingToken is returned by an Authenticator when the request carries
// no bearer token at all.
var ErrMissingToken = errors.New("httpapi: missing bearer token")

// Authenticator resolves an inbound HTTP request to a user ID. No concrete
// auth implementation ships here — the spec calls auth/login out of scope
// — but the seam exists so an operator can plug one in ahead of
// collab.Session, which is the only thing that actually needs a userID.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// DevAuthenticator is a development stand-in: it accepts any non-empty
// bearer token and uses the token itself as the userID. It must never be
// used in production; it exists purely so the rest of the transport can be
// exercised without a real identity provider.
type DevAuthenticator struct{}

func (DevAuthenticator) Authenticate(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
