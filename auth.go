package livepredict

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Authenticator decides which subject a websocket connection drives.
//
// Every connection owns its subject: templates learned on it are torn
// down when it closes. Two connections resolving to the same subject
// share its templates while both are open.
type Authenticator interface {
	// Subject returns the subject id for the request, or an error
	// wrapping ErrUnauthorized to refuse the connection
	Subject(r *http.Request) (string, error)
}

// QueryAuthenticator reads the subject from a query parameter and assigns
// a random one when it is absent. It is the default.
type QueryAuthenticator struct {
	Param string
}

// Subject implements Authenticator
func (a *QueryAuthenticator) Subject(r *http.Request) (string, error) {
	if id := r.URL.Query().Get(a.Param); id != "" {
		return id, nil
	}
	return uuid.NewString(), nil
}

// BasicAuthenticator checks HTTP basic auth credentials and scopes the
// subject to the user: "alice" asking for ?subject=tab1 drives
// "alice/tab1", and alice without a subject drives "alice".
type BasicAuthenticator struct {
	// ValidateFunc reports whether the credentials are valid. An error
	// means the check itself failed.
	ValidateFunc func(username, password string) (bool, error)
	Param        string
}

// NewBasicAuthenticator creates a BasicAuthenticator reading the subject
// from the "subject" query parameter
func NewBasicAuthenticator(validate func(username, password string) (bool, error)) *BasicAuthenticator {
	return &BasicAuthenticator{ValidateFunc: validate, Param: "subject"}
}

// Subject implements Authenticator
func (a *BasicAuthenticator) Subject(r *http.Request) (string, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", fmt.Errorf("%w: no basic auth credentials provided", ErrUnauthorized)
	}
	valid, err := a.ValidateFunc(username, password)
	if err != nil {
		return "", fmt.Errorf("authentication error: %w", err)
	}
	if !valid {
		return "", fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	if id := r.URL.Query().Get(a.Param); id != "" {
		return username + "/" + id, nil
	}
	return username, nil
}
