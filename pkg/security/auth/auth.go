// Package auth implements the authentication gate for proxy connections.
//
// The gate is a capability interface: the server holds one Authenticator
// chosen at startup by security.authentication.method. Only the "basic"
// method is verified in-process; token or OAuth verifiers are external
// implementations of the same interface.
package auth

import (
	"crypto/subtle"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"stratos-hq/charon/pkg/proxy"
)

// Authenticator verifies a credential attempt and returns the
// authenticated identity. A denial is reported as proxy.ErrAuthFailed;
// implementations must not reveal whether the username or the password
// was wrong.
type Authenticator interface {
	Verify(username, password string) (identity string, err error)
}

// BasicAuthenticator verifies username/password attempts against a static
// credential set. Stored hashes beginning with "$2" are treated as bcrypt
// hashes; anything else is compared as plain text in constant time.
//
// The credential set can be swapped at runtime by the configuration
// watcher.
type BasicAuthenticator struct {
	mu    sync.RWMutex
	users map[string]string // username -> password hash
}

// Credential is one username/password-hash pair.
type Credential struct {
	Username     string
	PasswordHash string
}

// NewBasicAuthenticator creates an authenticator over the given
// credential set.
func NewBasicAuthenticator(creds []Credential) *BasicAuthenticator {
	a := &BasicAuthenticator{}
	a.Update(creds)
	return a
}

// Update replaces the credential set. Used for hot reload.
func (a *BasicAuthenticator) Update(creds []Credential) {
	users := make(map[string]string, len(creds))
	for _, c := range creds {
		users[c.Username] = c.PasswordHash
	}
	a.mu.Lock()
	a.users = users
	a.mu.Unlock()
}

// Verify checks the attempt against the stored hash for the claimed
// username. Unknown usernames still burn a comparison so the timing does
// not distinguish them from wrong passwords.
func (a *BasicAuthenticator) Verify(username, password string) (string, error) {
	a.mu.RLock()
	hash, ok := a.users[username]
	a.mu.RUnlock()

	if !ok {
		// Compare against a fixed dummy hash to equalize timing.
		subtle.ConstantTimeCompare([]byte(password), []byte("charon-no-such-user"))
		return "", proxy.ErrAuthFailed
	}

	if strings.HasPrefix(hash, "$2") {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			return "", proxy.ErrAuthFailed
		}
		return username, nil
	}

	if subtle.ConstantTimeCompare([]byte(hash), []byte(password)) != 1 {
		return "", proxy.ErrAuthFailed
	}
	return username, nil
}
