// Package auth gates administrative IPP operations behind HTTP Basic
// credentials checked against bcrypt hashes.
package auth

import (
	"encoding/base64"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type account struct {
	hash  []byte
	admin bool
}

// Authorizer holds the local user table. With no users configured the
// authorizer is open: every request is authorized.
type Authorizer struct {
	mu    sync.RWMutex
	users map[string]account
}

func New() *Authorizer {
	return &Authorizer{users: map[string]account{}}
}

// AddUser registers a user with a plaintext password, hashed at once.
func (a *Authorizer) AddUser(name, password string, admin bool) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.users[name] = account{hash: hash, admin: admin}
	a.mu.Unlock()
	return nil
}

// Authenticate checks an Authorization header value and returns the
// user name when the Basic credentials verify.
func (a *Authorizer) Authenticate(header string) (string, bool) {
	name, password, ok := parseBasic(header)
	if !ok {
		return "", false
	}
	a.mu.RLock()
	acct, found := a.users[name]
	a.mu.RUnlock()
	if !found {
		return "", false
	}
	if bcrypt.CompareHashAndPassword(acct.hash, []byte(password)) != nil {
		return "", false
	}
	return name, true
}

// IsAuthorized reports whether the request may perform an admin
// operation.
func (a *Authorizer) IsAuthorized(header string) bool {
	a.mu.RLock()
	open := len(a.users) == 0
	a.mu.RUnlock()
	if open {
		return true
	}
	name, ok := a.Authenticate(header)
	if !ok {
		return false
	}
	a.mu.RLock()
	acct := a.users[name]
	a.mu.RUnlock()
	return acct.admin
}

func parseBasic(header string) (string, string, bool) {
	const prefix = "basic "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	name, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	return name, password, true
}
