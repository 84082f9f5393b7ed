// Package auth implements the orchestrator's WaitAuth collaborator
// (spec.md §4.7): a one-method interface plus an in-memory reference
// implementation. Password hashing is grounded on the teacher-sibling
// Whale's internal/persist/account_repo.go, which hashes with
// golang.org/x/crypto/bcrypt rather than rolling a KDF by hand.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Result is the outcome of an authentication attempt.
type Result struct {
	OK          bool
	PlayerID    int
	AccessLevel int
	Reason      string // set when OK is false, e.g. "bad password", "banned"
}

// Authenticator is the WaitAuth collaborator contract: a single
// blocking call per login attempt. Implementations expected to make a
// network call (LDAP, a legacy account service) should respect ctx
// cancellation.
type Authenticator interface {
	Authenticate(ctx context.Context, loginName, password string) (Result, error)
}

// account is one TableAuthenticator entry.
type account struct {
	playerID     int
	passwordHash string
	accessLevel  int
	banned       bool
}

// TableAuthenticator is the default Authenticator: an in-memory table
// loaded from the zone config's [Auth] section (spec.md §4.14), keyed
// by login name, case-insensitively.
type TableAuthenticator struct {
	mu       sync.RWMutex
	accounts map[string]*account
	nextID   int
}

// NewTableAuthenticator creates an empty table. Use AddAccount to
// populate it (from config, or programmatically in tests).
func NewTableAuthenticator() *TableAuthenticator {
	return &TableAuthenticator{accounts: make(map[string]*account), nextID: 1}
}

// AddAccount registers loginName with rawPassword, hashing it with
// bcrypt. accessLevel is an opaque privilege tier the rest of the
// server interprets (spec.md doesn't define one; carried through as a
// plain int per the original's staff-level convention).
func (t *TableAuthenticator) AddAccount(loginName, rawPassword string, accessLevel int) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	key := strings.ToLower(loginName)

	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.accounts[key] = &account{playerID: id, passwordHash: string(hash), accessLevel: accessLevel}
	return nil
}

// SetBanned flags or clears an account's ban state.
func (t *TableAuthenticator) SetBanned(loginName string, banned bool) error {
	key := strings.ToLower(loginName)
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.accounts[key]
	if !ok {
		return errors.New("auth: unknown account")
	}
	a.banned = banned
	return nil
}

// Authenticate implements Authenticator.
func (t *TableAuthenticator) Authenticate(_ context.Context, loginName, password string) (Result, error) {
	key := strings.ToLower(loginName)

	t.mu.RLock()
	a, ok := t.accounts[key]
	t.mu.RUnlock()

	if !ok {
		return Result{OK: false, Reason: "no such account"}, nil
	}
	if a.banned {
		return Result{OK: false, Reason: "banned"}, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)) != nil {
		return Result{OK: false, Reason: "bad password"}, nil
	}
	return Result{OK: true, PlayerID: a.playerID, AccessLevel: a.accessLevel}, nil
}
