// Package accounts defines the local account model and the store contract
// that directory sync reconciles against.
package accounts

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Update when no account has the given ID.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned by Create when the email is already in use.
	ErrEmailTaken = errors.New("email already in use")
)

// Account is a locally stored user.
type Account struct {
	ID                   string
	Email                string
	Name                 string
	IsPrivileged         bool
	CredentialHash       string
	StorageLabel         string
	ShouldChangePassword bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewAccount holds the fields supplied when creating an account.
type NewAccount struct {
	Email                string
	Name                 string
	IsPrivileged         bool
	CredentialHash       string
	StorageLabel         string
	ShouldChangePassword bool
}

// Patch lists the fields to change on an existing account. Nil fields are left as they are.
type Patch struct {
	IsPrivileged   *bool
	CredentialHash *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.IsPrivileged == nil && p.CredentialHash == nil
}

// Store persists accounts. Implementations guarantee that at most one
// account exists per email, compared case-insensitively.
type Store interface {
	// FindByEmail returns the account with the given email, or nil and no
	// error when there is none.
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, account NewAccount) (*Account, error)
	Update(ctx context.Context, id string, patch Patch) (*Account, error)
}

// NormalizeEmail returns the key used for email uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
