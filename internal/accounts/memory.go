package accounts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	acct := *m.byID[id]
	return &acct, nil
}

func (m *MemoryStore) Create(ctx context.Context, a NewAccount) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := NormalizeEmail(a.Email)
	if key == "" {
		return nil, fmt.Errorf("create account: email is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[key]; exists {
		return nil, fmt.Errorf("create account %s: %w", a.Email, ErrEmailTaken)
	}

	now := m.now()
	acct := &Account{
		ID:                   uuid.NewString(),
		Email:                strings.TrimSpace(a.Email),
		Name:                 a.Name,
		IsPrivileged:         a.IsPrivileged,
		CredentialHash:       a.CredentialHash,
		StorageLabel:         a.StorageLabel,
		ShouldChangePassword: a.ShouldChangePassword,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	m.byID[acct.ID] = acct
	m.byEmail[key] = acct.ID

	out := *acct
	return &out, nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, patch Patch) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("update account %s: %w", id, ErrNotFound)
	}

	if patch.IsPrivileged != nil {
		acct.IsPrivileged = *patch.IsPrivileged
	}
	if patch.CredentialHash != nil {
		acct.CredentialHash = *patch.CredentialHash
	}
	if !patch.Empty() {
		acct.UpdatedAt = m.now()
	}

	out := *acct
	return &out, nil
}

// Len returns the number of stored accounts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
