// Package reconcile applies directory identities to the local account store.
package reconcile

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirsync/internal/accounts"
	"github.com/isometry/dirsync/internal/identity"
	"github.com/isometry/dirsync/internal/logging"
)

const subsystem = logging.SubsystemSync

// Hasher derives the stored credential hash from a directory secret.
type Hasher interface {
	Hash(secret string, cost int) (string, error)
}

// LabelGenerator produces storage labels for new accounts.
type LabelGenerator interface {
	NewLabel() string
}

// Engine reconciles identities one at a time against a Store.
type Engine struct {
	store  accounts.Store
	hasher Hasher
	labels LabelGenerator
	cost   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithHashCost sets the hashing work factor.
func WithHashCost(cost int) Option {
	return func(e *Engine) {
		e.cost = cost
	}
}

// WithHasher replaces the bcrypt hasher.
func WithHasher(h Hasher) Option {
	return func(e *Engine) {
		e.hasher = h
	}
}

// WithLabelGenerator replaces the UUID label generator.
func WithLabelGenerator(g LabelGenerator) Option {
	return func(e *Engine) {
		e.labels = g
	}
}

// NewEngine returns an Engine writing to store.
func NewEngine(store accounts.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		hasher: BcryptHasher{},
		labels: UUIDLabels{},
		cost:   DefaultHashCost,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile applies a single identity and reports what happened.
//
// Identities without a secret are skipped. Otherwise the secret is hashed
// and the account found by email is updated, or created when absent. The
// hash is refreshed on every run.
func (e *Engine) Reconcile(ctx context.Context, id *identity.DirectoryIdentity) Result {
	res := Result{Email: id.Email}

	if !id.HasSecret() {
		res.Action = ActionSkipped
		tflog.SubsystemDebug(ctx, subsystem, "Skipping identity without credential", map[string]any{
			"email": id.Email,
			"dn":    id.DN,
		})
		return res
	}

	hash, err := e.hasher.Hash(id.Secret, e.cost)
	if err != nil {
		return res.fail(fmt.Errorf("hash credential: %w", err))
	}

	existing, err := e.store.FindByEmail(ctx, id.Email)
	if err != nil {
		return res.fail(fmt.Errorf("look up account: %w", err))
	}

	if existing != nil {
		patch := accounts.Patch{CredentialHash: &hash}
		if existing.IsPrivileged != id.IsPrivileged {
			privileged := id.IsPrivileged
			patch.IsPrivileged = &privileged
		}

		if _, err := e.store.Update(ctx, existing.ID, patch); err != nil {
			return res.fail(fmt.Errorf("update account: %w", err))
		}

		res.Action = ActionUpdated
		res.AccountID = existing.ID
		res.PrivilegeChanged = patch.IsPrivileged != nil
		return res
	}

	created, err := e.store.Create(ctx, accounts.NewAccount{
		Email:                id.Email,
		Name:                 id.DisplayName(),
		IsPrivileged:         id.IsPrivileged,
		CredentialHash:       hash,
		StorageLabel:         e.labels.NewLabel(),
		ShouldChangePassword: false,
	})
	if err != nil {
		return res.fail(fmt.Errorf("create account: %w", err))
	}

	res.Action = ActionCreated
	res.AccountID = created.ID
	return res
}

// ReconcileAll applies identities in order and folds the results into an Outcome.
// Per-identity failures are logged and do not stop the run.
func (e *Engine) ReconcileAll(ctx context.Context, ids []*identity.DirectoryIdentity) (Outcome, []Result) {
	results := make([]Result, 0, len(ids))

	for _, id := range ids {
		res := e.Reconcile(ctx, id)
		if res.Err != nil {
			tflog.SubsystemError(ctx, subsystem, "Failed to reconcile identity", map[string]any{
				"email":     id.Email,
				"dn":        id.DN,
				"object_id": id.ObjectID,
				"error":     res.Err.Error(),
			})
		} else {
			tflog.SubsystemTrace(ctx, subsystem, "Reconciled identity", map[string]any{
				"email":  id.Email,
				"action": res.Action.String(),
			})
		}
		results = append(results, res)
	}

	return Tally(results), results
}
