// Package dirsync runs one directory-to-local-account synchronization.
package dirsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirsync/internal/identity"
	"github.com/isometry/dirsync/internal/ldap"
	"github.com/isometry/dirsync/internal/logging"
	"github.com/isometry/dirsync/internal/membership"
	"github.com/isometry/dirsync/internal/reconcile"
)

// Subsystem is the tflog subsystem used by the runner.
const Subsystem = logging.SubsystemSync

var (
	// ErrBind wraps failures to authenticate to the directory.
	ErrBind = errors.New("directory bind failed")
	// ErrEnumerate wraps failures to list directory entries.
	ErrEnumerate = errors.New("directory enumeration failed")
)

// State is a step of a sync run.
type State int

const (
	StateIdle State = iota
	StateBound
	StateEnumerated
	StateReconciled
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBound:
		return "bound"
	case StateEnumerated:
		return "enumerated"
	case StateReconciled:
		return "reconciled"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Runner.
type Options struct {
	Credentials ldap.Credentials
	BaseDN      string
	Filter      string
	AdminGroup  string
	Mapping     identity.Mapping
	Concurrency int
}

// Runner drives the bind, enumerate, resolve and reconcile sequence.
type Runner struct {
	client    ldap.DirectoryClient
	extractor *identity.Extractor
	resolver  *membership.Resolver
	engine    *reconcile.Engine
	opts      Options

	mu    sync.Mutex
	state State
}

// NewRunner wires a Runner. The client is owned by the caller and may be
// shared between runs.
func NewRunner(client ldap.DirectoryClient, engine *reconcile.Engine, opts Options) *Runner {
	return &Runner{
		client:    client,
		extractor: identity.NewExtractor(opts.Mapping),
		resolver:  membership.NewResolver(client, opts.AdminGroup, opts.Concurrency),
		engine:    engine,
		opts:      opts,
	}
}

// State returns the state reached by the most recent run.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) transition(ctx context.Context, to State, fields map[string]any) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["from"] = from.String()
	fields["to"] = to.String()
	tflog.SubsystemDebug(ctx, Subsystem, "Sync state transition", fields)
}

// Run performs one sync. It returns an outcome only when every identity
// has been considered; bind and enumeration failures return a nil outcome
// and an error wrapping ErrBind or ErrEnumerate and the directory error.
func (r *Runner) Run(ctx context.Context) (*reconcile.Outcome, error) {
	start := time.Now()
	r.transition(ctx, StateIdle, nil)

	tflog.SubsystemInfo(ctx, Subsystem, "Starting directory sync", map[string]any{
		"base_dn":     r.opts.BaseDN,
		"filter":      r.opts.Filter,
		"admin_group": r.opts.AdminGroup,
	})

	if err := r.client.Bind(ctx, r.opts.Credentials); err != nil {
		return r.fail(ctx, fmt.Errorf("%w: %w", ErrBind, err))
	}
	r.transition(ctx, StateBound, nil)

	ids, dropped, err := r.enumerate(ctx)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("%w: %w", ErrEnumerate, err))
	}
	r.transition(ctx, StateEnumerated, map[string]any{"identities": len(ids), "dropped": dropped})

	ids = r.resolver.Resolve(ctx, ids)

	outcome, _ := r.engine.ReconcileAll(ctx, ids)
	r.transition(ctx, StateReconciled, nil)

	r.transition(ctx, StateCompleted, nil)
	tflog.SubsystemInfo(ctx, Subsystem, "Directory sync completed", map[string]any{
		"created":     outcome.Created,
		"updated":     outcome.Updated,
		"skipped":     outcome.Skipped,
		"failed":      len(ids) - outcome.Total(),
		"dropped":     dropped,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &outcome, nil
}

// enumerate drains the search stream, converting entries to identities.
// Malformed entries are logged and counted in dropped.
func (r *Runner) enumerate(ctx context.Context) ([]*identity.DirectoryIdentity, int, error) {
	stream, err := r.client.Search(ctx, ldap.SearchRequest{
		BaseDN:     r.opts.BaseDN,
		Filter:     r.opts.Filter,
		Attributes: r.extractor.Attributes(),
	})
	if err != nil {
		return nil, 0, err
	}

	var ids []*identity.DirectoryIdentity
	dropped := 0
	for stream.Next() {
		id, err := r.extractor.Extract(stream.Entry())
		if err != nil {
			dropped++
			tflog.SubsystemWarn(ctx, Subsystem, "Dropping directory entry", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		ids = append(ids, id)
	}
	if err := stream.Err(); err != nil {
		return nil, dropped, err
	}

	tflog.SubsystemInfo(ctx, Subsystem, "Enumerated directory identities", map[string]any{
		"identities": len(ids),
		"dropped":    dropped,
	})

	return ids, dropped, nil
}

func (r *Runner) fail(ctx context.Context, err error) (*reconcile.Outcome, error) {
	r.transition(ctx, StateFailed, nil)
	tflog.SubsystemError(ctx, Subsystem, "Directory sync failed", map[string]any{
		"error":          err.Error(),
		"error_category": string(ldap.GetErrorCategory(err)),
	})
	return nil, err
}
