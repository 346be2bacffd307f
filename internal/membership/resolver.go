// Package membership marks directory identities that belong to the admin group.
package membership

import (
	"context"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/errgroup"

	"github.com/isometry/dirsync/internal/identity"
	"github.com/isometry/dirsync/internal/logging"
)

// DefaultConcurrency bounds the number of membership checks in flight.
const DefaultConcurrency = 10

// Checker answers single membership questions. Failures must be reported as false.
type Checker interface {
	CheckMembership(ctx context.Context, subjectDN, group string) bool
}

// Resolver fans membership checks out over a batch of identities.
type Resolver struct {
	checker     Checker
	group       string
	concurrency int
}

// NewResolver returns a Resolver checking membership of group.
// A concurrency below one uses DefaultConcurrency.
func NewResolver(checker Checker, group string, concurrency int) *Resolver {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{
		checker:     checker,
		group:       group,
		concurrency: concurrency,
	}
}

// Resolve sets IsPrivileged on every identity and returns once all checks
// have settled. The slice order is unchanged.
func (r *Resolver) Resolve(ctx context.Context, ids []*identity.DirectoryIdentity) []*identity.DirectoryIdentity {
	start := time.Now()

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			id.IsPrivileged = r.checker.CheckMembership(ctx, id.DN, r.group)
			return nil
		})
	}
	_ = g.Wait()

	privileged := 0
	for _, id := range ids {
		if id.IsPrivileged {
			privileged++
		}
	}

	tflog.SubsystemDebug(ctx, logging.SubsystemSync, "Resolved group membership", map[string]any{
		"group":       r.group,
		"identities":  len(ids),
		"privileged":  privileged,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return ids
}
