// Package logging sets up the structured root logger and the ldap and sync
// subsystems used throughout dirsync.
package logging

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
)

const (
	LogName = "dirsync"

	// EnvLevel sets the root level. Subsystem levels are read from
	// EnvLevel suffixed with the upper-cased subsystem name.
	EnvLevel = "DIRSYNC_LOG"

	SubsystemLDAP = "ldap"
	SubsystemSync = "sync"
)

// DefaultLevel applies when EnvLevel is unset or invalid.
var DefaultLevel = hclog.Info

// sensitiveKeys are masked in every log line regardless of subsystem.
var sensitiveKeys = []string{"password", "bind_password", "secret", "credential_hash", "dsn"}

// New returns a context carrying a stderr root logger plus the ldap and sync
// subsystems.
func New(ctx context.Context) context.Context {
	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName(LogName),
		tfsdklog.WithLevel(rootLevel()),
		tfsdklog.WithoutLocation(),
	)
	return WithSubsystems(ctx)
}

// WithSubsystems registers the ldap and sync subsystems on an existing root
// logger and masks sensitive field values on all of them. A subsystem without
// its own level variable inherits the root level.
func WithSubsystems(ctx context.Context) context.Context {
	ctx = tflog.NewSubsystem(ctx, SubsystemLDAP, tflog.WithLevelFromEnv(EnvLevel, SubsystemLDAP))
	ctx = tflog.NewSubsystem(ctx, SubsystemSync, tflog.WithLevelFromEnv(EnvLevel, SubsystemSync))

	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, sensitiveKeys...)
	ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, SubsystemLDAP, sensitiveKeys...)
	ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, SubsystemSync, sensitiveKeys...)

	return ctx
}

func rootLevel() hclog.Level {
	if level := hclog.LevelFromString(os.Getenv(EnvLevel)); level != hclog.NoLevel {
		return level
	}
	return DefaultLevel
}
