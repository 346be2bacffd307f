// Command dirsync performs one directory-to-local-account synchronization and
// prints the outcome counts as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirsync/internal/accounts"
	"github.com/isometry/dirsync/internal/accounts/sqlstore"
	"github.com/isometry/dirsync/internal/config"
	"github.com/isometry/dirsync/internal/dirsync"
	"github.com/isometry/dirsync/internal/ldap"
	"github.com/isometry/dirsync/internal/logging"
	"github.com/isometry/dirsync/internal/reconcile"
	"github.com/isometry/dirsync/internal/runlock"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitAuthFail = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = logging.New(ctx)

	err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dirsync: %v\n", err)
	}
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case ldap.IsAuthenticationError(err):
		return exitAuthFail
	default:
		return exitFailure
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("dirsync", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("DIRSYNC_CONFIG"), "path to a TOML config file")
	timeout := fs.Duration("timeout", 0, "overall run timeout (overrides sync.timeout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings {
		tflog.Warn(ctx, "Configuration value ignored", map[string]any{"warning": w})
	}
	if *timeout > 0 {
		cfg.Sync.Timeout = *timeout
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Sync.Timeout)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := openLocker(ctx, cfg.Lock)
	if err != nil {
		return err
	}
	defer closeLocker()

	release, err := locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			tflog.Warn(ctx, "Failed to release run lock", map[string]any{"error": err.Error()})
		}
	}()

	session, err := ldap.NewSession(cfg.Connection())
	if err != nil {
		return err
	}
	defer session.Close()

	engine := reconcile.NewEngine(store, reconcile.WithHashCost(cfg.Sync.HashCost))
	runner := dirsync.NewRunner(session, engine, cfg.RunnerOptions())

	tflog.Info(ctx, "Configured directory sync", map[string]any{
		"ldap_url": cfg.LDAP.URL,
		"base_dn":  cfg.LDAP.UserBaseDN,
		"store":    cfg.Store.Driver,
	})

	outcome, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	return enc.Encode(outcome)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (accounts.Store, func(), error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return accounts.NewMemoryStore(), func() {}, nil
	case config.StorePostgres, config.StoreMySQL:
		store, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Driver), cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Migrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, nil, err
			}
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, errors.New("unsupported store driver " + cfg.Driver)
	}
}

func openLocker(ctx context.Context, cfg config.LockConfig) (runlock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return runlock.Noop{}, func() {}, nil
	}

	client, err := runlock.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, nil, err
	}
	return runlock.NewRedisLocker(client, cfg.Key, cfg.TTL), func() { _ = client.Close() }, nil
}
