package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirsync/internal/config"
	"github.com/isometry/dirsync/internal/dirsync"
	"github.com/isometry/dirsync/internal/ldap"
	"github.com/isometry/dirsync/internal/runlock"
)

func TestExitCode(t *testing.T) {
	authErr := ldap.NewLDAPError("bind", goldap.NewError(goldap.LDAPResultInvalidCredentials, errors.New("invalid credentials")))
	connErr := ldap.NewLDAPError("bind", goldap.NewError(goldap.ErrorNetwork, errors.New("connection refused")))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", want: exitOK},
		{name: "authentication", err: fmt.Errorf("%w: %w", dirsync.ErrBind, authErr), want: exitAuthFail},
		{name: "connection", err: fmt.Errorf("%w: %w", dirsync.ErrBind, connErr), want: exitFailure},
		{name: "other", err: errors.New("boom"), want: exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestRun_UnreachableDirectory(t *testing.T) {
	t.Setenv("LDAP_URL", "ldap://127.0.0.1:1")
	t.Setenv("LDAP_TIMEOUT", "1s")
	t.Setenv("DIRSYNC_STORE", "memory")
	t.Setenv("DIRSYNC_LOCK_REDIS_ADDR", "")

	var stdout bytes.Buffer
	err := run(t.Context(), []string{"--timeout", "5s"}, &stdout)

	require.Error(t, err)
	assert.ErrorIs(t, err, dirsync.ErrBind)
	assert.Equal(t, exitFailure, exitCode(err))
	assert.Empty(t, stdout.String(), "no outcome is printed on failure")
}

func TestRun_BadFlags(t *testing.T) {
	var stdout bytes.Buffer
	err := run(t.Context(), []string{"--no-such-flag"}, &stdout)
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	store, closeStore, err := openStore(t.Context(), config.StoreConfig{Driver: config.StoreMemory})
	require.NoError(t, err)
	assert.NotNil(t, store)
	closeStore()

	_, _, err = openStore(t.Context(), config.StoreConfig{Driver: "sqlite"})
	assert.Error(t, err)
}

func TestOpenLocker_DefaultsToNoop(t *testing.T) {
	locker, closeLocker, err := openLocker(t.Context(), config.LockConfig{})
	require.NoError(t, err)
	defer closeLocker()
	assert.IsType(t, runlock.Noop{}, locker)
}
