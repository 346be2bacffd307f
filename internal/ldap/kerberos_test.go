package ldap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareKerberosCredentials(t *testing.T) {
	tests := []struct {
		name        string
		realm       string
		creds       Credentials
		expectError bool
		wantUser    string
	}{
		{
			name:     "bare user name",
			realm:    "EXAMPLE.COM",
			creds:    Credentials{Username: "svc-sync", Password: "secret"},
			wantUser: "svc-sync",
		},
		{
			name:     "principal with configured realm",
			realm:    "EXAMPLE.COM",
			creds:    Credentials{Username: "svc-sync@EXAMPLE.COM"},
			wantUser: "svc-sync",
		},
		{
			name:     "realm suffix compared case-insensitively",
			realm:    "EXAMPLE.COM",
			creds:    Credentials{Username: "svc-sync@example.com"},
			wantUser: "svc-sync",
		},
		{
			name:        "principal from another realm",
			realm:       "CORP.EXAMPLE.COM",
			creds:       Credentials{Username: "svc-sync@EXAMPLE.COM"},
			expectError: true,
		},
		{
			name:        "no realm",
			creds:       Credentials{Username: "svc-sync@EXAMPLE.COM"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := prepareKerberosCredentials(tt.realm, tt.creds)

			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, creds.Username)
			assert.Equal(t, tt.creds.Password, creds.Password)
		})
	}
}

func TestServicePrincipal(t *testing.T) {
	tests := []struct {
		name        string
		config      *ConnectionConfig
		want        string
		expectError bool
	}{
		{
			name:   "host from url",
			config: &ConnectionConfig{URL: "ldaps://dc1.example.com:636"},
			want:   "ldap/dc1.example.com",
		},
		{
			name:   "explicit override",
			config: &ConnectionConfig{URL: "ldap://10.0.0.5", KerberosSPN: "ldap/dc1.example.com@EXAMPLE.COM"},
			want:   "ldap/dc1.example.com@EXAMPLE.COM",
		},
		{
			name:        "no host",
			config:      &ConnectionConfig{URL: "ldap://"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := servicePrincipal(tt.config)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewGSSAPIClient_MissingKrb5Conf(t *testing.T) {
	cfg := &ConnectionConfig{
		URL:            "ldap://dc1.example.com",
		KerberosRealm:  "EXAMPLE.COM",
		KerberosConfig: filepath.Join(t.TempDir(), "missing.conf"),
	}

	_, err := newGSSAPIClient(t.Context(), cfg, Credentials{Username: "svc-sync", Password: "secret"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kerberos configuration file not found")
}

func TestSession_KerberosBindFailureIsAuthenticationError(t *testing.T) {
	t.Setenv("KRB5CCNAME", filepath.Join(t.TempDir(), "no-ccache"))
	t.Setenv("KRB5_KTNAME", filepath.Join(t.TempDir(), "no-keytab"))

	fc := &fakeConn{}
	s, _ := newTestSession(fc)
	s.config.KerberosRealm = "EXAMPLE.COM"
	s.config.KerberosConfig = filepath.Join(t.TempDir(), "missing.conf")

	err := s.Bind(t.Context(), Credentials{Username: "svc-sync", Password: "secret"})
	require.Error(t, err)
	assert.True(t, IsAuthenticationError(err))
	assert.Zero(t, fc.binds)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "krb5.conf")
	require.NoError(t, os.WriteFile(file, []byte("[libdefaults]\n"), 0o600))

	assert.True(t, fileExists(file))
	assert.False(t, fileExists(dir))
	assert.False(t, fileExists(filepath.Join(dir, "missing")))
	assert.False(t, fileExists(""))
}
