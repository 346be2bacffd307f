// Package config loads dirsync settings from defaults, an optional TOML file
// and LDAP_* / DIRSYNC_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"

	"github.com/isometry/dirsync/internal/dirsync"
	"github.com/isometry/dirsync/internal/identity"
	"github.com/isometry/dirsync/internal/ldap"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
)

// Config is the complete runtime configuration.
type Config struct {
	LDAP  LDAPConfig  `toml:"ldap"`
	Sync  SyncConfig  `toml:"sync"`
	Store StoreConfig `toml:"store"`
	Lock  LockConfig  `toml:"lock"`

	// Warnings lists values that were ignored in favour of a default.
	Warnings []string `toml:"-"`
}

type LDAPConfig struct {
	URL           string           `toml:"url" default:"ldap://openldap:1389"`
	BindDN        string           `toml:"bind_dn" default:"cn=admin,dc=example,dc=org"`
	BindPassword  string           `toml:"bind_password" default:"adminpassword"`
	UserBaseDN    string           `toml:"user_base_dn" default:"ou=users,dc=example,dc=org"`
	UserFilter    string           `toml:"user_filter" default:"(objectClass=inetOrgPerson)"`
	GroupBaseDN   string           `toml:"group_base_dn"`
	AdminGroup    string           `toml:"admin_group" default:"admins"`
	Attributes    identity.Mapping `toml:"attributes"`
	StartTLS      bool             `toml:"start_tls"`
	SkipTLSVerify bool             `toml:"skip_tls_verify"`
	CACertFile    string           `toml:"ca_cert_file"`
	Timeout       time.Duration    `toml:"timeout" default:"30s"`
	Kerberos      KerberosConfig   `toml:"kerberos"`
}

type KerberosConfig struct {
	Realm  string `toml:"realm"`
	Keytab string `toml:"keytab"`
	Config string `toml:"config"`
	CCache string `toml:"ccache"`
	SPN    string `toml:"spn"`
}

type SyncConfig struct {
	HashCost              int           `toml:"hash_cost" default:"10"`
	MembershipConcurrency int           `toml:"membership_concurrency" default:"10"`
	Timeout               time.Duration `toml:"timeout" default:"5m"`
}

type StoreConfig struct {
	Driver  string `toml:"driver" default:"memory"`
	DSN     string `toml:"dsn"`
	Migrate bool   `toml:"migrate" default:"true"`
}

// LockConfig enables the Redis run lock when RedisAddr is set.
type LockConfig struct {
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	Key           string        `toml:"key" default:"dirsync:lock"`
	TTL           time.Duration `toml:"ttl" default:"10m"`
}

// Default returns a Config with every default applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration from defaults, the TOML file at path (if
// non-empty) and the process environment.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	applyEnv(cfg, lookup)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize replaces out-of-range values with defaults and rejects settings
// that cannot fall back.
func (c *Config) normalize() error {
	def, err := Default()
	if err != nil {
		return err
	}

	if c.Sync.HashCost < 4 || c.Sync.HashCost > 31 {
		c.warnf("sync.hash_cost %d out of range, using %d", c.Sync.HashCost, def.Sync.HashCost)
		c.Sync.HashCost = def.Sync.HashCost
	}
	if c.Sync.MembershipConcurrency < 1 {
		c.warnf("sync.membership_concurrency %d must be positive, using %d", c.Sync.MembershipConcurrency, def.Sync.MembershipConcurrency)
		c.Sync.MembershipConcurrency = def.Sync.MembershipConcurrency
	}
	if c.Sync.Timeout <= 0 {
		c.Sync.Timeout = def.Sync.Timeout
	}
	if c.LDAP.Timeout <= 0 {
		c.LDAP.Timeout = def.LDAP.Timeout
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = def.Lock.TTL
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres, StoreMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}

	return nil
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// Connection returns the directory session settings.
func (c *Config) Connection() *ldap.ConnectionConfig {
	return &ldap.ConnectionConfig{
		URL:              c.LDAP.URL,
		Timeout:          c.LDAP.Timeout,
		BaseDN:           c.LDAP.UserBaseDN,
		MembershipBaseDN: c.LDAP.GroupBaseDN,
		StartTLS:         c.LDAP.StartTLS,
		SkipTLSVerify:    c.LDAP.SkipTLSVerify,
		CACertFile:       c.LDAP.CACertFile,
		KerberosRealm:    c.LDAP.Kerberos.Realm,
		KerberosKeytab:   c.LDAP.Kerberos.Keytab,
		KerberosConfig:   c.LDAP.Kerberos.Config,
		KerberosCCache:   c.LDAP.Kerberos.CCache,
		KerberosSPN:      c.LDAP.Kerberos.SPN,
	}
}

// RunnerOptions returns the sync runner settings.
func (c *Config) RunnerOptions() dirsync.Options {
	return dirsync.Options{
		Credentials: ldap.Credentials{
			Username: c.LDAP.BindDN,
			Password: c.LDAP.BindPassword,
		},
		BaseDN:      c.LDAP.UserBaseDN,
		Filter:      c.LDAP.UserFilter,
		AdminGroup:  c.LDAP.AdminGroup,
		Mapping:     c.LDAP.Attributes,
		Concurrency: c.Sync.MembershipConcurrency,
	}
}
