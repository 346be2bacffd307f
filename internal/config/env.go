package config

import (
	"strconv"
	"time"
)

type envBinding struct {
	name  string
	apply func(c *Config, value string) error
}

func stringVar(name string, field func(*Config) *string) envBinding {
	return envBinding{name: name, apply: func(c *Config, v string) error {
		*field(c) = v
		return nil
	}}
}

func boolVar(name string, field func(*Config) *bool) envBinding {
	return envBinding{name: name, apply: func(c *Config, v string) error {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = parsed
		return nil
	}}
}

func intVar(name string, field func(*Config) *int) envBinding {
	return envBinding{name: name, apply: func(c *Config, v string) error {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = parsed
		return nil
	}}
}

func durationVar(name string, field func(*Config) *time.Duration) envBinding {
	return envBinding{name: name, apply: func(c *Config, v string) error {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = parsed
		return nil
	}}
}

var envBindings = []envBinding{
	stringVar("LDAP_URL", func(c *Config) *string { return &c.LDAP.URL }),
	stringVar("LDAP_BIND_DN", func(c *Config) *string { return &c.LDAP.BindDN }),
	stringVar("LDAP_BIND_PASSWORD", func(c *Config) *string { return &c.LDAP.BindPassword }),
	stringVar("LDAP_USER_BASE_DN", func(c *Config) *string { return &c.LDAP.UserBaseDN }),
	stringVar("LDAP_USER_FILTER", func(c *Config) *string { return &c.LDAP.UserFilter }),
	stringVar("LDAP_GROUP_BASE_DN", func(c *Config) *string { return &c.LDAP.GroupBaseDN }),
	stringVar("LDAP_ADMIN_GROUP", func(c *Config) *string { return &c.LDAP.AdminGroup }),
	stringVar("LDAP_EMAIL_ATTRIBUTE", func(c *Config) *string { return &c.LDAP.Attributes.Email }),
	stringVar("LDAP_NAME_ATTRIBUTE", func(c *Config) *string { return &c.LDAP.Attributes.Name }),
	stringVar("LDAP_PASSWORD_ATTRIBUTE", func(c *Config) *string { return &c.LDAP.Attributes.Secret }),
	boolVar("LDAP_START_TLS", func(c *Config) *bool { return &c.LDAP.StartTLS }),
	boolVar("LDAP_SKIP_TLS_VERIFY", func(c *Config) *bool { return &c.LDAP.SkipTLSVerify }),
	stringVar("LDAP_CA_CERT_FILE", func(c *Config) *string { return &c.LDAP.CACertFile }),
	durationVar("LDAP_TIMEOUT", func(c *Config) *time.Duration { return &c.LDAP.Timeout }),
	stringVar("LDAP_KERBEROS_REALM", func(c *Config) *string { return &c.LDAP.Kerberos.Realm }),
	stringVar("LDAP_KERBEROS_KEYTAB", func(c *Config) *string { return &c.LDAP.Kerberos.Keytab }),
	stringVar("LDAP_KERBEROS_CONFIG", func(c *Config) *string { return &c.LDAP.Kerberos.Config }),
	stringVar("LDAP_KERBEROS_CCACHE", func(c *Config) *string { return &c.LDAP.Kerberos.CCache }),
	stringVar("LDAP_KERBEROS_SPN", func(c *Config) *string { return &c.LDAP.Kerberos.SPN }),
	intVar("DIRSYNC_HASH_COST", func(c *Config) *int { return &c.Sync.HashCost }),
	intVar("DIRSYNC_MEMBERSHIP_CONCURRENCY", func(c *Config) *int { return &c.Sync.MembershipConcurrency }),
	durationVar("DIRSYNC_TIMEOUT", func(c *Config) *time.Duration { return &c.Sync.Timeout }),
	stringVar("DIRSYNC_STORE", func(c *Config) *string { return &c.Store.Driver }),
	stringVar("DIRSYNC_DATABASE_DSN", func(c *Config) *string { return &c.Store.DSN }),
	boolVar("DIRSYNC_DATABASE_MIGRATE", func(c *Config) *bool { return &c.Store.Migrate }),
	stringVar("DIRSYNC_LOCK_REDIS_ADDR", func(c *Config) *string { return &c.Lock.RedisAddr }),
	stringVar("DIRSYNC_LOCK_REDIS_PASSWORD", func(c *Config) *string { return &c.Lock.RedisPassword }),
	stringVar("DIRSYNC_LOCK_KEY", func(c *Config) *string { return &c.Lock.Key }),
	durationVar("DIRSYNC_LOCK_TTL", func(c *Config) *time.Duration { return &c.Lock.TTL }),
}

// applyEnv overrides fields from set, non-empty environment variables.
// Values that fail to parse are ignored and recorded as warnings.
func applyEnv(c *Config, lookup func(string) (string, bool)) {
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			c.warnf("ignoring %s=%q: %v", b.name, v, err)
		}
	}
}
