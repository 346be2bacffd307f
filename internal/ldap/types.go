package ldap

import (
	"context"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for the directory session.
type ConnectionConfig struct {
	// Connection settings
	URL     string        // ldap:// or ldaps:// URL of the directory server
	Timeout time.Duration // Dial and per-operation timeout

	// Search settings
	BaseDN           string // Base DN for identity enumeration
	MembershipBaseDN string // Base DN for group membership checks (defaults to BaseDN)

	// TLS settings
	StartTLS      bool   // Upgrade plain connections with StartTLS
	SkipTLSVerify bool   // Disable certificate verification (not recommended)
	CACertFile    string // Path to a PEM bundle trusted in addition to system roots

	// Kerberos settings; GSSAPI bind is used when KerberosRealm is set
	KerberosRealm  string // Kerberos realm
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosCCache string // Path to Kerberos credential cache
	KerberosSPN    string // Explicit service principal override
}

// DefaultConfig returns the configuration used when nothing else is supplied.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		URL:     "ldap://openldap:1389",
		BaseDN:  "ou=users,dc=example,dc=org",
		Timeout: 30 * time.Second,
	}
}

// GetAuthMethod returns the bind method implied by the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	if c.KerberosRealm != "" {
		return AuthMethodKerberos
	}
	return AuthMethodSimpleBind
}

// GetMembershipBaseDN returns the base used for membership checks.
func (c *ConnectionConfig) GetMembershipBaseDN() string {
	if c.MembershipBaseDN != "" {
		return c.MembershipBaseDN
	}
	return c.BaseDN
}

// Credentials identify the service account used to bind.
type Credentials struct {
	Username string // Bind DN, or principal name for Kerberos
	Password string
}

// AuthMethod represents the bind mechanism.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota
	AuthMethodKerberos
)

func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple_bind"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// SearchRequest describes a subtree search.
type SearchRequest struct {
	BaseDN     string
	Filter     string
	Attributes []string // Empty requests all user attributes
	SizeLimit  int      // 0 means no client-side limit
	TimeLimit  time.Duration
}

// DirectoryClient is the contract the sync runner depends on.
type DirectoryClient interface {
	// Bind establishes an authenticated session. It is a no-op when the
	// session is already bound.
	Bind(ctx context.Context, creds Credentials) error

	// Search starts a subtree search and returns a lazily consumed stream.
	Search(ctx context.Context, req SearchRequest) (*EntryStream, error)

	// CheckMembership reports whether subjectDN is a member of the
	// groupOfNames whose cn is group. Any failure yields false.
	CheckMembership(ctx context.Context, subjectDN, group string) bool
}

// conn is the subset of *ldap.Conn used by Session.
type conn interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	SearchAsync(ctx context.Context, searchRequest *ldap.SearchRequest, bufferSize int) ldap.Response
	IsClosing() bool
	Close() error
}

var _ conn = (*ldap.Conn)(nil)
