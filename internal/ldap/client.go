package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// searchBufferSize is the number of entries go-ldap may read ahead of the consumer.
const searchBufferSize = 64

type dialFunc func(ctx context.Context, cfg *ConnectionConfig) (conn, error)

// Session is a single authenticated connection to the directory. It is
// created once by the caller, dialed lazily by the first Bind, and reused
// by subsequent runs. All methods are safe for concurrent use.
type Session struct {
	config *ConnectionConfig
	dial   dialFunc

	mu    sync.Mutex
	conn  conn
	bound bool
}

var _ DirectoryClient = (*Session)(nil)

// NewSession validates config and returns an unbound session.
func NewSession(config *ConnectionConfig) (*Session, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Session{
		config: config,
		dial:   dialServer,
	}, nil
}

// Bind establishes the authenticated session. When the session is already
// bound on a live connection it returns immediately without contacting the
// server. A failed bind leaves the session unbound so a later call can retry.
func (s *Session) Bind(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bound && s.conn != nil && !s.conn.IsClosing() {
		LogConnectionEvent(ctx, "connection_reused", map[string]any{"url": s.config.URL})
		return nil
	}

	if err := ctx.Err(); err != nil {
		return NewLDAPError("bind", err)
	}

	s.resetLocked()

	fields := map[string]any{
		"url":         s.config.URL,
		"bind_dn":     creds.Username,
		"auth_method": s.config.GetAuthMethod().String(),
	}

	LogConnectionEvent(ctx, "connection_attempt", fields)

	c, err := s.dial(ctx, s.config)
	if err != nil {
		LogConnectionEvent(ctx, "connection_failed", fields)
		return NewLDAPError("connect", err)
	}

	err = LogOperation(ctx, "bind", map[string]any{"bind_dn": creds.Username}, func() error {
		return s.authenticate(ctx, c, creds)
	})
	if err != nil {
		_ = c.Close()
		fields["error"] = err.Error()
		if IsConnectionError(err) {
			LogConnectionEvent(ctx, "connection_lost", fields)
		} else {
			LogConnectionEvent(ctx, "authentication_failed", fields)
		}
		ldapErr := NewLDAPError("bind", err)
		ldapErr.DN = creds.Username
		return ldapErr
	}

	s.conn = c
	s.bound = true

	LogConnectionEvent(ctx, "authentication_success", fields)
	return nil
}

func (s *Session) authenticate(ctx context.Context, c conn, creds Credentials) error {
	switch method := s.config.GetAuthMethod(); method {
	case AuthMethodSimpleBind:
		if creds.Username == "" {
			return errors.New("bind DN is required for simple bind")
		}
		if creds.Password == "" {
			return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("empty password"))
		}
		return c.Bind(creds.Username, creds.Password)
	case AuthMethodKerberos:
		return kerberosBind(ctx, c, s.config, creds)
	default:
		return fmt.Errorf("unsupported authentication method: %s", method)
	}
}

// Search starts a subtree search. Entries are read from the server as the
// returned stream is consumed.
func (s *Session) Search(ctx context.Context, req SearchRequest) (*EntryStream, error) {
	c, err := s.boundConn()
	if err != nil {
		return nil, NewLDAPError("search", err)
	}

	baseDN := req.BaseDN
	if baseDN == "" {
		baseDN = s.config.BaseDN
	}

	filter := req.Filter
	if filter == "" {
		filter = "(objectClass=*)"
	}
	if _, err := ldap.CompileFilter(filter); err != nil {
		return nil, NewLDAPError("search", err)
	}

	timeLimit := req.TimeLimit
	if timeLimit == 0 {
		timeLimit = s.config.Timeout
	}

	searchReq := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		req.SizeLimit,
		int(timeLimit.Seconds()),
		false,
		filter,
		req.Attributes,
		nil,
	)

	tflog.SubsystemDebug(ctx, Subsystem, "Starting search", map[string]any{
		"base_dn":    baseDN,
		"filter":     filter,
		"attributes": req.Attributes,
		"size_limit": req.SizeLimit,
	})

	return NewEntryStream(c.SearchAsync(ctx, searchReq, searchBufferSize), baseDN), nil
}

// CheckMembership reports whether subjectDN is listed as a member of the
// groupOfNames named group. Errors are logged and reported as false.
func (s *Session) CheckMembership(ctx context.Context, subjectDN, group string) bool {
	filter := MembershipFilter(subjectDN, group)

	stream, err := s.Search(ctx, SearchRequest{
		BaseDN:     s.config.GetMembershipBaseDN(),
		Filter:     filter,
		Attributes: []string{"cn"},
		SizeLimit:  1,
	})
	if err != nil {
		LogLDAPError(ctx, "check_membership", err, map[string]any{"subject_dn": subjectDN, "group": group})
		return false
	}

	found := stream.Next()
	// Drain so the server-side operation completes.
	for stream.Next() {
	}
	// SizeLimit 1 may end a matching search with sizeLimitExceeded; any
	// other error means the answer is unknown.
	if err := stream.Err(); err != nil && !(found && hasResultCode(err, ldap.LDAPResultSizeLimitExceeded)) {
		LogLDAPError(ctx, "check_membership", err, map[string]any{"subject_dn": subjectDN, "group": group})
		found = false
	}

	tflog.SubsystemTrace(ctx, Subsystem, "Membership checked", map[string]any{
		"subject_dn": subjectDN,
		"group":      group,
		"member":     found,
	})

	return found
}

func hasResultCode(err error, code uint16) bool {
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.LDAPCode == code
	}
	var resultErr *ldap.Error
	return errors.As(err, &resultErr) && resultErr.ResultCode == code
}

// MembershipFilter builds the groupOfNames membership filter with escaped values.
func MembershipFilter(subjectDN, group string) string {
	return fmt.Sprintf("(&(objectClass=groupOfNames)(cn=%s)(member=%s))",
		ldap.EscapeFilter(group), ldap.EscapeFilter(subjectDN))
}

// Close releases the underlying connection. The session may be bound again afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.bound = false
	return err
}

// IsBound reports whether the session holds a live, authenticated connection.
func (s *Session) IsBound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound && s.conn != nil && !s.conn.IsClosing()
}

func (s *Session) boundConn() (conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bound || s.conn == nil {
		return nil, ErrNotBound
	}
	if s.conn.IsClosing() {
		s.resetLocked()
		return nil, errors.New("connection closed")
	}
	return s.conn, nil
}

func (s *Session) resetLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.bound = false
}

// dialServer connects to the configured URL, upgrading with StartTLS when requested.
func dialServer(ctx context.Context, cfg *ConnectionConfig) (conn, error) {
	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	c, err := ldap.DialURL(cfg.URL, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	if cfg.StartTLS && strings.HasPrefix(strings.ToLower(cfg.URL), "ldap://") {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("StartTLS failed for %s: %w", cfg.URL, err)
		}
	}

	c.SetTimeout(cfg.Timeout)

	LogConnectionEvent(ctx, "connection_established", map[string]any{"url": cfg.URL, "start_tls": cfg.StartTLS})
	return c, nil
}

func buildTLSConfig(cfg *ConnectionConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.SkipTLSVerify, //nolint:gosec // operator opt-in
	}

	if parsed, err := url.Parse(cfg.URL); err == nil {
		tlsConfig.ServerName = parsed.Hostname()
	}

	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.URL == "" {
		return errors.New("URL is required")
	}

	parsed, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "ldap", "ldaps":
	default:
		return fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	if config.StartTLS && strings.EqualFold(parsed.Scheme, "ldaps") {
		return errors.New("StartTLS cannot be combined with an ldaps:// URL")
	}

	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	return nil
}
