package ldap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{Username: "cn=admin,dc=example,dc=org", Password: "adminpassword"}

func TestNewSession(t *testing.T) {
	tests := []struct {
		name    string
		config  *ConnectionConfig
		wantErr bool
	}{
		{
			name:   "nil config uses defaults",
			config: nil,
		},
		{
			name: "ldaps url",
			config: &ConnectionConfig{
				URL:     "ldaps://dc1.example.com:636",
				Timeout: 15 * time.Second,
			},
		},
		{
			name: "plain url with StartTLS",
			config: &ConnectionConfig{
				URL:      "ldap://dc1.example.com:389",
				StartTLS: true,
				Timeout:  15 * time.Second,
			},
		},
		{
			name:    "missing url",
			config:  &ConnectionConfig{Timeout: time.Second},
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			config:  &ConnectionConfig{URL: "http://dc1.example.com", Timeout: time.Second},
			wantErr: true,
		},
		{
			name: "StartTLS on ldaps",
			config: &ConnectionConfig{
				URL:      "ldaps://dc1.example.com:636",
				StartTLS: true,
				Timeout:  time.Second,
			},
			wantErr: true,
		},
		{
			name:    "zero timeout",
			config:  &ConnectionConfig{URL: "ldap://dc1.example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSession(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.False(t, s.IsBound())
		})
	}
}

func TestSession_Bind(t *testing.T) {
	t.Run("second bind reuses the session", func(t *testing.T) {
		fc := &fakeConn{}
		s, dials := newTestSession(fc)

		require.NoError(t, s.Bind(t.Context(), testCreds))
		require.NoError(t, s.Bind(t.Context(), testCreds))

		assert.Equal(t, 1, *dials)
		assert.Equal(t, 1, fc.binds)
		assert.True(t, s.IsBound())
	})

	t.Run("invalid credentials are an authentication error", func(t *testing.T) {
		fc := &fakeConn{bindErr: ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))}
		s, _ := newTestSession(fc)

		err := s.Bind(t.Context(), Credentials{Username: testCreds.Username, Password: "wrong"})
		require.Error(t, err)
		assert.True(t, IsAuthenticationError(err))
		assert.False(t, s.IsBound())
		assert.True(t, fc.closed, "failed connection should be closed")

		var ldapErr *LDAPError
		require.ErrorAs(t, err, &ldapErr)
		assert.Equal(t, "bind", ldapErr.Operation)
		assert.Equal(t, testCreds.Username, ldapErr.DN)
	})

	t.Run("empty password is rejected without contacting the server", func(t *testing.T) {
		fc := &fakeConn{}
		s, _ := newTestSession(fc)

		err := s.Bind(t.Context(), Credentials{Username: testCreds.Username})
		require.Error(t, err)
		assert.True(t, IsAuthenticationError(err))
		assert.Zero(t, fc.binds)
	})

	t.Run("failed bind can be retried", func(t *testing.T) {
		bad := &fakeConn{bindErr: ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))}
		good := &fakeConn{}
		s, dials := newTestSession(bad, good)

		require.Error(t, s.Bind(t.Context(), testCreds))
		require.NoError(t, s.Bind(t.Context(), testCreds))
		assert.Equal(t, 2, *dials)
		assert.True(t, s.IsBound())
	})

	t.Run("closed connection is re-established", func(t *testing.T) {
		first := &fakeConn{}
		second := &fakeConn{}
		s, dials := newTestSession(first, second)

		require.NoError(t, s.Bind(t.Context(), testCreds))
		first.mu.Lock()
		first.closing = true
		first.mu.Unlock()

		require.NoError(t, s.Bind(t.Context(), testCreds))
		assert.Equal(t, 2, *dials)
		assert.Equal(t, 1, second.binds)
	})

	t.Run("concurrent binds dial once", func(t *testing.T) {
		fc := &fakeConn{}
		s, dials := newTestSession(fc)

		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Bind(t.Context(), testCreds))
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, *dials)
		assert.Equal(t, 1, fc.binds)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s, dials := newTestSession(&fakeConn{})
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		require.Error(t, s.Bind(ctx, testCreds))
		assert.Zero(t, *dials)
	})
}

func TestSession_Search(t *testing.T) {
	alice := ldap.NewEntry("uid=alice,ou=users,dc=example,dc=org", map[string][]string{"mail": {"alice@example.org"}})
	bob := ldap.NewEntry("uid=bob,ou=users,dc=example,dc=org", map[string][]string{"mail": {"bob@example.org"}})

	t.Run("requires a bound session", func(t *testing.T) {
		s, _ := newTestSession(&fakeConn{})

		_, err := s.Search(t.Context(), SearchRequest{Filter: "(objectClass=inetOrgPerson)"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotBound)
	})

	t.Run("streams entries in server order", func(t *testing.T) {
		fc := &fakeConn{respond: func(*ldap.SearchRequest) ldap.Response {
			return &fakeResponse{entries: []*ldap.Entry{alice, bob}}
		}}
		s, _ := newTestSession(fc)
		require.NoError(t, s.Bind(t.Context(), testCreds))

		stream, err := s.Search(t.Context(), SearchRequest{Filter: "(objectClass=inetOrgPerson)"})
		require.NoError(t, err)

		var dns []string
		for stream.Next() {
			dns = append(dns, stream.Entry().DN)
		}
		require.NoError(t, stream.Err())
		assert.Equal(t, []string{alice.DN, bob.DN}, dns)
		assert.Equal(t, 2, stream.Count())

		req := fc.searches[0]
		assert.Equal(t, "ou=users,dc=example,dc=org", req.BaseDN)
		assert.Equal(t, ldap.ScopeWholeSubtree, req.Scope)
		assert.Equal(t, "(objectClass=inetOrgPerson)", req.Filter)
	})

	t.Run("invalid filter", func(t *testing.T) {
		fc := &fakeConn{}
		s, _ := newTestSession(fc)
		require.NoError(t, s.Bind(t.Context(), testCreds))

		_, err := s.Search(t.Context(), SearchRequest{Filter: "(objectClass=inetOrgPerson"})
		require.Error(t, err)
		assert.Zero(t, fc.searchCount())
	})

	t.Run("missing base is reported after partial results", func(t *testing.T) {
		fc := &fakeConn{respond: func(*ldap.SearchRequest) ldap.Response {
			return &fakeResponse{
				entries: []*ldap.Entry{alice},
				err:     ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")),
			}
		}}
		s, _ := newTestSession(fc)
		require.NoError(t, s.Bind(t.Context(), testCreds))

		stream, err := s.Search(t.Context(), SearchRequest{BaseDN: "ou=missing,dc=example,dc=org"})
		require.NoError(t, err)

		assert.True(t, stream.Next())
		assert.False(t, stream.Next())
		require.Error(t, stream.Err())
		assert.True(t, IsNotFoundError(stream.Err()))
	})
}

func TestSession_CheckMembership(t *testing.T) {
	group := ldap.NewEntry("cn=admins,ou=users,dc=example,dc=org", map[string][]string{"cn": {"admins"}})

	tests := []struct {
		name     string
		response ldap.Response
		want     bool
	}{
		{
			name:     "member",
			response: &fakeResponse{entries: []*ldap.Entry{group}},
			want:     true,
		},
		{
			name:     "not a member",
			response: &fakeResponse{},
			want:     false,
		},
		{
			name:     "search error",
			response: &fakeResponse{err: ldap.NewError(ldap.LDAPResultBusy, errors.New("busy"))},
			want:     false,
		},
		{
			name: "entry followed by size limit",
			response: &fakeResponse{
				entries: []*ldap.Entry{group},
				err:     ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit")),
			},
			want: true,
		},
		{
			name: "entry followed by time limit",
			response: &fakeResponse{
				entries: []*ldap.Entry{group},
				err:     ldap.NewError(ldap.LDAPResultTimeLimitExceeded, errors.New("time limit")),
			},
			want: false,
		},
		{
			name: "entry followed by busy",
			response: &fakeResponse{
				entries: []*ldap.Entry{group},
				err:     ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")),
			},
			want: false,
		},
		{
			name: "entry followed by network error",
			response: &fakeResponse{
				entries: []*ldap.Entry{group},
				err:     ldap.NewError(ldap.ErrorNetwork, errors.New("connection reset")),
			},
			want: false,
		},
		{
			name:     "size limit without entry",
			response: &fakeResponse{err: ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit"))},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeConn{respond: func(*ldap.SearchRequest) ldap.Response { return tt.response }}
			s, _ := newTestSession(fc)
			require.NoError(t, s.Bind(t.Context(), testCreds))

			got := s.CheckMembership(t.Context(), "uid=alice,ou=users,dc=example,dc=org", "admins")
			assert.Equal(t, tt.want, got)

			require.Len(t, fc.searches, 1)
			req := fc.searches[0]
			assert.Equal(t, "(&(objectClass=groupOfNames)(cn=admins)(member=uid=alice,ou=users,dc=example,dc=org))", req.Filter)
			assert.Equal(t, 1, req.SizeLimit)
			assert.Equal(t, "ou=users,dc=example,dc=org", req.BaseDN)
		})
	}

	t.Run("unbound session is not a member", func(t *testing.T) {
		s, _ := newTestSession(&fakeConn{})
		assert.False(t, s.CheckMembership(t.Context(), "uid=alice,ou=users,dc=example,dc=org", "admins"))
	})

	t.Run("membership base override", func(t *testing.T) {
		fc := &fakeConn{}
		s, _ := newTestSession(fc)
		s.config.MembershipBaseDN = "ou=groups,dc=example,dc=org"
		require.NoError(t, s.Bind(t.Context(), testCreds))

		s.CheckMembership(t.Context(), "uid=alice,ou=users,dc=example,dc=org", "admins")
		assert.Equal(t, "ou=groups,dc=example,dc=org", fc.searches[0].BaseDN)
	})
}

func TestMembershipFilter(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		group   string
		want    string
	}{
		{
			name:    "plain values",
			subject: "uid=bob,ou=users,dc=example,dc=org",
			group:   "admins",
			want:    "(&(objectClass=groupOfNames)(cn=admins)(member=uid=bob,ou=users,dc=example,dc=org))",
		},
		{
			name:    "filter metacharacters are escaped",
			subject: "cn=Smith\\, John (ops)*,dc=example,dc=org",
			group:   "admins*",
			want:    "(&(objectClass=groupOfNames)(cn=admins\\2a)(member=cn=Smith\\5c, John \\28ops\\29\\2a,dc=example,dc=org))",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MembershipFilter(tt.subject, tt.group))
		})
	}
}

func TestSession_Close(t *testing.T) {
	fc := &fakeConn{}
	s, dials := newTestSession(fc)
	require.NoError(t, s.Bind(t.Context(), testCreds))

	require.NoError(t, s.Close())
	assert.True(t, fc.closed)
	assert.False(t, s.IsBound())

	require.NoError(t, s.Close())
	require.NoError(t, s.Bind(t.Context(), testCreds))
	assert.Equal(t, 2, *dials)
}
