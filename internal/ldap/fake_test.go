package ldap

import (
	"context"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// fakeResponse replays a fixed set of entries followed by an optional error.
type fakeResponse struct {
	entries []*ldap.Entry
	err     error
	idx     int
	cur     *ldap.Entry
}

func (r *fakeResponse) Next() bool {
	if r.idx < len(r.entries) {
		r.cur = r.entries[r.idx]
		r.idx++
		return true
	}
	r.cur = nil
	return false
}

func (r *fakeResponse) Entry() *ldap.Entry { return r.cur }
func (r *fakeResponse) Referral() string { return "" }
func (r *fakeResponse) Controls() []ldap.Control { return nil }

func (r *fakeResponse) Err() error {
	if r.idx < len(r.entries) {
		return nil
	}
	return r.err
}

// fakeConn records binds and searches against an in-memory script.
type fakeConn struct {
	mu       sync.Mutex
	bindErr  error
	binds    int
	closing  bool
	closed   bool
	searches []*ldap.SearchRequest
	respond  func(req *ldap.SearchRequest) ldap.Response
}

func (c *fakeConn) Bind(_, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binds++
	return c.bindErr
}

func (c *fakeConn) GSSAPIBind(_ ldap.GSSAPIClient, _, _ string) error {
	return c.Bind("", "")
}

func (c *fakeConn) SearchAsync(_ context.Context, req *ldap.SearchRequest, _ int) ldap.Response {
	c.mu.Lock()
	c.searches = append(c.searches, req)
	respond := c.respond
	c.mu.Unlock()

	if respond == nil {
		return &fakeResponse{}
	}
	return respond(req)
}

func (c *fakeConn) IsClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing || c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) searchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.searches)
}

// newTestSession returns a session whose dialer hands out the given connections in order.
func newTestSession(conns ...*fakeConn) (*Session, *int) {
	cfg := DefaultConfig()
	s, err := NewSession(cfg)
	if err != nil {
		panic(err)
	}

	var mu sync.Mutex
	dials := 0
	s.dial = func(context.Context, *ConnectionConfig) (conn, error) {
		mu.Lock()
		defer mu.Unlock()
		c := conns[min(dials, len(conns)-1)]
		dials++
		return c, nil
	}
	return s, &dials
}
