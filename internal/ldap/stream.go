package ldap

import (
	"github.com/go-ldap/ldap/v3"
)

// EntryStream is a finite, non-restartable sequence of search result entries.
//
// Consume it with the usual iterator loop:
//
//	for stream.Next() {
//		entry := stream.Entry()
//	}
//	if err := stream.Err(); err != nil { ... }
//
// Next returns false once the server signals the end of results or an error;
// Err distinguishes the two. Referrals are skipped.
type EntryStream struct {
	resp   ldap.Response
	baseDN string
	entry  *ldap.Entry
	err    error
	done   bool
	count  int
}

// NewEntryStream wraps a go-ldap asynchronous search response.
func NewEntryStream(resp ldap.Response, baseDN string) *EntryStream {
	return &EntryStream{resp: resp, baseDN: baseDN}
}

// Next advances to the next entry.
func (s *EntryStream) Next() bool {
	if s.done {
		return false
	}

	for s.resp.Next() {
		if entry := s.resp.Entry(); entry != nil {
			s.entry = entry
			s.count++
			return true
		}
	}

	s.done = true
	s.entry = nil
	if err := s.resp.Err(); err != nil {
		ldapErr := NewLDAPError("search", err)
		ldapErr.DN = s.baseDN
		s.err = ldapErr
	}
	return false
}

// Entry returns the current entry, or nil before the first Next or after the end.
func (s *EntryStream) Entry() *ldap.Entry {
	return s.entry
}

// Err returns the error that terminated the stream, if any.
func (s *EntryStream) Err() error {
	return s.err
}

// Count returns the number of entries yielded so far.
func (s *EntryStream) Count() int {
	return s.count
}
