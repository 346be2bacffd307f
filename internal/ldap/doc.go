/*
Package ldap provides the directory session used by the sync runner.

# Session

A Session wraps one go-ldap connection. It is dialed lazily by the first
Bind and kept for later runs; a second Bind on a live connection is a no-op.
Dial and bind happen under a mutex so concurrent callers never open two
connections. A failed bind leaves the session unbound.

Supported bind methods:

  - Simple bind with a DN and password (default)
  - Kerberos GSSAPI, selected by setting KerberosRealm

# Search

Search returns an EntryStream backed by go-ldap's asynchronous search, so
entries are consumed as the server sends them. The stream can be read once.

CheckMembership runs a size-limited search for a groupOfNames entry listing
the subject as a member. It never returns an error: failures are logged and
read as "not a member".

# Errors

Failures are returned as *LDAPError with a category derived from the LDAP
result code. Use IsAuthenticationError to detect rejected credentials
through any amount of wrapping.

# Logging

All operations log through the tflog "ldap" subsystem. Fields named like
secrets are redacted by SanitizeFields.
*/
package ldap
