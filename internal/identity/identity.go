// Package identity turns directory search entries into DirectoryIdentity values.
package identity

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrMalformedEntry marks an entry that cannot become an identity.
var ErrMalformedEntry = errors.New("malformed directory entry")

// DirectoryIdentity is a user record read from the directory.
type DirectoryIdentity struct {
	DN       string // Distinguished name; the subject of membership checks
	ObjectID string // entryUUID, objectGUID or objectSid, for diagnostics only

	Email                 string
	DisplayNameCandidates []string // Values of the name attribute, in directory order
	Secret                string   // Empty when the entry carries no credential

	IsPrivileged bool // Set by membership resolution
}

// HasSecret reports whether the entry carried a credential.
func (d *DirectoryIdentity) HasSecret() bool {
	return d.Secret != ""
}

// DisplayName returns the first name candidate.
func (d *DirectoryIdentity) DisplayName() string {
	if len(d.DisplayNameCandidates) == 0 {
		return ""
	}
	return d.DisplayNameCandidates[0]
}

// Mapping names the directory attributes read for each identity field.
type Mapping struct {
	Email  string `default:"mail" toml:"email"`
	Name   string `default:"cn" toml:"name"`
	Secret string `default:"userPassword" toml:"secret"`
}

// DefaultMapping returns the inetOrgPerson attribute names.
func DefaultMapping() Mapping {
	return Mapping{
		Email:  "mail",
		Name:   "cn",
		Secret: "userPassword",
	}
}

// Extractor converts search entries using an attribute mapping.
type Extractor struct {
	mapping Mapping
}

// NewExtractor returns an Extractor. Empty mapping fields fall back to the defaults.
func NewExtractor(mapping Mapping) *Extractor {
	defaults := DefaultMapping()
	if mapping.Email == "" {
		mapping.Email = defaults.Email
	}
	if mapping.Name == "" {
		mapping.Name = defaults.Name
	}
	if mapping.Secret == "" {
		mapping.Secret = defaults.Secret
	}
	return &Extractor{mapping: mapping}
}

// Attributes returns the attribute list to request when searching. Mapped
// attributes are named explicitly so operational attributes are returned too.
func (x *Extractor) Attributes() []string {
	attrs := []string{"*", attrEntryUUID}
	for _, name := range []string{x.mapping.Email, x.mapping.Name, x.mapping.Secret} {
		if !slices.ContainsFunc(attrs, func(a string) bool { return strings.EqualFold(a, name) }) {
			attrs = append(attrs, name)
		}
	}
	return attrs
}

// Extract builds an identity from entry. Entries without a DN, an email or a
// name are rejected with an error wrapping ErrMalformedEntry.
func (x *Extractor) Extract(entry *ldap.Entry) (*DirectoryIdentity, error) {
	if entry == nil || entry.DN == "" {
		return nil, fmt.Errorf("%w: entry has no DN", ErrMalformedEntry)
	}
	if len(entry.Attributes) == 0 {
		return nil, fmt.Errorf("%w: %s: entry has no attributes", ErrMalformedEntry, entry.DN)
	}

	attrs := flatten(entry)

	emails := attrs.values(x.mapping.Email)
	if len(emails) == 0 {
		return nil, fmt.Errorf("%w: %s: missing %q attribute", ErrMalformedEntry, entry.DN, x.mapping.Email)
	}

	names := attrs.values(x.mapping.Name)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s: missing %q attribute", ErrMalformedEntry, entry.DN, x.mapping.Name)
	}

	id := &DirectoryIdentity{
		DN:                    entry.DN,
		ObjectID:              objectID(attrs),
		Email:                 emails[0],
		DisplayNameCandidates: names,
	}

	if secrets := attrs.values(x.mapping.Secret); len(secrets) > 0 {
		id.Secret = secrets[0]
	}

	return id, nil
}

// attributeMap holds an entry's attributes keyed by lower-cased name.
type attributeMap map[string]*ldap.EntryAttribute

// flatten indexes attributes by name. When a name repeats, the later one wins.
func flatten(entry *ldap.Entry) attributeMap {
	attrs := make(attributeMap, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		if attr == nil {
			continue
		}
		attrs[strings.ToLower(attr.Name)] = attr
	}
	return attrs
}

// values returns the non-empty string values of name.
func (a attributeMap) values(name string) []string {
	attr, ok := a[strings.ToLower(name)]
	if !ok {
		return nil
	}

	values := make([]string, 0, len(attr.Values))
	for _, v := range attr.Values {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

func (a attributeMap) raw(name string) []byte {
	attr, ok := a[strings.ToLower(name)]
	if !ok || len(attr.ByteValues) == 0 {
		return nil
	}
	return attr.ByteValues[0]
}
