package identity

import (
	"github.com/bwmarrin/go-objectsid"
	"github.com/google/uuid"
)

const (
	attrEntryUUID  = "entryUUID"
	attrObjectGUID = "objectGUID"
	attrObjectSid  = "objectSid"

	guidLength   = 16
	minSIDLength = 8
)

// objectID returns a stable identifier for log correlation, preferring
// entryUUID (OpenLDAP), then objectGUID and objectSid (Active Directory).
func objectID(attrs attributeMap) string {
	if v := attrs.values(attrEntryUUID); len(v) > 0 {
		return v[0]
	}
	if guid := guidString(attrs.raw(attrObjectGUID)); guid != "" {
		return guid
	}
	return sidString(attrs.raw(attrObjectSid))
}

// guidString converts an Active Directory objectGUID to its canonical text
// form. The first three groups are stored little-endian.
func guidString(b []byte) string {
	if len(b) != guidLength {
		return ""
	}

	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])

	return u.String()
}

// sidString converts a binary objectSid to S-1-... form.
func sidString(b []byte) string {
	if len(b) < minSIDLength || int(b[1]) > (len(b)-minSIDLength)/4 {
		return ""
	}
	return objectsid.Decode(b).String()
}
