package ldap

import (
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
)

// AttributeObjectSID is the Active Directory security identifier attribute.
const AttributeObjectSID = "objectSid"

// DecodeSID converts a binary SID to its S-1-... form. It returns "" when the
// input is not a well-formed SID.
func DecodeSID(binarySID []byte) string {
	// revision, sub-authority count, 6-byte authority, then 4 bytes per sub-authority
	if len(binarySID) < 8 || len(binarySID) != 8+4*int(binarySID[1]) {
		return ""
	}

	return objectsid.Decode(binarySID).String()
}

// EntrySID returns the objectSid of entry in string form, or "" when the
// entry has none. String-valued SIDs, as returned by some proxies, are
// accepted as is.
func EntrySID(entry *ldap.Entry) string {
	if entry == nil {
		return ""
	}

	raw := entry.GetEqualFoldRawAttributeValue(AttributeObjectSID)
	if len(raw) == 0 {
		return ""
	}

	if sid := string(raw); strings.HasPrefix(sid, "S-1-") {
		return sid
	}

	return DecodeSID(raw)
}
