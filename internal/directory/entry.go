package directory

import (
	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/ldap-user-provider/internal/ldap"
)

// Attribute keys of a resolved Entry.
const (
	AttrCN             = "cn"
	AttrSN             = "sn"
	AttrGivenName      = "givenname"
	AttrDN             = "dn"
	AttrDisplayName    = "displayname"
	AttrCompany        = "company"
	AttrSAMAccountName = "samaccountname"
	AttrMail           = "mail"
)

// Attributes lists the keys every Entry carries, in request order.
var Attributes = []string{
	AttrCN,
	AttrSN,
	AttrGivenName,
	AttrDN,
	AttrDisplayName,
	AttrCompany,
	AttrSAMAccountName,
	AttrMail,
}

// Entry is a resolved directory user.
type Entry struct {
	DN         string
	Attributes map[string]string

	// ObjectSID is the entry's security identifier when the server
	// returned one.
	ObjectSID string
}

// Get returns the value of key, or "" when absent.
func (e *Entry) Get(key string) string {
	return e.Attributes[key]
}

// CN returns the entry's common name.
func (e *Entry) CN() string { return e.Get(AttrCN) }

// Mail returns the entry's email address.
func (e *Entry) Mail() string { return e.Get(AttrMail) }

// newEntry flattens a search result entry to the fixed attribute set, taking
// the first value of each attribute. Attribute names match case-insensitively.
func newEntry(raw *ldap.Entry) *Entry {
	entry := &Entry{
		DN:         raw.DN,
		Attributes: make(map[string]string, len(Attributes)),
		ObjectSID:  ldapclient.EntrySID(raw),
	}

	for _, key := range Attributes {
		entry.Attributes[key] = raw.GetEqualFoldAttributeValue(key)
	}

	if entry.Attributes[AttrDN] == "" {
		entry.Attributes[AttrDN] = raw.DN
	}

	return entry
}
