package ldap

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-user-provider/internal/logging"
)

func TestLogLDAPError(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Options{Level: "debug", JSON: true, Output: &buf})

	err := ldap.NewError(ldap.LDAPResultInvalidCredentials, assert.AnError)
	LogLDAPError(logger, "bind", err, map[string]any{
		"bind_dn":  "CN=svc,DC=example,DC=com",
		"password": "hunter2",
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "LDAP operation failed", line["@message"])
	assert.Equal(t, "bind", line["operation"])
	assert.Equal(t, "authentication", line["category"])
	assert.EqualValues(t, ldap.LDAPResultInvalidCredentials, line["ldap_result_code"])
	assert.Equal(t, "CN=svc,DC=example,DC=com", line["bind_dn"])
	assert.Equal(t, "[REDACTED]", line["password"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestLogLDAPError_DoesNotMutateFields(t *testing.T) {
	fields := map[string]any{"base_dn": "DC=example,DC=com"}
	LogLDAPError(logging.NewNull(), "search", assert.AnError, fields)

	assert.Len(t, fields, 1)
}
