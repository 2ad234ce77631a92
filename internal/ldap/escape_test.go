package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscape_Filter(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		ignore   string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "plain username", input: "jdoe", expected: "jdoe"},
		{name: "wildcard", input: "j*", expected: `j\2a`},
		{name: "parentheses", input: "a)(uid=*", expected: `a\29\28uid=\2a`},
		{name: "backslash", input: `dom\user`, expected: `dom\5cuser`},
		{name: "null byte", input: "a\x00b", expected: `a\00b`},
		{name: "non-ascii", input: "é", expected: `\c3\a9`},
		{name: "ignored wildcard", input: "j*(", ignore: "*", expected: `j*\28`},
		{name: "ignore does not affect other runes", input: "é*", ignore: "*", expected: `\c3\a9*`},
		{name: "invalid utf-8", input: "a\xffb", expected: `a\ffb`},
		{name: "invalid utf-8 with ignore", input: "a\xffb", ignore: "-", expected: `a\ffb`},
		{name: "invalid byte never matches replacement char", input: "\xff", ignore: "\uFFFD", expected: `\ff`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Escape(tc.input, tc.ignore, EscapeFilter))
		})
	}
}

func TestEscape_FilterInjection(t *testing.T) {
	payloads := []string{
		"*",
		"admin)(uid=*",
		"*)(|(objectClass=*",
		"x)(&(cn=*)",
		`\2a`,
	}

	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			filter := "(sAMAccountName=" + Escape(payload, "", EscapeFilter) + ")"

			packet, err := ldap.CompileFilter(filter)
			require.NoError(t, err)
			assert.Equal(t, ldap.FilterEqualityMatch, int(packet.Tag), "filter must stay a single equality match")
		})
	}
}

func TestEscape_DN(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		ignore   string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "no escaping needed", input: "John Doe", expected: "John Doe"},
		{name: "comma", input: "Doe, John", expected: `Doe\, John`},
		{name: "plus", input: "a+b", expected: `a\+b`},
		{name: "quote", input: `John "JD" Doe`, expected: `John \"JD\" Doe`},
		{name: "backslash", input: `John\Doe`, expected: `John\\Doe`},
		{name: "angle brackets", input: "John<>Doe", expected: `John\<\>Doe`},
		{name: "semicolon", input: "John;Doe", expected: `John\;Doe`},
		{name: "leading space", input: " John", expected: `\ John`},
		{name: "trailing space", input: "John ", expected: `John\ `},
		{name: "leading hash", input: "#123", expected: `\#123`},
		{name: "inner hash", input: "a#1", expected: "a#1"},
		{name: "null byte", input: "a\x00", expected: `a\00`},
		{name: "ignored comma", input: "Doe, John;", ignore: ",", expected: `Doe, John\;`},
		{name: "invalid utf-8 kept", input: "a\xff,b", expected: "a\xff\\,b"},
		{name: "invalid utf-8 kept with ignore", input: "a\xff,b", ignore: "-", expected: "a\xff\\,b"},
		{name: "trailing space after multibyte", input: "é ", expected: `é\ `},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Escape(tc.input, tc.ignore, EscapeDN))
		})
	}
}

func TestNeedsDNEscaping(t *testing.T) {
	assert.False(t, NeedsDNEscaping(""))
	assert.False(t, NeedsDNEscaping("John Doe"))
	assert.True(t, NeedsDNEscaping(" John"))
	assert.True(t, NeedsDNEscaping("John "))
	assert.True(t, NeedsDNEscaping("#1"))
	assert.True(t, NeedsDNEscaping("a,b"))
	assert.True(t, NeedsDNEscaping("a\x00b"))
}

func TestEscapedDNValueParses(t *testing.T) {
	values := []string{"Doe, John", "#hash", `back\slash`, "a+b;c"}

	for _, value := range values {
		t.Run(value, func(t *testing.T) {
			dn, err := ldap.ParseDN("CN=" + EscapeDNValue(value) + ",DC=example,DC=com")
			require.NoError(t, err)
			require.Len(t, dn.RDNs, 3)
			assert.Equal(t, value, dn.RDNs[0].Attributes[0].Value)
		})
	}
}

func TestEscapeKind_String(t *testing.T) {
	assert.Equal(t, "filter", EscapeFilter.String())
	assert.Equal(t, "dn", EscapeDN.String())
	assert.Equal(t, "unknown", EscapeKind(9).String())
}

func BenchmarkEscapeFilter(b *testing.B) {
	for b.Loop() {
		Escape("admin)(uid=*", "", EscapeFilter)
	}
}
