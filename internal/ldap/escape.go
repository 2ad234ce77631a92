package ldap

import (
	"strings"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"
)

// EscapeKind selects the escaping rules applied by Escape.
type EscapeKind int

const (
	// EscapeFilter escapes a value for use in a search filter (RFC 4515).
	EscapeFilter EscapeKind = iota
	// EscapeDN escapes a value for use as an RDN attribute value (RFC 4514).
	EscapeDN
)

func (k EscapeKind) String() string {
	switch k {
	case EscapeFilter:
		return "filter"
	case EscapeDN:
		return "dn"
	default:
		return "unknown"
	}
}

// Escape escapes value for the given context. Characters listed in ignore are
// copied through unescaped.
//
// Filter escaping hex-encodes \ * ( ) NUL and every byte of a non-ASCII
// character, so "a)(uid=*" becomes "a\29\28uid=\2a".
func Escape(value, ignore string, kind EscapeKind) string {
	switch kind {
	case EscapeDN:
		return escapeDN(value, ignore)
	default:
		return escapeFilter(value, ignore)
	}
}

func escapeFilter(value, ignore string) string {
	if ignore == "" {
		return ldap.EscapeFilter(value)
	}

	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); {
		r, size := utf8.DecodeRuneInString(value[i:])
		chunk := value[i : i+size]
		if ignored(ignore, r, size) {
			b.WriteString(chunk)
		} else {
			b.WriteString(ldap.EscapeFilter(chunk))
		}
		i += size
	}
	return b.String()
}

func escapeDN(value, ignore string) string {
	if ignore == "" {
		return EscapeDNValue(value)
	}
	return escapeDNChunks(value, ignore)
}

// EscapeDNValue escapes special characters in a DN attribute value according to RFC 4514.
//
// Examples:
//   - "Doe, John" → "Doe\, John"
//   - " John " → "\ John\ "
//   - "#123" → "\#123"
func EscapeDNValue(value string) string {
	if !NeedsDNEscaping(value) {
		return value
	}
	return escapeDNChunks(value, "")
}

// escapeDNChunks walks value one encoded character at a time so that bytes
// outside valid UTF-8 are copied unchanged.
func escapeDNChunks(value, ignore string) string {
	var b strings.Builder
	b.Grow(len(value) + 10)
	for i := 0; i < len(value); {
		r, size := utf8.DecodeRuneInString(value[i:])
		chunk := value[i : i+size]
		if ignored(ignore, r, size) {
			b.WriteString(chunk)
		} else {
			b.WriteString(escapeDNChunk(chunk, r, i == 0, i+size == len(value)))
		}
		i += size
	}
	return b.String()
}

// ignored reports whether a decoded character is listed in ignore. An
// invalid byte never matches, even when ignore holds U+FFFD.
func ignored(ignore string, r rune, size int) bool {
	if ignore == "" || (r == utf8.RuneError && size == 1) {
		return false
	}
	return strings.ContainsRune(ignore, r)
}

func escapeDNChunk(chunk string, r rune, first, last bool) string {
	switch r {
	case ',', '+', '"', '\\', '<', '>', ';', '=':
		return `\` + chunk
	case '#':
		if first {
			return `\#`
		}
	case ' ':
		if first || last {
			return `\ `
		}
	case 0:
		return `\00`
	}
	return chunk
}

// NeedsDNEscaping checks if a value contains characters that need DN escaping.
func NeedsDNEscaping(value string) bool {
	if value == "" {
		return false
	}

	if value[0] == ' ' || value[len(value)-1] == ' ' || value[0] == '#' {
		return true
	}

	return strings.ContainsAny(value, ",+\"\\<>;=\x00")
}
