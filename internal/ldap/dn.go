package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return errors.New("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// IsWithinBase reports whether dn equals base or lies below it. Comparison is
// case-insensitive on attribute types and values.
func IsWithinBase(dn, base string) (bool, error) {
	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return false, fmt.Errorf("invalid DN syntax: %w", err)
	}

	parsedBase, err := ldap.ParseDN(base)
	if err != nil {
		return false, fmt.Errorf("invalid base DN syntax: %w", err)
	}

	return parsedDN.EqualFold(parsedBase) || parsedBase.AncestorOfFold(parsedDN), nil
}
