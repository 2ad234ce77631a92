package ldap

import (
	"fmt"
	"os"
	"strings"
)

// runtimeKrb5Conf renders a minimal krb5.conf that discovers KDCs through DNS
// SRV records. domain may be empty, in which case the realm is used.
func runtimeKrb5Conf(realm, domain string) (string, error) {
	if realm == "" {
		return "", fmt.Errorf("kerberos realm is required for auto-discovery")
	}

	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false
    udp_preference_limit = 1

[domain_realm]
    .%[2]s = %[1]s
    %[2]s = %[1]s
`, realm, domain), nil
}

// writeRuntimeKrb5Conf writes runtimeKrb5Conf to a temporary file. The caller
// removes it once the Kerberos client has loaded it.
func writeRuntimeKrb5Conf(realm, domain string) (path string, cleanup func(), err error) {
	content, err := runtimeKrb5Conf(realm, domain)
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp("", "krb5-*.conf")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create runtime krb5.conf: %w", err)
	}

	cleanup = func() { _ = os.Remove(f.Name()) }

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}

	return f.Name(), cleanup, nil
}
