/*
Package ldap is the directory client used to look users up in LDAP or Active
Directory.

# Connection Management

The Client interface hands out Sessions, each holding one pooled connection:

  - SRV-based server discovery or explicit ldap:// and ldaps:// URLs
  - Connection pooling with idle expiry and periodic health checks
  - StartTLS on plain connections unless TLS is disabled
  - Retry with exponential backoff when no server can be reached

A Session binds and then searches on the same connection, so the search runs
with the identity established by the bind. Closing the Session returns the
connection to the pool.

# Authentication

BindWithConfig authenticates with the configured service identity:

  - Simple bind with a DN or UPN and password
  - Kerberos (GSSAPI) using a credential cache, keytab or password
  - Anonymous bind when no identity is configured

# Escaping

Escape protects values that are interpolated into search filters (RFC 4515)
or DNs (RFC 4514).

# Error Handling

Failures are returned as LDAPError values carrying the result code, a
category (connection, authentication, validation, etc.) and whether the
failure is transient.

# Example Usage

	config := ldap.DefaultConfig()
	config.LDAPURLs = []string{"ldaps://dc1.example.com"}
	config.Username = "CN=svc-lookup,OU=Service,DC=example,DC=com"
	config.Password = password

	client, err := ldap.NewClient(ctx, config, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.Session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.BindWithConfig(ctx); err != nil {
		return err
	}
	result, err := session.Search(ctx, &ldap.SearchRequest{
		BaseDN: "DC=example,DC=com",
		Scope:  ldap.ScopeWholeSubtree,
		Filter: "(sAMAccountName=" + ldap.Escape(username, "", ldap.EscapeFilter) + ")",
	})
*/
package ldap
