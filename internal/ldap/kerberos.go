package ldap

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosSettings is the resolved Kerberos view of a ConnectionConfig.
type kerberosSettings struct {
	principal string
	realm     string
	domain    string
	password  string
	keytab    string
	ccache    string
	krb5conf  string
	spn       string
}

// resolveKerberosSettings derives principal and realm without mutating cfg,
// accepting either a bare principal plus realm or "principal@REALM".
func resolveKerberosSettings(cfg *ConnectionConfig) (*kerberosSettings, error) {
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}

	ks := &kerberosSettings{
		principal: cfg.Username,
		realm:     cfg.KerberosRealm,
		password:  cfg.Password,
		keytab:    cfg.KerberosKeytab,
		ccache:    cfg.KerberosCCache,
		krb5conf:  cfg.KerberosConfig,
		spn:       cfg.KerberosSPN,
		domain:    cfg.Domain,
	}

	if ks.krb5conf == "" {
		ks.krb5conf = defaultKrb5Conf
	}

	if principal, realm, ok := strings.Cut(ks.principal, "@"); ok {
		ks.principal = principal
		if ks.realm == "" {
			ks.realm = realm
		}
	}

	if ks.realm == "" {
		return nil, errors.New("kerberos realm is required (set kerberos.realm or include the realm in the principal)")
	}

	if ks.principal == "" {
		return nil, errors.New("principal is required for Kerberos authentication")
	}

	return ks, nil
}

// performKerberosAuth performs a GSSAPI bind on conn.
func performKerberosAuth(conn Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	ks, err := resolveKerberosSettings(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(ks)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(ks.spn, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// createGSSAPIClient picks credentials in order: explicit credential cache,
// default credential cache, explicit keytab, default keytab, password.
//
// An explicitly configured krb5.conf must exist. When the default one is
// missing a DNS-discovery configuration is generated instead.
func createGSSAPIClient(ks *kerberosSettings) (ldap.GSSAPIClient, error) {
	if !fileExists(ks.krb5conf) {
		if ks.krb5conf != defaultKrb5Conf {
			return nil, fmt.Errorf("kerberos configuration file not found at %s", ks.krb5conf)
		}

		path, cleanup, err := writeRuntimeKrb5Conf(ks.realm, ks.domain)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		runtime := *ks
		runtime.krb5conf = path
		ks = &runtime
	}

	if ks.ccache != "" && fileExists(ks.ccache) {
		return gssapi.NewClientFromCCache(ks.ccache, ks.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if defaultCCache := getDefaultCCachePath(); fileExists(defaultCCache) {
		return gssapi.NewClientFromCCache(defaultCCache, ks.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if ks.keytab != "" && fileExists(ks.keytab) {
		return gssapi.NewClientWithKeytab(ks.principal, ks.realm, ks.keytab, ks.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if defaultKeytab := getDefaultKeytabPath(); fileExists(defaultKeytab) {
		return gssapi.NewClientWithKeytab(ks.principal, ks.realm, defaultKeytab, ks.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	if ks.password != "" {
		return gssapi.NewClientWithPassword(ks.principal, ks.realm, ks.password, ks.krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return nil, errors.New("no suitable credentials found for Kerberos authentication")
}

// buildServicePrincipal returns override when set, otherwise ldap/<host>.
func buildServicePrincipal(override string, serverInfo *ServerInfo) (string, error) {
	if override != "" {
		return override, nil
	}

	if serverInfo == nil || serverInfo.Host == "" {
		return "", errors.New("hostname is required for service principal")
	}

	return "ldap/" + serverInfo.Host, nil
}

func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func getDefaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}
