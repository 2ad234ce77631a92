// Package config loads the ldap-user-provider configuration from a file,
// LUP_ environment variables and command-line flags.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/isometry/ldap-user-provider/internal/directory"
	ldapclient "github.com/isometry/ldap-user-provider/internal/ldap"
	"github.com/isometry/ldap-user-provider/internal/logging"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. LUP_LDAP_BASE_DN.
	EnvPrefix = "LUP"

	configName = "ldap-user-provider"
)

// Config is the complete application configuration.
type Config struct {
	LDAP     LDAPConfig     `mapstructure:"ldap"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// LDAPConfig configures the directory client and the lookup.
type LDAPConfig struct {
	URLs   []string `mapstructure:"urls"`
	Domain string   `mapstructure:"domain"`
	BaseDN string   `mapstructure:"base_dn"`

	SearchDN       string `mapstructure:"search_dn"`
	SearchPassword string `mapstructure:"search_password"`

	UIDKey string `mapstructure:"uid_key" default:"sAMAccountName"`
	Filter string `mapstructure:"filter" default:"({uid_key}={username})"`

	UseTLS        bool   `mapstructure:"use_tls" default:"true"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`
	CACertFile    string `mapstructure:"ca_cert_file"`

	Kerberos KerberosConfig `mapstructure:"kerberos"`

	Timeout        time.Duration `mapstructure:"timeout" default:"30s"`
	MaxConnections int           `mapstructure:"max_connections" default:"10"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time" default:"5m"`
	MaxRetries     int           `mapstructure:"max_retries" default:"0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" default:"500ms"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" default:"30s"`
}

// KerberosConfig enables a GSSAPI service bind when Realm is set.
type KerberosConfig struct {
	Realm  string `mapstructure:"realm"`
	Keytab string `mapstructure:"keytab"`
	Config string `mapstructure:"config"`
	CCache string `mapstructure:"ccache"`
	SPN    string `mapstructure:"spn"`
}

// AccountsConfig configures local record creation.
type AccountsConfig struct {
	DefaultRoles []string `mapstructure:"default_roles" default:"[\"ROLE_USER\"]"`
}

// DatabaseConfig configures the user store.
type DatabaseConfig struct {
	DSN   string `mapstructure:"dsn" default:"file:ldap-user-provider.db"`
	Debug bool   `mapstructure:"debug"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level" default:"info"`
	JSON  bool   `mapstructure:"json"`
}

// Default returns the configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	defaults.MustSet(cfg)
	return cfg
}

// Load reads the configuration. An explicit path must exist; otherwise
// ldap-user-provider.{yaml,toml,json} is looked up in the working directory
// and /etc/ldap-user-provider, and is optional. Environment variables
// override the file, and flags changed on the command line override both.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvs(v, reflect.TypeOf(Config{}), ""); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + configName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, nil
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-json":     "log.json",
	"database-dsn": "database.dsn",
	"ldap-url":     "ldap.urls",
	"base-dn":      "ldap.base_dn",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// bindEnvs registers every mapstructure key so that Unmarshal sees values
// that only exist in the environment.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			if err := bindEnvs(v, field.Type, key); err != nil {
				return err
			}
			continue
		}

		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	var errs []error

	dirCfg := c.DirectoryConfig()
	if err := dirCfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(c.LDAP.URLs) == 0 && c.LDAP.Domain == "" {
		errs = append(errs, errors.New("either ldap.urls or ldap.domain is required"))
	}
	for _, u := range c.LDAP.URLs {
		if _, err := ldapclient.ParseLDAPURL(u); err != nil {
			errs = append(errs, fmt.Errorf("invalid LDAP URL %q: %w", u, err))
		}
	}

	if c.LDAP.Kerberos.Realm == "" && c.LDAP.SearchDN != "" && c.LDAP.SearchPassword == "" {
		errs = append(errs, errors.New("ldap.search_password is required with ldap.search_dn"))
	}

	if c.LDAP.Timeout <= 0 {
		errs = append(errs, errors.New("ldap.timeout must be positive"))
	}
	if c.LDAP.MaxConnections <= 0 || c.LDAP.MaxConnections > ldapclient.MaxConnectionPoolLimit {
		errs = append(errs, fmt.Errorf("ldap.max_connections must be between 1 and %d", ldapclient.MaxConnectionPoolLimit))
	}
	if c.LDAP.MaxIdleTime <= 0 {
		errs = append(errs, errors.New("ldap.max_idle_time must be positive"))
	}
	if c.LDAP.MaxRetries < 0 {
		errs = append(errs, errors.New("ldap.max_retries cannot be negative"))
	}
	if c.LDAP.MaxRetries > 0 && (c.LDAP.InitialBackoff <= 0 || c.LDAP.MaxBackoff < c.LDAP.InitialBackoff) {
		errs = append(errs, errors.New("ldap.initial_backoff must be positive and not exceed ldap.max_backoff"))
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("invalid log.level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// ConnectionConfig returns the directory client configuration. The search
// identity doubles as the client identity so that Ping checks the same bind
// the lookup performs; with a Kerberos realm it is the GSSAPI principal.
func (c *Config) ConnectionConfig() *ldapclient.ConnectionConfig {
	cc := ldapclient.DefaultConfig()

	cc.LDAPURLs = c.LDAP.URLs
	cc.Domain = c.LDAP.Domain
	cc.BaseDN = c.LDAP.BaseDN

	cc.KerberosRealm = c.LDAP.Kerberos.Realm
	cc.KerberosKeytab = c.LDAP.Kerberos.Keytab
	cc.KerberosConfig = c.LDAP.Kerberos.Config
	cc.KerberosCCache = c.LDAP.Kerberos.CCache
	cc.KerberosSPN = c.LDAP.Kerberos.SPN
	cc.Username = c.LDAP.SearchDN
	cc.Password = c.LDAP.SearchPassword

	cc.UseTLS = c.LDAP.UseTLS
	cc.TLSCACertFile = c.LDAP.CACertFile
	if c.LDAP.SkipTLSVerify {
		cc.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true,
		}
	}

	cc.Timeout = c.LDAP.Timeout
	cc.MaxConnections = c.LDAP.MaxConnections
	cc.MaxIdleTime = c.LDAP.MaxIdleTime
	cc.MaxRetries = c.LDAP.MaxRetries
	cc.InitialBackoff = c.LDAP.InitialBackoff
	cc.MaxBackoff = c.LDAP.MaxBackoff

	return cc
}

// DirectoryConfig returns the lookup configuration. With Kerberos the lookup
// binds through the client's GSSAPI identity rather than a simple bind.
func (c *Config) DirectoryConfig() directory.Config {
	cfg := directory.Config{
		BaseDN:         c.LDAP.BaseDN,
		SearchDN:       c.LDAP.SearchDN,
		SearchPassword: c.LDAP.SearchPassword,
		UIDKey:         c.LDAP.UIDKey,
		Filter:         c.LDAP.Filter,
	}
	if c.LDAP.Kerberos.Realm != "" {
		cfg.SearchDN = ""
		cfg.SearchPassword = ""
	}
	return cfg
}

// LogOptions returns the logger configuration.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Name:  configName,
		Level: c.Log.Level,
		JSON:  c.Log.JSON,
	}
}
