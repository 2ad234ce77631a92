package directory

import (
	"errors"
	"fmt"
	"strings"

	ldapclient "github.com/isometry/ldap-user-provider/internal/ldap"
)

const (
	// DefaultUIDKey is the attribute matched against the username.
	DefaultUIDKey = "sAMAccountName"

	// DefaultFilter is the search filter template.
	DefaultFilter = "({uid_key}={username})"

	uidKeyPlaceholder   = "{uid_key}"
	usernamePlaceholder = "{username}"
)

// Config is the fixed configuration of a Lookup.
type Config struct {
	// BaseDN is the root of the search scope.
	BaseDN string `mapstructure:"base_dn"`

	// SearchDN and SearchPassword are the service-account credentials used
	// for the bind. When SearchDN is empty the directory client's own
	// configured identity (Kerberos, EXTERNAL or anonymous) is used.
	SearchDN       string `mapstructure:"search_dn"`
	SearchPassword string `mapstructure:"search_password"`

	UIDKey string `mapstructure:"uid_key" default:"sAMAccountName"`
	Filter string `mapstructure:"filter" default:"({uid_key}={username})"`
}

// Validate checks that the configuration can produce a usable filter and
// search scope.
func (c *Config) Validate() error {
	var errs []error

	if err := ldapclient.ValidateDNSyntax(c.BaseDN); err != nil {
		errs = append(errs, fmt.Errorf("base DN: %w", err))
	}

	if strings.TrimSpace(c.Filter) == "" {
		errs = append(errs, errors.New("filter template is required"))
	} else if !strings.Contains(c.Filter, usernamePlaceholder) {
		errs = append(errs, fmt.Errorf("filter template %q must contain %s", c.Filter, usernamePlaceholder))
	}

	if strings.Contains(c.Filter, uidKeyPlaceholder) && strings.TrimSpace(c.UIDKey) == "" {
		errs = append(errs, errors.New("uid key is required by the filter template"))
	}

	return errors.Join(errs...)
}

// searchTemplate substitutes the uid key, leaving {username} in place.
func (c *Config) searchTemplate() string {
	return strings.ReplaceAll(c.Filter, uidKeyPlaceholder, c.UIDKey)
}

func (c Config) withDefaults() Config {
	if c.UIDKey == "" {
		c.UIDKey = DefaultUIDKey
	}
	if c.Filter == "" {
		c.Filter = DefaultFilter
	}
	return c
}
