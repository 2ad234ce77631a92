package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	ldapclient "github.com/isometry/ldap-user-provider/internal/ldap"
	"github.com/isometry/ldap-user-provider/internal/logging"
)

// searchSizeLimit is the smallest limit that still detects an ambiguous
// match.
const searchSizeLimit = 2

// Lookup resolves usernames to directory entries with one bind and one
// search per call. It is safe for concurrent use.
type Lookup struct {
	client   ldapclient.Client
	config   Config
	template string
	logger   logging.Logger
}

// NewLookup validates config and returns a Lookup using client.
func NewLookup(client ldapclient.Client, config Config, logger logging.Logger) (*Lookup, error) {
	if client == nil {
		return nil, errors.New("directory client is required")
	}
	if logger == nil {
		logger = logging.NewNull()
	}

	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid directory configuration: %w", err)
	}

	return &Lookup{
		client:   client,
		config:   config,
		template: config.searchTemplate(),
		logger:   logger,
	}, nil
}

// Filter returns the search filter for username.
func (l *Lookup) Filter(username string) string {
	escaped := ldapclient.Escape(username, "", ldapclient.EscapeFilter)
	return strings.ReplaceAll(l.template, usernamePlaceholder, escaped)
}

// Resolve returns the single entry matching username. Every failure matches
// ErrNotFound.
func (l *Lookup) Resolve(ctx context.Context, username string) (*Entry, error) {
	start := time.Now()
	fields := map[string]any{
		"username": username,
		"base_dn":  l.config.BaseDN,
	}

	entry, err := l.resolve(ctx, username)

	fields["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		var lookupErr *LookupError
		if errors.As(err, &lookupErr) {
			fields["reason"] = lookupErr.Reason.String()
		}
		fields["error"] = err.Error()
		l.logger.Debug("Directory lookup failed", fields)
		return nil, err
	}

	fields["dn"] = entry.DN
	l.logger.Debug("Directory lookup succeeded", fields)
	return entry, nil
}

func (l *Lookup) resolve(ctx context.Context, username string) (*Entry, error) {
	// An empty value would turn the equality filter into a presence-like
	// match on some servers.
	if username == "" {
		return nil, &LookupError{Reason: ReasonNoMatch, Username: username}
	}

	session, err := l.client.Session(ctx)
	if err != nil {
		return nil, &LookupError{Reason: ReasonConnectionFailed, Username: username, Cause: err}
	}
	defer session.Close()

	if err := l.bind(ctx, session); err != nil {
		return nil, &LookupError{Reason: ReasonConnectionFailed, Username: username, Cause: err}
	}

	result, err := session.Search(ctx, &ldapclient.SearchRequest{
		BaseDN:     l.config.BaseDN,
		Scope:      ldapclient.ScopeWholeSubtree,
		Filter:     l.Filter(username),
		Attributes: append(slices.Clone(Attributes), ldapclient.AttributeObjectSID),
		SizeLimit:  searchSizeLimit,
	})
	if err != nil {
		return nil, &LookupError{Reason: ReasonConnectionFailed, Username: username, Cause: err}
	}

	switch {
	case len(result.Entries) == 0:
		return nil, &LookupError{Reason: ReasonNoMatch, Username: username}
	case len(result.Entries) > 1 || result.HasMore:
		return nil, &LookupError{Reason: ReasonAmbiguous, Username: username}
	}

	// A followed referral can return an entry from another naming context.
	raw := result.Entries[0]
	if within, err := ldapclient.IsWithinBase(raw.DN, l.config.BaseDN); err != nil || !within {
		if err == nil {
			err = fmt.Errorf("entry %q is outside %q", raw.DN, l.config.BaseDN)
		}
		return nil, &LookupError{Reason: ReasonNoMatch, Username: username, Cause: err}
	}

	return newEntry(raw), nil
}

func (l *Lookup) bind(ctx context.Context, session ldapclient.Session) error {
	if l.config.SearchDN == "" {
		return session.BindWithConfig(ctx)
	}
	return session.Bind(ctx, l.config.SearchDN, l.config.SearchPassword)
}
