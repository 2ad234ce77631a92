// Package provider exposes directory-backed user loading to an
// authentication pipeline.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/isometry/ldap-user-provider/internal/accounts"
	"github.com/isometry/ldap-user-provider/internal/directory"
	"github.com/isometry/ldap-user-provider/internal/logging"
)

// UserClass names the record type this provider loads and refreshes.
const UserClass = "accounts.User"

// Resolver resolves a username to a single directory entry.
type Resolver interface {
	Resolve(ctx context.Context, username string) (*directory.Entry, error)
}

// Syncer finds or creates the local record of a directory entry.
type Syncer interface {
	SyncUser(ctx context.Context, cn string, entry *directory.Entry) (*accounts.User, error)
}

// UserProvider loads users from the directory and keeps a local record of
// each. It is safe for concurrent use.
type UserProvider struct {
	resolver Resolver
	syncer   Syncer
	logger   logging.Logger
}

// NewUserProvider returns a UserProvider. A nil logger discards output.
func NewUserProvider(resolver Resolver, syncer Syncer, logger logging.Logger) *UserProvider {
	if logger == nil {
		logger = logging.NewNull()
	}
	return &UserProvider{
		resolver: resolver,
		syncer:   syncer,
		logger:   logger,
	}
}

// LoadUserByUsername resolves username in the directory and returns the
// matching local record, creating it on first login. Directory failures of
// any kind are reported as ErrUserNotFound.
func (p *UserProvider) LoadUserByUsername(ctx context.Context, username string) (*accounts.User, error) {
	start := time.Now()

	entry, err := p.resolver.Resolve(ctx, username)
	if err != nil {
		fields := map[string]any{
			"username":    username,
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       err.Error(),
		}
		var lookupErr *directory.LookupError
		if errors.As(err, &lookupErr) {
			fields["reason"] = lookupErr.Reason.String()
		}
		p.logger.Info("User not found in directory", fields)

		return nil, &UserNotFoundError{
			Username:  username,
			Ambiguous: directory.IsAmbiguous(err),
			cause:     err,
		}
	}

	// The cn becomes the local username; without one there is nothing to
	// key the record on.
	if entry.CN() == "" {
		p.logger.Warn("Directory entry has no cn", map[string]any{
			"username": username,
			"dn":       entry.DN,
		})
		return nil, &UserNotFoundError{Username: username}
	}

	user, err := p.syncer.SyncUser(ctx, entry.CN(), entry)
	if err != nil {
		p.logger.Error("Failed to synchronize local user", map[string]any{
			"username": username,
			"cn":       entry.CN(),
			"error":    err.Error(),
		})
		return nil, err
	}

	logging.LogPerformance(p.logger, "load_user", time.Since(start), map[string]any{
		"username": user.Username,
	})

	return user, nil
}

// RefreshUser returns user unchanged. Sessions are not re-validated against
// the directory, so role or attribute changes there only take effect on the
// next login of a user without a local record.
func (p *UserProvider) RefreshUser(user *accounts.User) *accounts.User {
	return user
}

// SupportsClass reports whether class names the record type returned by
// LoadUserByUsername.
func (p *UserProvider) SupportsClass(class string) bool {
	return class == UserClass
}
