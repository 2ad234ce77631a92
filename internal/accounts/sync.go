package accounts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/isometry/ldap-user-provider/internal/directory"
	"github.com/isometry/ldap-user-provider/internal/logging"
)

// Synchronizer finds or creates the local record of a directory user.
type Synchronizer struct {
	store        Store
	credentials  CredentialGenerator
	defaultRoles []string
	logger       logging.Logger
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithCredentialGenerator replaces the bcrypt placeholder generator.
func WithCredentialGenerator(g CredentialGenerator) SyncOption {
	return func(s *Synchronizer) {
		s.credentials = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) SyncOption {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// NewSynchronizer returns a Synchronizer that grants defaultRoles to new
// records.
func NewSynchronizer(store Store, defaultRoles []string, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		store:        store,
		credentials:  RandomCredentials{},
		defaultRoles: slices.Clone(defaultRoles),
		logger:       logging.NewNull(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncUser returns the record whose username is exactly cn, creating it from
// entry when it does not exist. Existing records are returned unchanged.
func (s *Synchronizer) SyncUser(ctx context.Context, cn string, entry *directory.Entry) (*User, error) {
	existing, err := s.store.FindByUsername(ctx, cn)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Trace("Local user found", map[string]any{"username": cn})
		return existing, nil
	}

	user, err := s.newUser(cn, entry)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, user); err != nil {
		if !errors.Is(err, ErrDuplicateUser) {
			return nil, err
		}

		// A concurrent first login created it between find and create.
		existing, findErr := s.store.FindByUsername(ctx, cn)
		if findErr != nil || existing == nil {
			return nil, err
		}
		return existing, nil
	}

	s.logger.Info("Created local user", map[string]any{
		"username": user.Username,
		"roles":    strings.Join(user.Roles, ","),
		"dn":       user.DirectoryDN,
	})

	return user, nil
}

func (s *Synchronizer) newUser(cn string, entry *directory.Entry) (*User, error) {
	placeholder, err := s.credentials.Placeholder()
	if err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", cn, err)
	}

	user := &User{
		Username:          cn,
		UsernameCanonical: strings.ToLower(cn),
		Roles:             slices.Clone(s.defaultRoles),
		Enabled:           true,
		Password:          placeholder,
	}

	if entry != nil {
		user.Email = entry.Mail()
		user.EmailCanonical = strings.ToLower(user.Email)
		user.DirectoryDN = entry.DN
		user.DirectorySID = entry.ObjectSID
	}

	if user.Roles == nil {
		user.Roles = []string{}
	}

	return user, nil
}
