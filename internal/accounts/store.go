package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrDuplicateUser is returned by Create when the username is taken.
var ErrDuplicateUser = errors.New("user already exists")

// Store persists local user records.
type Store interface {
	// FindByUsername returns the record with exactly this username, or nil
	// when there is none.
	FindByUsername(ctx context.Context, username string) (*User, error)

	Create(ctx context.Context, user *User) error
}

// GormStore is a Store backed by gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wraps an open database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenDatabase opens dsn with the postgres driver for postgres:// URLs and
// key/value DSNs, and with the pure-Go sqlite driver otherwise.
func OpenDatabase(dsn string, debug bool) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database DSN is required")
	}

	level := gormlogger.Silent
	if debug {
		level = gormlogger.Info
	}

	config := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(level),
	}

	var dialector gorm.Dialector
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.HasPrefix(dsn, "host=")
}

// Migrate creates or updates the users table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&User{}); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	return nil
}

func (s *GormStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	// Some collations compare case-insensitively; the match must be exact.
	err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %q: %w", username, err)
	}
	if user.Username != username {
		return nil, nil
	}
	return &user, nil
}

func (s *GormStore) Create(ctx context.Context, user *User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, user.Username)
	}
	if err != nil {
		return fmt.Errorf("failed to create user %q: %w", user.Username, err)
	}
	return nil
}
