package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/isometry/ldap-user-provider/internal/directory"
)

var testRoles = []string{"ROLE_USER"}

func testEntry(cn, mail string) *directory.Entry {
	return &directory.Entry{
		DN: "CN=" + cn + ",OU=Users,DC=example,DC=com",
		Attributes: map[string]string{
			directory.AttrCN:   cn,
			directory.AttrMail: mail,
		},
		ObjectSID: "S-1-5-21-1004336348-1177238915-682003330-1105",
	}
}

func newTestSynchronizer(t *testing.T, store Store) *Synchronizer {
	t.Helper()
	return NewSynchronizer(store, testRoles, WithCredentialGenerator(RandomCredentials{Cost: bcrypt.MinCost}))
}

func TestSynchronizer_SyncUser_CreatesWithDefaults(t *testing.T) {
	store := newTestStore(t)
	sync := newTestSynchronizer(t, store)

	user, err := sync.SyncUser(context.Background(), "jdoe", testEntry("jdoe", "J.Doe@EXAMPLE.com"))
	require.NoError(t, err)

	assert.Equal(t, "jdoe", user.Username)
	assert.Equal(t, "jdoe", user.UsernameCanonical)
	assert.Equal(t, "J.Doe@EXAMPLE.com", user.Email)
	assert.Equal(t, "j.doe@example.com", user.EmailCanonical)
	assert.Equal(t, testRoles, user.Roles)
	assert.True(t, user.Enabled)
	assert.Equal(t, "CN=jdoe,OU=Users,DC=example,DC=com", user.DirectoryDN)
	assert.Equal(t, "S-1-5-21-1004336348-1177238915-682003330-1105", user.DirectorySID)

	assert.NotEmpty(t, user.Password)
	assert.NotEqual(t, "jdoe", user.Password)
	_, costErr := bcrypt.Cost([]byte(user.Password))
	assert.NoError(t, costErr, "placeholder must be a bcrypt hash")

	stored, err := store.FindByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, user.ID, stored.ID)
}

func TestSynchronizer_SyncUser_MixedCaseCN(t *testing.T) {
	sync := newTestSynchronizer(t, newTestStore(t))

	user, err := sync.SyncUser(context.Background(), "JDoe", testEntry("JDoe", "JDoe@Example.com"))
	require.NoError(t, err)

	assert.Equal(t, "JDoe", user.Username)
	assert.Equal(t, "jdoe", user.UsernameCanonical)
	assert.Equal(t, "jdoe@example.com", user.EmailCanonical)
}

func TestSynchronizer_SyncUser_Idempotent(t *testing.T) {
	store := newTestStore(t)
	sync := newTestSynchronizer(t, store)
	ctx := context.Background()

	first, err := sync.SyncUser(ctx, "jdoe", testEntry("jdoe", "J.Doe@EXAMPLE.com"))
	require.NoError(t, err)

	// The directory changed, but existing records are not refreshed.
	second, err := NewSynchronizer(store, []string{"ROLE_ADMIN"}).
		SyncUser(ctx, "jdoe", testEntry("jdoe", "john.doe@new.example.com"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Email, second.Email)
	assert.Equal(t, first.Roles, second.Roles)
	assert.Equal(t, first.Enabled, second.Enabled)
	assert.Equal(t, first.Password, second.Password)
}

func TestSynchronizer_SyncUser_UniquePlaceholders(t *testing.T) {
	sync := newTestSynchronizer(t, newTestStore(t))
	ctx := context.Background()

	a, err := sync.SyncUser(ctx, "alice", testEntry("alice", "alice@example.com"))
	require.NoError(t, err)
	b, err := sync.SyncUser(ctx, "bob", testEntry("bob", "bob@example.com"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Password, b.Password)
}

func TestSynchronizer_SyncUser_RolesAreCopied(t *testing.T) {
	roles := []string{"ROLE_USER"}
	sync := NewSynchronizer(newTestStore(t), roles, WithCredentialGenerator(RandomCredentials{Cost: bcrypt.MinCost}))
	roles[0] = "ROLE_ADMIN"

	user, err := sync.SyncUser(context.Background(), "jdoe", testEntry("jdoe", "jdoe@example.com"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ROLE_USER"}, user.Roles)

	user.Roles[0] = "ROLE_CHANGED"
	assert.Equal(t, []string{"ROLE_USER"}, sync.defaultRoles)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	args := m.Called(ctx, username)
	if u := args.Get(0); u != nil {
		return u.(*User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) Create(ctx context.Context, user *User) error {
	return m.Called(ctx, user).Error(0)
}

type staticCredentials string

func (s staticCredentials) Placeholder() (string, error) {
	if s == "" {
		return "", errors.New("entropy exhausted")
	}
	return string(s), nil
}

func TestSynchronizer_SyncUser_ConcurrentCreate(t *testing.T) {
	store := &mockStore{}
	winner := &User{Username: "jdoe", Roles: testRoles, Enabled: true}

	store.On("FindByUsername", mock.Anything, "jdoe").Return(nil, nil).Once()
	store.On("Create", mock.Anything, mock.Anything).Return(ErrDuplicateUser).Once()
	store.On("FindByUsername", mock.Anything, "jdoe").Return(winner, nil).Once()

	sync := NewSynchronizer(store, testRoles, WithCredentialGenerator(staticCredentials("x")))
	user, err := sync.SyncUser(context.Background(), "jdoe", testEntry("jdoe", "jdoe@example.com"))
	require.NoError(t, err)
	assert.Same(t, winner, user)

	store.AssertExpectations(t)
}

func TestSynchronizer_SyncUser_StoreErrors(t *testing.T) {
	storeErr := errors.New("database is locked")

	t.Run("find", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByUsername", mock.Anything, "jdoe").Return(nil, storeErr)

		_, err := NewSynchronizer(store, testRoles).SyncUser(context.Background(), "jdoe", nil)
		require.ErrorIs(t, err, storeErr)
		store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("create", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByUsername", mock.Anything, "jdoe").Return(nil, nil)
		store.On("Create", mock.Anything, mock.Anything).Return(storeErr)

		sync := NewSynchronizer(store, testRoles, WithCredentialGenerator(staticCredentials("x")))
		_, err := sync.SyncUser(context.Background(), "jdoe", testEntry("jdoe", ""))
		require.ErrorIs(t, err, storeErr)
	})

	t.Run("placeholder", func(t *testing.T) {
		store := &mockStore{}
		store.On("FindByUsername", mock.Anything, "jdoe").Return(nil, nil)

		sync := NewSynchronizer(store, testRoles, WithCredentialGenerator(staticCredentials("")))
		_, err := sync.SyncUser(context.Background(), "jdoe", testEntry("jdoe", ""))
		require.Error(t, err)
		store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestRandomCredentials_Placeholder(t *testing.T) {
	gen := RandomCredentials{Cost: bcrypt.MinCost}

	first, err := gen.Placeholder()
	require.NoError(t, err)
	second, err := gen.Placeholder()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	cost, err := bcrypt.Cost([]byte(first))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}
