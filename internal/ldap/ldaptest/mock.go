// Package ldaptest provides testify mocks of the directory client interfaces.
package ldaptest

import (
	"context"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"

	ldapclient "github.com/isometry/ldap-user-provider/internal/ldap"
)

// MockClient mocks ldapclient.Client.
type MockClient struct {
	mock.Mock
}

var _ ldapclient.Client = (*MockClient)(nil)

func (m *MockClient) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) Close() error {
	return m.Called().Error(0)
}

func (m *MockClient) Session(ctx context.Context) (ldapclient.Session, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.(ldapclient.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) Stats() ldapclient.PoolStats {
	return m.Called().Get(0).(ldapclient.PoolStats)
}

// MockSession mocks ldapclient.Session.
type MockSession struct {
	mock.Mock
}

var _ ldapclient.Session = (*MockSession)(nil)

func (m *MockSession) Bind(ctx context.Context, username, password string) error {
	return m.Called(ctx, username, password).Error(0)
}

func (m *MockSession) BindWithConfig(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) Search(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*ldapclient.SearchResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSession) Close() error {
	return m.Called().Error(0)
}

// Result builds a SearchResult holding entries.
func Result(entries ...*ldap.Entry) *ldapclient.SearchResult {
	return &ldapclient.SearchResult{
		Entries: entries,
		Total:   len(entries),
	}
}

// UserEntry builds a directory user entry with the given attributes.
func UserEntry(dn string, attributes map[string][]string) *ldap.Entry {
	return ldap.NewEntry(dn, attributes)
}

// SessionFor wires client to hand out session, and session to accept Close.
func SessionFor(client *MockClient, session *MockSession) {
	client.On("Session", mock.Anything).Return(session, nil)
	session.On("Close").Return(nil)
}
