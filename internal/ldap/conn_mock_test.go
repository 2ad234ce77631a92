package ldap

import (
	"context"
	"sync/atomic"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"
)

// MockConn is a testify mock of Conn.
type MockConn struct {
	mock.Mock
	closed atomic.Bool
}

func (m *MockConn) Bind(username, password string) error {
	args := m.Called(username, password)
	return args.Error(0)
}

func (m *MockConn) UnauthenticatedBind(username string) error {
	args := m.Called(username)
	return args.Error(0)
}

func (m *MockConn) GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error {
	args := m.Called(client, servicePrincipal, authzid)
	return args.Error(0)
}

func (m *MockConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ldap.SearchResult), args.Error(1)
}

func (m *MockConn) IsClosing() bool {
	return m.closed.Load()
}

func (m *MockConn) Close() {
	m.closed.Store(true)
}

// dialSequence returns a DialFunc handing out conns in order and counting calls.
func dialSequence(conns ...*MockConn) (DialFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(_ context.Context, _ *ServerInfo) (Conn, error) {
		n := int(calls.Add(1)) - 1
		if n >= len(conns) {
			return nil, ldap.NewError(ldap.ErrorNetwork, errDialExhausted)
		}
		return conns[n], nil
	}, &calls
}

type dialError string

func (e dialError) Error() string { return string(e) }

const errDialExhausted = dialError("connection refused")

func testConfig() *ConnectionConfig {
	cfg := DefaultConfig()
	cfg.LDAPURLs = []string{"ldap://dc1.example.com"}
	cfg.HealthCheck = 0
	cfg.MaxRetries = 0
	return cfg
}
