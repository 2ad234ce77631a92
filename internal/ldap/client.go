package ldap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-user-provider/internal/logging"
)

// client implements the Client interface.
type client struct {
	pool   ConnectionPool
	config *ConnectionConfig
	logger logging.Logger
}

// NewClient creates a new LDAP client with connection pooling.
func NewClient(ctx context.Context, config *ConnectionConfig, logger logging.Logger, opts ...PoolOption) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNull()
	}

	logger.Debug("Creating new LDAP client", map[string]any{
		"domain":          config.Domain,
		"ldap_urls_count": len(config.LDAPURLs),
		"auth_method":     config.GetAuthMethod().String(),
		"use_tls":         config.UseTLS,
		"max_connections": config.MaxConnections,
	})

	pool, err := NewConnectionPool(ctx, config, logger, opts...)
	if err != nil {
		logger.Error("Failed to create connection pool", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &client{
		pool:   pool,
		config: config,
		logger: logger,
	}, nil
}

// Connect checks that a connection can be opened and the root DSE read.
func (c *client) Connect(ctx context.Context) error {
	return logging.LogOperation(c.logger, "connection_test", map[string]any{
		"domain": c.config.Domain,
	}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		defer conn.Close()

		if _, err := conn.conn.Search(rootDSERequest()); err != nil {
			conn.MarkUnhealthy()
			return WrapError("connection_test", err)
		}
		return nil
	})
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// Session checks out a connection.
func (c *client) Session(ctx context.Context) (Session, error) {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return &session{
		conn:   conn,
		config: c.config,
		logger: c.logger,
	}, nil
}

// Ping authenticates with the configured identity and reads the root DSE.
// Dial failures are already retried by the pool, so Ping makes one attempt.
func (c *client) Ping(ctx context.Context) error {
	s, err := c.Session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.BindWithConfig(ctx); err != nil {
		return err
	}

	_, err = s.Search(ctx, &SearchRequest{
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"namingContexts"},
		SizeLimit:  1,
		TimeLimit:  5 * time.Second,
	})
	return err
}

// Stats returns pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// session implements Session over one pooled connection.
type session struct {
	conn   *PooledConnection
	config *ConnectionConfig
	logger logging.Logger
	closed bool
}

func (s *session) Bind(ctx context.Context, username, password string) error {
	if err := s.usable(ctx); err != nil {
		return err
	}

	var err error
	if username == "" && password == "" {
		err = s.conn.conn.UnauthenticatedBind("")
	} else {
		err = s.conn.conn.Bind(username, password)
	}

	if err != nil {
		s.release(err)
		LogLDAPError(s.logger, "bind", err, map[string]any{"bind_dn": username})
		ldapErr := NewLDAPError("bind", err)
		ldapErr.DN = username
		return ldapErr
	}

	return nil
}

func (s *session) BindWithConfig(ctx context.Context) error {
	authMethod := s.config.GetAuthMethod()

	return logging.LogOperation(s.logger, "authentication", map[string]any{
		"auth_method": authMethod.String(),
		"server":      ServerInfoToURL(s.conn.serverInfo),
	}, func() error {
		switch authMethod {
		case AuthMethodSimpleBind:
			return s.Bind(ctx, s.config.Username, s.config.Password)
		case AuthMethodKerberos:
			if err := s.usable(ctx); err != nil {
				return err
			}
			if err := performKerberosAuth(s.conn.conn, s.config, s.conn.serverInfo); err != nil {
				s.release(err)
				return WrapError("kerberos bind", err)
			}
			return nil
		default:
			// Anonymous, or EXTERNAL where the TLS client certificate
			// already identifies us.
			return s.Bind(ctx, "", "")
		}
	})
}

func (s *session) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}
	if err := s.usable(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"size_limit": req.SizeLimit,
	}

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		nil,
	)

	result, err := s.conn.conn.Search(ldapReq)

	// A size-limited search still returns the entries collected so far.
	sizeLimited := err != nil && ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded)
	if err != nil && !sizeLimited {
		s.release(err)
		fields["duration_ms"] = time.Since(start).Milliseconds()
		LogLDAPError(s.logger, "search", err, fields)
		return nil, WrapError("search", err)
	}

	var entries []*ldap.Entry
	if result != nil {
		entries = result.Entries
	}

	hasMore := sizeLimited || (req.SizeLimit > 0 && len(entries) >= req.SizeLimit)

	fields["entries_found"] = len(entries)
	fields["has_more"] = hasMore
	fields["duration_ms"] = time.Since(start).Milliseconds()
	s.logger.Trace("Search operation completed", fields)

	return &SearchResult{
		Entries: entries,
		Total:   len(entries),
		HasMore: hasMore,
	}, nil
}

// Close returns the connection to the pool. It is safe to call twice.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.Close()
	return nil
}

func (s *session) usable(ctx context.Context) error {
	if s.closed {
		return errors.New("session is closed")
	}
	return ctx.Err()
}

// release marks the connection unusable after a transport failure so the
// pool does not hand it out again.
func (s *session) release(err error) {
	if IsConnectionError(err) || s.conn.conn.IsClosing() {
		s.conn.MarkUnhealthy()
	}
}
