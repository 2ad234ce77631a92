package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/ldap-user-provider/internal/logging"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
const MaxConnectionPoolLimit = 100

// PoolOption customises a connection pool.
type PoolOption func(*connectionPool)

// WithDialer replaces the network dialer, mainly for tests.
func WithDialer(dial DialFunc) PoolOption {
	return func(p *connectionPool) {
		p.dial = dial
	}
}

// WithDiscovery replaces the SRV discovery used when a domain is configured.
func WithDiscovery(discovery *SRVDiscovery) PoolOption {
	return func(p *connectionPool) {
		p.discovery = discovery
	}
}

// connectionPool implements ConnectionPool.
type connectionPool struct {
	logger      logging.Logger
	config      *ConnectionConfig
	tlsConfig   *tls.Config
	servers     []*ServerInfo
	connections chan *PooledConnection
	mu          sync.RWMutex
	closed      bool
	discovery   *SRVDiscovery
	dial        DialFunc

	// Statistics
	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time

	// Health checking
	healthTicker *time.Ticker
	healthStop   chan struct{}
	healthWg     sync.WaitGroup
}

// NewConnectionPool discovers servers and returns a pool ready to hand out
// connections. No connection is opened until the first Get.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig, logger logging.Logger, opts ...PoolOption) (ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tlsConfig, err := buildTLSConfig(config)
	if err != nil {
		return nil, err
	}

	pool := &connectionPool{
		logger:      logger,
		config:      config,
		tlsConfig:   tlsConfig,
		connections: make(chan *PooledConnection, config.MaxConnections),
		discovery:   NewSRVDiscovery(logger),
		startTime:   time.Now(),
		healthStop:  make(chan struct{}),
	}
	pool.dial = pool.dialServer

	for _, opt := range opts {
		opt(pool)
	}

	if err := pool.discoverServers(ctx); err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	if config.HealthCheck > 0 {
		pool.startHealthChecker()
	}

	logger.Debug("Connection pool created", map[string]any{
		"server_count":    len(pool.servers),
		"max_connections": config.MaxConnections,
	})
	return pool, nil
}

// buildTLSConfig clones the configured TLS settings and loads the CA file.
func buildTLSConfig(config *ConnectionConfig) (*tls.Config, error) {
	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if config.TLSCACertFile != "" {
		pem, err := os.ReadFile(config.TLSCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}

		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", config.TLSCACertFile)
		}
		tlsConfig.RootCAs = roots
	}

	return tlsConfig, nil
}

func (p *connectionPool) discoverServers(ctx context.Context) error {
	var servers []*ServerInfo

	switch {
	case len(p.config.LDAPURLs) > 0:
		for _, u := range p.config.LDAPURLs {
			server, err := ParseLDAPURL(u)
			if err != nil {
				return fmt.Errorf("invalid LDAP URL %s: %w", u, err)
			}
			servers = append(servers, server)
		}
	case p.config.Domain != "":
		ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		discovered, err := p.discovery.DiscoverServers(ctx, p.config.Domain)
		if err != nil {
			return err
		}
		servers = discovered
	default:
		return errors.New("either domain or LDAP URLs must be specified")
	}

	if len(servers) == 0 {
		return errors.New("no servers discovered")
	}

	p.mu.Lock()
	p.servers = servers
	p.mu.Unlock()

	return nil
}

// Get retrieves an idle connection or opens a new one.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	for {
		select {
		case conn := <-p.connections:
			if p.isConnectionHealthy(conn) {
				conn.lastUsed = time.Now()
				atomic.AddInt64(&p.activeConns, 1)
				return conn, nil
			}
			p.closeConnection(conn)
			continue
		default:
		}
		break
	}

	return p.createConnection(ctx)
}

// createConnection tries every server in order, backing off exponentially
// between rounds.
func (p *connectionPool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	p.mu.RLock()
	servers := p.servers
	p.mu.RUnlock()

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range servers {
			conn, err := p.dial(ctx, server)
			if err != nil {
				lastErr = err
				atomic.AddInt64(&p.totalErrors, 1)
				p.logger.Debug("Connection attempt failed", map[string]any{
					"server":  ServerInfoToURL(server),
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
				continue
			}

			atomic.AddInt64(&p.totalCreated, 1)
			atomic.AddInt64(&p.activeConns, 1)
			return &PooledConnection{
				conn:         conn,
				lastUsed:     time.Now(),
				healthy:      true,
				serverInfo:   server,
				returnToPool: p.returnConnection,
			}, nil
		}

		if !IsRetryableError(lastErr) {
			break
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	return nil, NewConnectionError("failed to create connection after retries", true, lastErr)
}

// ldapConn adapts *ldap.Conn to Conn.
type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() {
	c.Conn.Close()
}

// dialServer opens a connection using LDAPS or, for ldap:// servers, StartTLS
// unless TLS is disabled. Cancelling ctx aborts the dial and the handshake.
func (p *connectionPool) dialServer(ctx context.Context, server *ServerInfo) (Conn, error) {
	url := ServerInfoToURL(server)

	tlsConfig := p.tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = server.Host
	}

	dialer := &net.Dialer{Timeout: p.config.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(server.Host, strconv.Itoa(server.Port)))
	if err != nil {
		return nil, dialFailure(ctx, url, err)
	}

	if server.UseTLS {
		tlsConn := tls.Client(netConn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = netConn.Close()
			return nil, dialFailure(ctx, url, err)
		}
		netConn = tlsConn
	}

	conn := ldap.NewConn(netConn, server.UseTLS)
	conn.Start()

	if !server.UseTLS && p.config.UseTLS && !p.config.SkipTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS to %s failed: %w", url, err)
		}
	}

	conn.SetTimeout(p.config.Timeout)

	return ldapConn{conn}, nil
}

// dialFailure reports a cancelled context in preference to the network error
// it caused.
func dialFailure(ctx context.Context, url string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("connect to %s aborted: %w", url, ctxErr)
	}
	return fmt.Errorf("failed to connect to %s: %w", url, err)
}

// returnConnection puts a connection back unless the pool is closed, the
// connection is broken, or the idle channel is full.
func (p *connectionPool) returnConnection(conn *PooledConnection) {
	if conn == nil {
		return
	}

	atomic.AddInt64(&p.activeConns, -1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.isConnectionHealthy(conn) {
		p.closeConnection(conn)
		return
	}

	conn.lastUsed = time.Now()
	select {
	case p.connections <- conn:
	default:
		p.closeConnection(conn)
	}
}

func (p *connectionPool) isConnectionHealthy(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || !conn.healthy {
		return false
	}

	if conn.conn.IsClosing() {
		return false
	}

	return time.Since(conn.lastUsed) <= p.config.MaxIdleTime
}

func (p *connectionPool) closeConnection(conn *PooledConnection) {
	if conn != nil && conn.conn != nil {
		conn.conn.Close()
		conn.healthy = false
	}
}

// Close closes all connections and shuts down the pool.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.healthTicker != nil {
		close(p.healthStop)
		p.healthWg.Wait()
		p.healthTicker.Stop()
	}

	for {
		select {
		case conn := <-p.connections:
			p.closeConnection(conn)
		default:
			p.logger.Debug("Connection pool closed", nil)
			return nil
		}
	}
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	return PoolStats{
		Active:  atomic.LoadInt64(&p.activeConns),
		Idle:    len(p.connections),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

func (p *connectionPool) startHealthChecker() {
	p.healthTicker = time.NewTicker(p.config.HealthCheck)

	p.healthWg.Go(func() {
		for {
			select {
			case <-p.healthTicker.C:
				p.performHealthCheck()
			case <-p.healthStop:
				return
			}
		}
	})
}

// performHealthCheck probes up to three idle connections.
func (p *connectionPool) performHealthCheck() {
	var toCheck []*PooledConnection

collect:
	for range 3 {
		select {
		case conn := <-p.connections:
			toCheck = append(toCheck, conn)
		default:
			break collect
		}
	}

	for _, conn := range toCheck {
		// Checked-out connections are counted as active by returnConnection.
		atomic.AddInt64(&p.activeConns, 1)
		if p.testConnection(conn) {
			p.returnConnection(conn)
			continue
		}
		atomic.AddInt64(&p.activeConns, -1)
		p.closeConnection(conn)
	}
}

// testConnection reads the root DSE.
func (p *connectionPool) testConnection(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || conn.conn.IsClosing() {
		return false
	}

	_, err := conn.conn.Search(rootDSERequest())
	return err == nil
}

func rootDSERequest() *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 0, false,
		"(objectClass=*)",
		[]string{"namingContexts", "defaultNamingContext"},
		nil,
	)
}

func validateConfig(config *ConnectionConfig) error {
	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}

	if config.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}

	if config.MaxIdleTime <= 0 {
		return errors.New("MaxIdleTime must be positive")
	}

	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}

	if config.MaxRetries > 0 && config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}

	return nil
}

// Close returns the connection to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

// MarkUnhealthy prevents the connection from being reused.
func (pc *PooledConnection) MarkUnhealthy() {
	pc.healthy = false
}

func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}
