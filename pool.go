package ldapwire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig holds configuration options for the connection pool.
type PoolConfig struct {
	// MaxConnections is the maximum number of concurrent connections
	// (default: 10).
	MaxConnections int
	// MinConnections is the number of connections opened eagerly when the
	// pool is created (default: 0).
	MinConnections int
	// CheckoutTimeout is how long Checkout waits for a connection before
	// surfacing ErrPoolExhausted (default: 10s).
	CheckoutTimeout time.Duration
	// MaxReplaceAttempts bounds how many dead candidates a single
	// checkout will transparently discard and replace before giving up
	// (default: 3).
	MaxReplaceAttempts int
}

// DefaultPoolConfig returns a PoolConfig with sensible defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxConnections:     10,
		MinConnections:     0,
		CheckoutTimeout:    10 * time.Second,
		MaxReplaceAttempts: 3,
	}
}

// PoolStats provides statistics about the connection pool.
type PoolStats struct {
	// ActiveConnections is the number of connections currently checked out.
	ActiveConnections int32
	// IdleConnections is the number of connections available for checkout.
	IdleConnections int32
	// TotalConnections is the total number of live connections.
	TotalConnections int32
	// Checkouts is the number of successful checkouts.
	Checkouts int64
	// CheckoutFailures is the number of checkouts that surfaced an error.
	CheckoutFailures int64
	// ConnectionsCreated is the total number of connections opened.
	ConnectionsCreated int64
	// ConnectionsDiscarded is the total number of connections discarded.
	ConnectionsDiscarded int64
	// DefunctReplacements is the number of mid-operation replacements of
	// connections that went defunct.
	DefunctReplacements int64
}

// ConnectionPool manages a bounded set of connections to one server. A
// connection is always in exactly one of three places: the idle channel
// (available for checkout), checked out by one logical operation, or being
// replaced. The pool never hands out a defunct connection.
type ConnectionPool struct {
	config     *PoolConfig
	connConfig *Config
	logger     *slog.Logger

	// dial opens one connection; overridable for tests.
	dial func(ctx context.Context) (*Conn, error)

	available chan *Conn
	mu        sync.Mutex
	total     int
	closed    bool

	active           atomic.Int32
	checkouts        atomic.Int64
	checkoutFailures atomic.Int64
	created          atomic.Int64
	discarded        atomic.Int64
	replacements     atomic.Int64
}

// NewConnectionPool creates a connection pool for the given server
// configuration, eagerly opening MinConnections connections.
func NewConnectionPool(config *PoolConfig, connConfig *Config, logger *slog.Logger) (*ConnectionPool, error) {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}
	if config.MinConnections < 0 {
		config.MinConnections = 0
	}
	if config.MinConnections > config.MaxConnections {
		config.MinConnections = config.MaxConnections
	}
	if config.CheckoutTimeout <= 0 {
		config.CheckoutTimeout = 10 * time.Second
	}
	if config.MaxReplaceAttempts <= 0 {
		config.MaxReplaceAttempts = 3
	}

	pool := &ConnectionPool{
		config:     config,
		connConfig: connConfig,
		logger:     logger,
		available:  make(chan *Conn, config.MaxConnections),
	}
	pool.dial = func(ctx context.Context) (*Conn, error) {
		return Dial(ctx, connConfig)
	}

	for i := 0; i < config.MinConnections; i++ {
		conn, err := pool.openConn(context.Background())
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.available <- conn
	}

	logger.Info("connection_pool_created",
		slog.String("server", connConfig.Address),
		slog.Int("max_connections", config.MaxConnections),
		slog.Int("min_connections", config.MinConnections),
		slog.Duration("checkout_timeout", config.CheckoutTimeout))
	return pool, nil
}

// openConn reserves a pool slot and dials. The slot is released if the
// dial fails, so a failed open never shrinks the pool's capacity.
func (p *ConnectionPool) openConn(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.total >= p.config.MaxConnections {
		p.mu.Unlock()
		return nil, ErrPoolExhausted
	}
	p.total++
	p.mu.Unlock()

	conn, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	p.created.Add(1)
	poolConnectionsCreated.Inc()
	return conn, nil
}

// Checkout hands out a live connection, waiting up to CheckoutTimeout.
// Candidates that fail the liveness probe are discarded and replaced
// transparently, up to MaxReplaceAttempts, before ErrPoolExhausted is
// surfaced. A defunct connection is never returned.
func (p *ConnectionPool) Checkout(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.config.CheckoutTimeout)
	defer timer.Stop()

	replaceAttempts := 0
	for {
		// Fast path: an idle connection.
		select {
		case conn := <-p.available:
			if p.activate(conn) {
				return conn, nil
			}
			replaceAttempts++
			if replaceAttempts > p.config.MaxReplaceAttempts {
				p.checkoutFailures.Add(1)
				poolCheckoutFailures.Inc()
				return nil, ErrPoolExhausted
			}
			continue
		default:
		}

		// No idle connection: open a new one if there is capacity.
		conn, err := p.openConn(ctx)
		if err == nil {
			if p.activate(conn) {
				return conn, nil
			}
			replaceAttempts++
			if replaceAttempts > p.config.MaxReplaceAttempts {
				p.checkoutFailures.Add(1)
				poolCheckoutFailures.Inc()
				return nil, ErrPoolExhausted
			}
			continue
		}
		if !errors.Is(err, ErrPoolExhausted) {
			p.checkoutFailures.Add(1)
			poolCheckoutFailures.Inc()
			return nil, err
		}

		// At capacity: wait for a checkin, cancellation or the timeout.
		select {
		case conn := <-p.available:
			if p.activate(conn) {
				return conn, nil
			}
			replaceAttempts++
			if replaceAttempts > p.config.MaxReplaceAttempts {
				p.checkoutFailures.Add(1)
				poolCheckoutFailures.Inc()
				return nil, ErrPoolExhausted
			}
		case <-ctx.Done():
			p.checkoutFailures.Add(1)
			poolCheckoutFailures.Inc()
			return nil, ErrCancelled
		case <-timer.C:
			p.checkoutFailures.Add(1)
			poolCheckoutFailures.Inc()
			p.logger.Warn("pool_checkout_timeout",
				slog.String("server", p.connConfig.Address),
				slog.Duration("timeout", p.config.CheckoutTimeout))
			return nil, ErrPoolExhausted
		}
	}
}

// activate probes a candidate and marks it checked out. A candidate that
// fails the probe is discarded and activate reports false.
func (p *ConnectionPool) activate(conn *Conn) bool {
	if !conn.IsUsable() || !conn.transition(StateAvailable, StateCheckedOut) {
		p.Discard(conn)
		return false
	}
	p.active.Add(1)
	p.checkouts.Add(1)
	poolCheckouts.Inc()
	return true
}

// Checkin returns a checked-out connection to the pool. Connections that
// went defunct while checked out are discarded instead.
func (p *ConnectionPool) Checkin(conn *Conn) {
	p.active.Add(-1)
	if !conn.IsUsable() || !conn.transition(StateCheckedOut, StateAvailable) {
		p.Discard(conn)
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.Discard(conn)
		return
	}

	select {
	case p.available <- conn:
	default:
		// pool shrank under us; drop the surplus connection
		p.Discard(conn)
	}
}

// Discard removes a connection from the pool and closes it.
func (p *ConnectionPool) Discard(conn *Conn) {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	conn.Close()
	p.discarded.Add(1)
	poolConnectionsDiscarded.Inc()
	p.logger.Debug("connection_discarded",
		slog.String("server", conn.Address()),
		slog.String("state", conn.State().String()))
}

// ReplaceDefunct swaps a connection that just failed mid-operation for a
// fresh one without losing the caller's place in the pool. The old
// connection leaves the pool first and its slot stays reserved, so the
// size invariant holds even if opening the replacement fails; on failure
// the reserved slot is released.
func (p *ConnectionPool) ReplaceDefunct(ctx context.Context, conn *Conn) (*Conn, error) {
	conn.Close()
	p.replacements.Add(1)
	poolDefunctReplacements.Inc()

	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		p.active.Add(-1)
		return nil, ErrPoolClosed
	}
	// The dead connection's slot transfers directly to the replacement.
	p.mu.Unlock()

	replacement, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.active.Add(-1)
		p.logger.Error("defunct_replacement_failed",
			slog.String("server", p.connConfig.Address),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: replacing defunct connection: %v", ErrConnect, err)
	}
	p.created.Add(1)
	poolConnectionsCreated.Inc()
	replacement.setState(StateCheckedOut)
	p.logger.Info("defunct_connection_replaced",
		slog.String("server", p.connConfig.Address))
	return replacement, nil
}

// Stats returns a snapshot of pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	total := p.total
	p.mu.Unlock()
	return PoolStats{
		ActiveConnections:    p.active.Load(),
		IdleConnections:      int32(len(p.available)),
		TotalConnections:     int32(total),
		Checkouts:            p.checkouts.Load(),
		CheckoutFailures:     p.checkoutFailures.Load(),
		ConnectionsCreated:   p.created.Load(),
		ConnectionsDiscarded: p.discarded.Load(),
		DefunctReplacements:  p.replacements.Load(),
	}
}

// Close shuts the pool down, closing idle connections. Checked-out
// connections are closed as they are checked back in.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.available:
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			conn.Close()
		default:
			p.logger.Info("connection_pool_closed",
				slog.String("server", p.connConfig.Address))
			return
		}
	}
}
