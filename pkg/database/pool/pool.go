// Package pool provides checkout/checkin connection pooling over *sql.DB.
//
// database/sql already pools physical connections; this layer adds what the
// execution engine relies on: one consumer per connection, an upper bound
// enforced by polling, validation on return, and explicit kills.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// Config holds connection pool configuration.
type Config struct {
	// MaxConnections bounds open connections, idle plus checked out.
	MaxConnections int
	// PollInterval is how often a saturated checkout looks again.
	PollInterval time.Duration
	// WaitTimeout is how long a saturated checkout waits in total.
	WaitTimeout time.Duration
	// ReadOnly marks every connection read-only.
	ReadOnly bool
	// ReadOnlySQL is run on each new connection of a read-only pool.
	ReadOnlySQL string
	// ConnMaxIdleTime is passed to the underlying *sql.DB.
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxConnections:  20,
		PollInterval:    time.Second,
		WaitTimeout:     60 * time.Second,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Pool hands out pooled connections to one consumer at a time.
type Pool struct {
	db     *sql.DB
	config Config

	mu         sync.Mutex
	idle       []*Conn
	open       int
	checkedOut int
	closed     bool

	// Metrics
	nextID    atomic.Uint64
	checkouts atomic.Int64
	kills     atomic.Int64
	timeouts  atomic.Int64
	waits     atomic.Int64
}

// Open opens a *sql.DB and pools connections on it.
func Open(driverName, dataSourceName string, config Config) (*Pool, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db, config), nil
}

// New pools connections on an existing *sql.DB. The pool owns db.
func New(db *sql.DB, config Config) *Pool {
	def := DefaultConfig()
	if config.MaxConnections <= 0 {
		config.MaxConnections = def.MaxConnections
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = def.WaitTimeout
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections)
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	return &Pool{db: db, config: config}
}

// DB returns the underlying *sql.DB.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// MaxConnections returns the current bound.
func (p *Pool) MaxConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.MaxConnections
}

// SetMaxConnections changes the bound. Connections above it are not closed;
// they drain as they are checked in.
func (p *Pool) SetMaxConnections(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.config.MaxConnections = n
	p.mu.Unlock()
	p.db.SetMaxOpenConns(n)
	p.db.SetMaxIdleConns(n)
}

// ReadOnly reports whether pooled connections are read-only.
func (p *Pool) ReadOnly() bool {
	return p.config.ReadOnly
}

// take pops an idle connection, or reserves a slot for a new one.
func (p *Pool) take() (c *Conn, reserve bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, dberr.Connectivity(nil, "connection pool is closed")
	}
	if n := len(p.idle); n > 0 {
		c = p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.checkedOut++
		return c, false, nil
	}
	if p.open < p.config.MaxConnections {
		p.open++
		p.checkedOut++
		return nil, true, nil
	}
	return nil, false, nil
}

// unreserve gives back a slot reserved by take that was never filled.
func (p *Pool) unreserve() {
	p.mu.Lock()
	p.open--
	p.checkedOut--
	p.mu.Unlock()
}

// CheckOut returns an idle connection, or opens one when below the bound.
// A saturated pool is polled every PollInterval until WaitTimeout passes.
func (p *Pool) CheckOut(ctx context.Context) (*Conn, error) {
	start := time.Now()
	deadline := start.Add(p.config.WaitTimeout)
	waited := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, dberr.Interrupted(err)
		}

		c, reserve, err := p.take()
		if err != nil {
			return nil, err
		}
		if c != nil {
			if err := c.raw.PingContext(ctx); err != nil {
				debug.Warn("discarding dead pooled connection", "conn", c.id, "error", err)
				p.Kill(c)
				continue
			}
			p.checkouts.Add(1)
			return c, nil
		}
		if reserve {
			raw, err := p.db.Conn(ctx)
			if err != nil {
				p.unreserve()
				if ctx.Err() != nil {
					return nil, dberr.Interrupted(ctx.Err())
				}
				return nil, dberr.Connectivity(err, "cannot open connection")
			}
			if p.config.ReadOnly && p.config.ReadOnlySQL != "" {
				if _, err := raw.ExecContext(ctx, p.config.ReadOnlySQL); err != nil {
					_ = raw.Close()
					p.unreserve()
					return nil, dberr.Connectivity(err, "cannot make connection read only")
				}
			}
			c := &Conn{
				raw:       raw,
				pool:      p,
				id:        p.nextID.Add(1),
				readOnly:  p.config.ReadOnly,
				createdAt: time.Now(),
			}
			p.checkouts.Add(1)
			debug.Debug("opened pooled connection", "conn", c.id)
			return c, nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			p.timeouts.Add(1)
			return nil, dberr.Connectivity(nil, "pool timeout: no connection available after %s (max %d)",
				now.Sub(start).Round(time.Millisecond), p.MaxConnections())
		}
		if !waited {
			p.waits.Add(1)
			waited = true
		}
		wait := p.config.PollInterval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, dberr.Interrupted(ctx.Err())
		case <-timer.C:
		}
	}
}

// CheckIn returns a connection after validating it: autocommit on, not
// closed, read-only flag matching the pool, no open statements. A
// connection failing validation is killed and an assertion error returned.
func (p *Pool) CheckIn(c *Conn) error {
	if c == nil {
		return dberr.Assertion("check in of nil connection")
	}
	var problem string
	switch {
	case c.closed:
		problem = "connection is closed"
	case c.pool != p:
		problem = "connection belongs to another pool"
	case c.tx != nil:
		problem = "autocommit is off"
	case c.readOnly != p.config.ReadOnly:
		problem = fmt.Sprintf("read-only is %t, pool expects %t", c.readOnly, p.config.ReadOnly)
	case c.openStatements.Load() != 0:
		problem = fmt.Sprintf("%d statements still open", c.openStatements.Load())
	}
	if problem != "" {
		p.Kill(c)
		return dberr.Assertion("check in of connection %d: %s", c.id, problem)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkedOut--
	if p.closed || p.open > p.config.MaxConnections {
		p.open--
		c.closed = true
		return c.raw.Close()
	}
	p.idle = append(p.idle, c)
	return nil
}

// Kill closes a checked out connection and frees its slot.
func (p *Pool) Kill(c *Conn) {
	if c == nil || c.pool != p {
		return
	}
	p.mu.Lock()
	if c.closed {
		p.mu.Unlock()
		return
	}
	c.closed = true
	p.open--
	p.checkedOut--
	p.mu.Unlock()

	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if err := c.raw.Close(); err != nil {
		debug.Debug("close of killed connection failed", "conn", c.id, "error", err)
	}
	p.kills.Add(1)
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	dbStats := p.db.Stats()

	return Stats{
		MaxConnections: p.config.MaxConnections,
		Open:           p.open,
		Idle:           len(p.idle),
		CheckedOut:     p.checkedOut,
		CheckOuts:      p.checkouts.Load(),
		Kills:          p.kills.Load(),
		Timeouts:       p.timeouts.Load(),
		Waits:          p.waits.Load(),
		DriverOpen:     dbStats.OpenConnections,
		DriverInUse:    dbStats.InUse,
	}
}

// Stats represents pool statistics.
type Stats struct {
	MaxConnections int
	Open           int
	Idle           int
	CheckedOut     int
	CheckOuts      int64
	Kills          int64
	Timeouts       int64
	Waits          int64
	DriverOpen     int
	DriverInUse    int
}

// HealthCheck pings the database through a fresh driver connection.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return dberr.Connectivity(err, "health check failed")
	}
	return nil
}

// Close closes idle connections and the *sql.DB. Checked out connections
// are closed by the driver when the DB closes.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.mu.Unlock()

	for _, c := range idle {
		c.closed = true
		_ = c.raw.Close()
	}
	return p.db.Close()
}
