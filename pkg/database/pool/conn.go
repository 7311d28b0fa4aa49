package pool

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// Executor is what statements run on: the connection itself with
// autocommit on, or its open transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Conn is one pooled connection. Autocommit off is modelled as an open
// transaction on the connection.
type Conn struct {
	raw       *sql.Conn
	pool      *Pool
	id        uint64
	createdAt time.Time

	tx             *sql.Tx
	readOnly       bool
	closed         bool
	openStatements atomic.Int32
}

// ID identifies the connection in logs.
func (c *Conn) ID() uint64 { return c.id }

// Raw returns the underlying *sql.Conn.
func (c *Conn) Raw() *sql.Conn { return c.raw }

// Age is the time since the connection was opened.
func (c *Conn) Age() time.Duration { return time.Since(c.createdAt) }

// AutoCommit reports whether no transaction is open.
func (c *Conn) AutoCommit() bool { return c.tx == nil }

// IsClosed reports whether the connection was killed or closed.
func (c *Conn) IsClosed() bool { return c.closed }

// ReadOnly reports the read-only flag.
func (c *Conn) ReadOnly() bool { return c.readOnly }

// SetReadOnly sets the flag applied to the next transaction.
func (c *Conn) SetReadOnly(readOnly bool) { c.readOnly = readOnly }

// Executor returns the open transaction, or the connection itself.
func (c *Conn) Executor() Executor {
	if c.tx != nil {
		return c.tx
	}
	return c.raw
}

// Begin turns autocommit off by opening a transaction. The transaction
// outlives ctx; it ends only with Commit, Rollback or a kill.
func (c *Conn) Begin(ctx context.Context, opts *sql.TxOptions) error {
	if c.closed {
		return dberr.Connectivity(nil, "connection %d is closed", c.id)
	}
	if c.tx != nil {
		return dberr.Assertion("connection %d already has a transaction open", c.id)
	}
	if err := ctx.Err(); err != nil {
		return dberr.Interrupted(err)
	}
	tx, err := c.raw.BeginTx(context.WithoutCancel(ctx), opts)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit commits and turns autocommit back on.
func (c *Conn) Commit() error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

// Rollback rolls back and turns autocommit back on.
func (c *Conn) Rollback() error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Prepare prepares a statement on the current executor and counts it as
// open until Release.
func (c *Conn) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	stmt, err := c.Executor().PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.openStatements.Add(1)
	return stmt, nil
}

// Release closes a statement obtained from Prepare.
func (c *Conn) Release(stmt *sql.Stmt) error {
	if stmt == nil {
		return nil
	}
	c.openStatements.Add(-1)
	return stmt.Close()
}

// OpenStatements is the number of prepared statements not yet released.
func (c *Conn) OpenStatements() int {
	return int(c.openStatements.Load())
}

// Ping verifies the connection is alive.
func (c *Conn) Ping(ctx context.Context) error {
	if c.closed {
		return dberr.Connectivity(nil, "connection %d is closed", c.id)
	}
	return c.raw.PingContext(ctx)
}
