package csql

import (
	"context"
	"database/sql"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/retry"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database/pool"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// maxBeginAttempts bounds how many dead connections BeginTransaction
// discards before giving up.
const maxBeginAttempts = 10

// txConnection returns the connection holding the open transaction, nil
// when none is open.
func (c *CSQL) txConnection(ctx context.Context) *pool.Conn {
	if c.locked != nil {
		if c.locked.AutoCommit() {
			return nil
		}
		return c.locked
	}
	return c.session(ctx).Conn(c.db)
}

// InTransaction reports whether a transaction is open for this CSQL's
// database, either on the pinned connection or in the session on ctx.
func (c *CSQL) InTransaction(ctx context.Context) bool {
	return c.txConnection(ctx) != nil
}

// BeginTransaction turns autocommit off. On a pinned connection the
// transaction opens there; otherwise a pooled connection is bound to the
// session on ctx. Connections that fail to begin are killed and another is
// tried.
func (c *CSQL) BeginTransaction(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		c.abort(ctx)
		return dberr.Interrupted(err)
	}
	d := c.db.Dialect()
	opts := &sql.TxOptions{
		Isolation: d.Isolation(),
		ReadOnly:  c.db.Protection() == database.ProtectionReadOnly && d.SupportsReadOnlyTx(),
	}

	if c.locked != nil {
		if !c.locked.AutoCommit() {
			return dberr.Assertion("transaction already open on pinned connection to %s", c.db)
		}
		if err := c.locked.Begin(ctx, opts); err != nil {
			return c.convert(ctx, err)
		}
		return nil
	}

	s := c.session(ctx)
	if s.InTransaction(c.db) {
		return dberr.Assertion("transaction already open on %s in session %s", c.db, s.ID())
	}

	var lastErr error
	for attempt := 0; attempt < maxBeginAttempts; attempt++ {
		conn, err := c.db.CheckOutConnection(ctx)
		if err != nil {
			return err
		}
		if err := conn.Begin(ctx, opts); err != nil {
			c.db.KillConnection(conn)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return dberr.Interrupted(ctxErr)
			}
			debug.Warn("discarding connection that cannot begin a transaction",
				"database", c.db.String(), "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}
		s.bind(c.db, conn)
		debug.Debug("transaction begun", "database", c.db.String(), "session", s.ID(), "conn", conn.ID())
		return nil
	}
	return dberr.Connectivity(lastErr, "cannot begin a transaction on %s after %d attempts", c.db, maxBeginAttempts)
}

// Commit commits the open transaction and returns its connection to the
// pool. Batched work not yet executed is a caller bug: the transaction is
// rolled back and an assertion error returned. A failed commit is rolled
// back too.
func (c *CSQL) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		c.abort(ctx)
		return dberr.Interrupted(err)
	}
	conn := c.txConnection(ctx)
	if conn == nil {
		return dberr.Assertion("commit without an open transaction on %s", c.db)
	}
	if n := c.pendingBatch(); n > 0 {
		_ = c.Rollback(ctx)
		return dberr.Assertion("commit with %d batched statements not executed", n)
	}
	c.closeBatch()

	if err := conn.Commit(); err != nil {
		converted := c.convert(ctx, err)
		_ = c.Rollback(ctx)
		return converted
	}
	c.endTransaction(ctx, conn, false)
	return nil
}

// Rollback closes any batch, rolls back, and discards the connection
// unless it is pinned; an aborted transaction can leave a connection in an
// unreliable state.
func (c *CSQL) Rollback(ctx context.Context) error {
	c.closeBatch()
	conn := c.txConnection(ctx)
	if conn == nil {
		return nil
	}
	err := conn.Rollback()
	c.endTransaction(ctx, conn, true)
	if err != nil {
		return c.convert(context.WithoutCancel(ctx), err)
	}
	return nil
}

func (c *CSQL) endTransaction(ctx context.Context, conn *pool.Conn, discard bool) {
	if conn == c.locked {
		return
	}
	c.session(ctx).unbind(c.db)
	if discard {
		c.db.KillConnection(conn)
		return
	}
	if err := c.db.CheckInConnection(conn); err != nil {
		debug.Error("check in after commit failed", "database", c.db.String(), "error", err)
	}
}

// abort unwinds an open transaction after cancellation was observed.
func (c *CSQL) abort(ctx context.Context) {
	if err := c.Rollback(ctx); err != nil {
		debug.Warn("rollback after cancellation failed", "database", c.db.String(), "error", err)
	}
}

// TxFunc is the unit of work run by Transact.
type TxFunc func(ctx context.Context, c *CSQL) error

// Transact runs fn inside a transaction on db, committing when it returns
// nil and rolling back otherwise. Deadlocks retry the whole unit of work
// with jittered backoff, up to attempts times.
//
// When ctx already carries a session with a transaction open on db, fn
// joins it and commit is left to the owner.
func Transact(ctx context.Context, db *database.DataBase, attempts int, fn TxFunc) error {
	if s := SessionFrom(ctx); s != nil && s.InTransaction(db) {
		return fn(ctx, New(db))
	}

	txCtx := ctx
	if SessionFrom(ctx) == nil {
		txCtx = WithSession(ctx, NewSession())
	}
	return retry.Do(ctx, func(attempt int) error {
		c := New(db)
		if err := c.BeginTransaction(txCtx); err != nil {
			return err
		}
		if err := fn(txCtx, c); err != nil {
			if rbErr := c.Rollback(txCtx); rbErr != nil {
				debug.Warn("rollback failed", "database", db.String(), "error", rbErr)
			}
			if dberr.IsDeadlock(err) {
				debug.Info("deadlock, retrying unit of work", "database", db.String(), "attempt", attempt+1)
			}
			return err
		}
		return c.Commit(txCtx)
	},
		retry.WithMaxAttempts(attempts),
		retry.WithMaxDelay(2*time.Second),
		retry.WithJitter(true),
		retry.WithRetryable(dberr.IsDeadlock),
	)
}
