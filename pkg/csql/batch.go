package csql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database/pool"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// batchState is the work accumulated inside a transaction and flushed by
// ExecuteBatch.
type batchState struct {
	conn     *pool.Conn
	plain    []string
	prepared map[string]*preparedHolder
	// order keeps prepared statements in first-use order.
	order []string
}

// preparedHolder is one prepared statement and every parameter set bound
// to it.
type preparedHolder struct {
	sql   string
	stmt  *sql.Stmt
	args  [][]any
	calls int
	// paramLog is only kept when debug logging is on.
	paramLog []string
}

func (c *CSQL) batchFor(ctx context.Context) (*batchState, error) {
	conn := c.txConnection(ctx)
	if conn == nil {
		return nil, dberr.Assertion("batch statements need an open transaction on %s", c.db)
	}
	if c.batch == nil {
		c.batch = &batchState{conn: conn, prepared: map[string]*preparedHolder{}}
	} else if c.batch.conn != conn {
		return nil, dberr.Assertion("batch was started on another transaction")
	}
	return c.batch, nil
}

// AddBatch queues a plain statement for ExecuteBatch.
func (c *CSQL) AddBatch(ctx context.Context, stmt string) error {
	if err := c.refuseWrite(stmt, false, Classify(stmt)); err != nil {
		return err
	}
	b, err := c.batchFor(ctx)
	if err != nil {
		return err
	}
	b.plain = append(b.plain, stmt)
	return nil
}

// AddPreparedStatement queues one execution of a parameterized statement.
// Each distinct SQL text is prepared once per transaction. Arguments may be
// string, int, int32, int64, float32, float64, bool, time.Time, []byte or
// nil.
func (c *CSQL) AddPreparedStatement(ctx context.Context, stmt string, args ...any) error {
	if err := c.refuseWrite(stmt, false, Classify(stmt)); err != nil {
		return err
	}
	bound := make([]any, len(args))
	for i, a := range args {
		v, err := bindArg(a)
		if err != nil {
			return fmt.Errorf("argument %d of %q: %w", i+1, stmt, err)
		}
		bound[i] = v
	}

	b, err := c.batchFor(ctx)
	if err != nil {
		return err
	}
	h, ok := b.prepared[stmt]
	if !ok {
		prepared, err := b.conn.Prepare(ctx, stmt)
		if err != nil {
			c.sql = stmt
			return c.convert(ctx, err)
		}
		h = &preparedHolder{sql: stmt, stmt: prepared}
		b.prepared[stmt] = h
		b.order = append(b.order, stmt)
	}
	h.args = append(h.args, bound)
	h.calls++
	if debug.Enabled() {
		h.paramLog = append(h.paramLog, fmt.Sprintf("%d: %v", h.calls, bound))
	}
	return nil
}

func bindArg(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64, bool, time.Time, []byte:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	}
	return nil, dberr.Assertion("unsupported argument type %T", v)
}

// pendingBatch counts queued statements not yet executed.
func (c *CSQL) pendingBatch() int {
	if c.batch == nil {
		return 0
	}
	n := len(c.batch.plain)
	for _, h := range c.batch.prepared {
		n += len(h.args)
	}
	return n
}

// ExecuteBatch runs the plain batch, then every prepared statement with
// each of its parameter sets, and returns the sum of affected rows. The
// batch is reset whatever the outcome.
func (c *CSQL) ExecuteBatch(ctx context.Context) (int, error) {
	defer c.closeBatch()
	if err := ctx.Err(); err != nil {
		c.abort(ctx)
		return 0, dberr.Interrupted(err)
	}
	c.clear()
	if c.batch == nil {
		return 0, nil
	}
	b := c.batch
	if conn := c.txConnection(ctx); conn != b.conn {
		return 0, dberr.Assertion("batch transaction on %s is no longer open", c.db)
	}

	start := time.Now()
	total := 0
	exec := b.conn.Executor()
	for _, stmt := range b.plain {
		c.sql = stmt
		res, err := exec.ExecContext(ctx, stmt)
		if err != nil {
			err = c.convert(ctx, err)
			c.logTiming(start, err)
			return total, err
		}
		total += affected(res)
	}
	for _, key := range b.order {
		h := b.prepared[key]
		c.sql = h.sql
		for i, args := range h.args {
			res, err := h.stmt.ExecContext(ctx, args...)
			if err != nil {
				if len(h.paramLog) > i {
					debug.Debug("prepared statement failed", "sql", h.sql, "params", h.paramLog[i])
				}
				err = c.convert(ctx, err)
				c.logTiming(start, err)
				return total, err
			}
			total += affected(res)
		}
	}
	c.rowCount = total
	c.logTiming(start, nil)
	return total, nil
}

func affected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil || n < 0 {
		return 0
	}
	return int(n)
}

// closeBatch releases prepared statements and drops queued work.
func (c *CSQL) closeBatch() {
	if c.batch == nil {
		return
	}
	b := c.batch
	c.batch = nil
	for _, key := range b.order {
		if err := b.conn.Release(b.prepared[key].stmt); err != nil {
			debug.Debug("closing prepared statement failed", "sql", key, "error", err)
		}
	}
}
