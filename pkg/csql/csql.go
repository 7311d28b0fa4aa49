// Package csql executes statements against a DataBase: ad hoc queries and
// updates on pooled connections, session-bound transactions, batches of
// plain and prepared statements, and eagerly materialized results.
//
// A CSQL is not safe for concurrent use. Share a DataBase, not a CSQL.
package csql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/sqltext"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database/pool"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// SQLType is the coarse kind of a statement, from its first keyword.
type SQLType int

const (
	Unknown SQLType = iota
	Select
	Update
	Insert
	Delete
	Create
	Admin
)

func (t SQLType) String() string {
	switch t {
	case Select:
		return "SELECT"
	case Update:
		return "UPDATE"
	case Insert:
		return "INSERT"
	case Delete:
		return "DELETE"
	case Create:
		return "CREATE"
	case Admin:
		return "ADMIN"
	}
	return "UNKNOWN"
}

// Classify returns the statement kind, ignoring case, whitespace and
// leading comments.
func Classify(stmt string) SQLType {
	switch sqltext.FirstKeyword(stmt) {
	case "SELECT":
		return Select
	case "UPDATE":
		return Update
	case "INSERT":
		return Insert
	case "DELETE":
		return Delete
	case "CREATE":
		return Create
	case "GRANT", "ALTER", "DROP", "REVOKE":
		return Admin
	}
	return Unknown
}

// CSQL is one execution context bound to a DataBase.
type CSQL struct {
	db *database.DataBase

	sql      string
	sqlType  SQLType
	maxRows  int
	readOnly bool
	timeout  time.Duration
	warning  error

	locked *pool.Conn
	own    *Session

	batch *batchState

	columns  []Column
	rows     []Row
	cursor   int
	rowCount int
	next     *CSQL
}

// New creates a CSQL for db.
func New(db *database.DataBase) *CSQL {
	return &CSQL{db: db, cursor: -1}
}

// DataBase returns the database the CSQL runs against.
func (c *CSQL) DataBase() *database.DataBase { return c.db }

// SetMaxRow caps the rows a query may return; 0 means no cap. Exceeding
// the cap fails the query with a too-many-rows error.
func (c *CSQL) SetMaxRow(n int) { c.maxRows = max(n, 0) }

// MaxRow returns the row cap.
func (c *CSQL) MaxRow() int { return c.maxRows }

// SetReadOnly marks standalone queries read-only.
func (c *CSQL) SetReadOnly(readOnly bool) { c.readOnly = readOnly }

// SetQueryTimeOutSeconds overrides DEFAULT_QUERY_TIMEOUT_SECONDS; 0 restores
// the default.
func (c *CSQL) SetQueryTimeOutSeconds(seconds int) {
	c.timeout = time.Duration(max(seconds, 0)) * time.Second
}

func (c *CSQL) queryTimeout() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return c.db.Config().DefaultQueryTimeout
}

// SQL returns the text of the last statement, after comment stripping.
func (c *CSQL) SQL() string { return c.sql }

// SQLType returns the kind of the last statement.
func (c *CSQL) SQLType() SQLType { return c.sqlType }

// Warning returns the benign vendor message of the last statement, if any.
func (c *CSQL) Warning() error { return c.warning }

// clear drops every trace of the previous statement.
func (c *CSQL) clear() {
	c.sql = ""
	c.sqlType = Unknown
	c.warning = nil
	c.columns = nil
	c.rows = nil
	c.cursor = -1
	c.rowCount = 0
	c.next = nil
}

// Perform classifies stmt by its first keyword and executes it, as a query
// for SELECT and unrecognised statements.
func (c *CSQL) Perform(ctx context.Context, stmt string) error {
	kind := Classify(stmt)
	return c.execute(ctx, stmt, kind == Select || kind == Unknown, kind)
}

// Execute runs stmt. query selects whether results are loaded.
func (c *CSQL) Execute(ctx context.Context, stmt string, query bool) error {
	return c.execute(ctx, stmt, query, Classify(stmt))
}

// FindOne runs a query that must return exactly one row and positions the
// cursor on it.
func (c *CSQL) FindOne(ctx context.Context, stmt string) error {
	saved := c.maxRows
	c.maxRows = 1
	defer func() { c.maxRows = saved }()

	if err := c.Execute(ctx, stmt, true); err != nil {
		return err
	}
	if len(c.rows) == 0 {
		return dberr.NoRows().WithSQL(c.sql)
	}
	c.cursor = 0
	return nil
}

func (c *CSQL) execute(ctx context.Context, stmt string, query bool, kind SQLType) error {
	if err := ctx.Err(); err != nil {
		c.abort(ctx)
		return dberr.Interrupted(err)
	}
	c.clear()

	text := sqltext.StripLeadingComments(stmt)
	if !c.db.Dialect().SupportsInlineComments() {
		text = sqltext.StripBlockComments(text)
	}
	c.sql = text
	c.sqlType = kind
	if err := c.refuseWrite(text, query, kind); err != nil {
		return err
	}

	start := time.Now()
	err := c.run(ctx, text, query)
	c.logTiming(start, err)
	return err
}

// refuseWrite fails statements that may write when the database is
// protected read-only. Unrecognised queries are left to the server, whose
// session and transactions are read-only too.
func (c *CSQL) refuseWrite(stmt string, query bool, kind SQLType) error {
	if c.db.Protection() != database.ProtectionReadOnly {
		return nil
	}
	switch {
	case !query, kind == Update, kind == Insert, kind == Delete, kind == Create, kind == Admin:
		return dberr.ReadOnly("%s statement refused by read-only %s", kind, c.db).WithSQL(stmt)
	}
	return nil
}

// lease is the connection one statement runs on.
type lease struct {
	conn *pool.Conn
	// inTx is set when the statement joins an open transaction.
	inTx bool
	// owned is set when the connection was checked out for this statement.
	owned bool
}

func (c *CSQL) acquire(ctx context.Context) (lease, error) {
	if c.locked != nil {
		return lease{conn: c.locked, inTx: !c.locked.AutoCommit()}, nil
	}
	if s := c.session(ctx); s != nil {
		if conn := s.Conn(c.db); conn != nil {
			return lease{conn: conn, inTx: true}, nil
		}
	}
	conn, err := c.db.CheckOutConnection(ctx)
	if err != nil {
		return lease{}, err
	}
	return lease{conn: conn, owned: true}, nil
}

func (c *CSQL) release(l lease, failure error) {
	if !l.owned {
		return
	}
	if !l.conn.AutoCommit() {
		_ = l.conn.Rollback()
	}
	if failure != nil && brokenConnection(failure) {
		c.db.KillConnection(l.conn)
		return
	}
	if err := c.db.CheckInConnection(l.conn); err != nil {
		debug.Error("check in failed", "database", c.db.String(), "error", err)
	}
}

func brokenConnection(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, dberr.ErrInterrupted)
}

// run executes text on the appropriate connection.
func (c *CSQL) run(ctx context.Context, text string, query bool) (err error) {
	d := c.db.Dialect()

	l, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { c.release(l, err) }()

	protection := c.db.Protection()
	readOnly := false
	if !l.inTx && query {
		readOnly = c.readOnly ||
			protection == database.ProtectionReadOnly ||
			(protection == database.ProtectionSelectReadOnlyByDefault && c.sqlType == Select)
	}

	// Standalone read-only queries, and queries on dialects that only
	// stream inside a transaction, run with autocommit off.
	ownTx := !l.inTx && query && ((readOnly && d.SupportsReadOnlyTx()) || d.StreamsInTransaction())
	if ownTx {
		wasReadOnly := l.conn.ReadOnly()
		l.conn.SetReadOnly(readOnly)
		defer l.conn.SetReadOnly(wasReadOnly)

		opts := &sql.TxOptions{Isolation: d.Isolation(), ReadOnly: readOnly && d.SupportsReadOnlyTx()}
		if err := l.conn.Begin(ctx, opts); err != nil {
			return c.convert(ctx, err)
		}
		defer func() {
			if err != nil {
				_ = l.conn.Rollback()
			}
		}()
	}

	stmtCtx := ctx
	if timeout := c.queryTimeout(); timeout > 0 && d.SupportsQueryTimeout() {
		var cancel context.CancelFunc
		stmtCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	exec := l.conn.Executor()
	if query && c.maxRows > 0 && d.EmulatesMaxRows() {
		if _, err := exec.ExecContext(stmtCtx, d.RowCountSQL(c.maxRows+1)); err != nil {
			return c.convert(ctx, err)
		}
		defer func() {
			if _, resetErr := exec.ExecContext(context.WithoutCancel(ctx), d.RowCountSQL(0)); resetErr != nil {
				debug.Warn("cannot reset row count", "database", c.db.String(), "error", resetErr)
			}
		}()
	}

	if query {
		err = c.query(stmtCtx, exec, text)
	} else {
		err = c.update(stmtCtx, exec, text)
	}
	if err != nil {
		return c.convert(ctx, err)
	}

	if ownTx {
		if err := l.conn.Commit(); err != nil {
			return c.convert(ctx, err)
		}
	}
	return nil
}

func (c *CSQL) query(ctx context.Context, exec pool.Executor, text string) error {
	rows, err := exec.QueryContext(ctx, text)
	if err != nil {
		return err
	}
	defer rows.Close()
	return c.loadResults(rows)
}

func (c *CSQL) update(ctx context.Context, exec pool.Executor, text string) error {
	res, err := exec.ExecContext(ctx, text)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		c.rowCount = int(n)
	}
	return nil
}

// convert classifies a driver error through the dialect and attaches the
// statement context. Benign vendor messages become the warning and nil is
// returned.
func (c *CSQL) convert(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return dberr.Interrupted(ctxErr).WithSQL(c.sql)
	}
	var classified *dberr.Error
	if errors.As(err, &classified) {
		if classified.SQL == "" {
			classified.WithSQL(c.sql)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dberr.Wrap(dberr.KindSQL, err, "query timeout after %s", c.queryTimeout()).
			WithSQL(c.sql).WithRowCount(c.rowCount)
	}

	cl := c.db.Dialect().ClassifyError(err)
	if cl.Benign {
		c.warning = err
		return nil
	}
	var e *dberr.Error
	if cl.Kind == dberr.KindDeadlock {
		e = dberr.Deadlock(err)
	} else {
		e = &dberr.Error{Kind: cl.Kind, Cause: err}
	}
	return e.WithSQL(c.sql).WithRowCount(c.rowCount).WithVendor(cl.Code, cl.SQLState)
}

// session returns the session on ctx, or this CSQL's private one.
func (c *CSQL) session(ctx context.Context) *Session {
	if s := SessionFrom(ctx); s != nil {
		return s
	}
	if c.own == nil {
		c.own = NewSession()
	}
	return c.own
}

// Lock pins a connection to this CSQL until Unlock. Every statement and
// transaction runs on it.
func (c *CSQL) Lock(ctx context.Context) error {
	if c.locked != nil {
		return nil
	}
	conn, err := c.db.CheckOutConnection(ctx)
	if err != nil {
		return err
	}
	c.locked = conn
	return nil
}

// IsLocked reports whether a connection is pinned.
func (c *CSQL) IsLocked() bool { return c.locked != nil }

// Unlock returns the pinned connection. An open transaction is rolled back
// and reported as an assertion error.
func (c *CSQL) Unlock(ctx context.Context) error {
	if c.locked == nil {
		return nil
	}
	conn := c.locked
	c.locked = nil

	var openTx error
	if !conn.AutoCommit() {
		c.closeBatch()
		_ = conn.Rollback()
		openTx = dberr.Assertion("unlock with a transaction open on %s", c.db)
	}
	return errors.Join(openTx, c.db.CheckInConnection(conn))
}

// String describes the CSQL for logs.
func (c *CSQL) String() string {
	var b strings.Builder
	b.WriteString(c.db.String())
	if c.sql != "" {
		b.WriteString(": ")
		b.WriteString(c.sql)
	}
	return b.String()
}
