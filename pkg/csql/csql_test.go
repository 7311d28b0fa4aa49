package csql

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/config"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

func newTestDB(t *testing.T, protection database.Protection, opts ...database.Option) *database.DataBase {
	t.Helper()
	path := filepath.Join(t.TempDir(), "csql.db")
	opts = append([]database.Option{database.WithConfig(config.Default())}, opts...)
	db, err := database.New("", "", "sqlite", path, protection, opts...)
	require.NoError(t, err)
	require.NoError(t, db.Connect(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustPerform(t *testing.T, ctx context.Context, c *CSQL, stmt string) {
	t.Helper()
	require.NoError(t, c.Perform(ctx, stmt))
}

func countRows(t *testing.T, db *database.DataBase, table string) int64 {
	t.Helper()
	c := New(db)
	require.NoError(t, c.FindOne(context.Background(), "SELECT COUNT(*) FROM "+table))
	n, err := c.GetInt64(0)
	require.NoError(t, err)
	return n
}

func seed(t *testing.T, db *database.DataBase) {
	t.Helper()
	ctx := context.Background()
	c := New(db)
	mustPerform(t, ctx, c, "CREATE TABLE item (id INTEGER NOT NULL, name VARCHAR(20), price NUMERIC(10,2))")
	mustPerform(t, ctx, c, "INSERT INTO item VALUES (1, 'apple', 1.25)")
	mustPerform(t, ctx, c, "INSERT INTO item VALUES (2, 'pear', 2.5)")
	mustPerform(t, ctx, c, "INSERT INTO item VALUES (3, NULL, NULL)")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		sql  string
		want SQLType
	}{
		{"/* c */  select 1", Select},
		{"SELECT 1", Select},
		{"\n\t update t set a = 1", Update},
		{"Insert into t values (1)", Insert},
		{"delete from t", Delete},
		{"create table t (a int)", Create},
		{"GRANT select ON t TO u", Admin},
		{"alter table t add b int", Admin},
		{"drop table t", Admin},
		{"revoke all on t from u", Admin},
		{"with x as (select 1) select * from x", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.sql))
		})
	}
}

func TestPerformLoadsRows(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	ctx := context.Background()

	c := New(db)
	mustPerform(t, ctx, c, "/* list */ SELECT id, name, price FROM item ORDER BY id")
	assert.Equal(t, Select, c.SQLType())
	assert.Equal(t, "SELECT id, name, price FROM item ORDER BY id", c.SQL())
	assert.Equal(t, 3, c.RowCount())
	assert.Equal(t, 3, c.ColumnCount())
	assert.Equal(t, 1, c.ColumnIndex("NAME"))
	assert.Equal(t, -1, c.ColumnIndex("missing"))

	name, err := c.ColumnName(2)
	require.NoError(t, err)
	assert.Equal(t, "price", name)
	_, err = c.ColumnName(3)
	assert.Error(t, err)

	require.True(t, c.Next())
	id, err := c.GetInt(0)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	s, err := c.GetString(1)
	require.NoError(t, err)
	assert.Equal(t, "apple", s)
	f, err := c.GetFloat64(2)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, f, 0.0001)

	require.True(t, c.Next())
	require.True(t, c.Next())
	null, err := c.IsNull(1)
	require.NoError(t, err)
	assert.True(t, null)
	assert.False(t, c.Next())

	_, err = c.Get(0)
	assert.Error(t, err, "cursor is past the last row")

	c.Reset()
	require.True(t, c.Next())
}

func TestNoLeakAcrossCalls(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	ctx := context.Background()

	c := New(db)
	mustPerform(t, ctx, c, "SELECT * FROM item")
	require.Equal(t, 3, len(c.Rows()))

	mustPerform(t, ctx, c, "UPDATE item SET name = 'x' WHERE id = 1")
	assert.Equal(t, Update, c.SQLType())
	assert.Empty(t, c.Rows())
	assert.Empty(t, c.Columns())
	assert.Equal(t, 1, c.RowCount())
	assert.False(t, c.Next())
}

func TestFindOne(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	ctx := context.Background()
	c := New(db)

	err := c.FindOne(ctx, "SELECT id FROM item WHERE id = 99")
	require.Error(t, err)
	assert.True(t, dberr.IsNoRows(err))

	err = c.FindOne(ctx, "SELECT id FROM item")
	require.Error(t, err)
	assert.True(t, dberr.IsTooManyRows(err))

	require.NoError(t, c.FindOne(ctx, "SELECT name FROM item WHERE id = 2"))
	s, err := c.GetString(0)
	require.NoError(t, err)
	assert.Equal(t, "pear", s, "cursor is positioned on the row")
	assert.Equal(t, 0, c.MaxRow(), "row cap is restored")
}

func TestMaxRows(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	c := New(db)

	c.SetMaxRow(2)
	err := c.Perform(context.Background(), "SELECT * FROM item")
	require.Error(t, err)
	assert.True(t, dberr.IsTooManyRows(err))
	var e *dberr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.RowCount)
	assert.Contains(t, e.SQL, "SELECT * FROM item")

	c.SetMaxRow(3)
	require.NoError(t, c.Perform(context.Background(), "SELECT * FROM item"))
	assert.Equal(t, 0, db.Stats().CheckedOut)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	ctx := WithSession(context.Background(), NewSession())
	c := New(db)

	require.NoError(t, c.BeginTransaction(ctx))
	assert.True(t, c.InTransaction(ctx))
	mustPerform(t, ctx, c, "DELETE FROM item")
	require.NoError(t, c.Rollback(ctx))
	assert.False(t, c.InTransaction(ctx))
	assert.Equal(t, int64(3), countRows(t, db, "item"))
	assert.Equal(t, int64(1), db.Stats().Kills, "rollback discards the connection")

	require.NoError(t, c.BeginTransaction(ctx))
	err := c.BeginTransaction(ctx)
	require.Error(t, err)
	assert.Equal(t, dberr.KindAssertion, dberr.KindOf(err))

	mustPerform(t, ctx, c, "DELETE FROM item WHERE id = 3")
	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, int64(2), countRows(t, db, "item"))
	assert.Equal(t, 0, db.Stats().CheckedOut)

	err = c.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, dberr.KindAssertion, dberr.KindOf(err))
}

func TestSessionSharesTransaction(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	ctx := WithSession(context.Background(), NewSession())

	owner := New(db)
	worker := New(db)
	require.NoError(t, owner.BeginTransaction(ctx))
	assert.True(t, worker.InTransaction(ctx))

	mustPerform(t, ctx, worker, "INSERT INTO item VALUES (4, 'plum', 3)")
	require.NoError(t, worker.FindOne(ctx, "SELECT COUNT(*) FROM item"))
	n, err := worker.GetInt(0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, owner.Rollback(ctx))
	assert.Equal(t, int64(3), countRows(t, db, "item"))
}

func TestSessionClose(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	s := NewSession()
	ctx := WithSession(context.Background(), s)

	c := New(db)
	require.NoError(t, c.BeginTransaction(ctx))
	mustPerform(t, ctx, c, "DELETE FROM item")
	s.Close()

	assert.False(t, s.InTransaction(db))
	assert.Equal(t, int64(3), countRows(t, db, "item"))
	assert.Equal(t, 0, db.Stats().CheckedOut)
}

func TestBatch(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	ctx := WithSession(context.Background(), NewSession())
	c := New(db)
	mustPerform(t, ctx, c, "CREATE TABLE b (id INTEGER, name VARCHAR(20))")

	require.NoError(t, c.BeginTransaction(ctx))
	require.NoError(t, c.AddBatch(ctx, "INSERT INTO b VALUES (1, 'a')"))
	require.NoError(t, c.AddBatch(ctx, "INSERT INTO b VALUES (2, 'b')"))
	require.NoError(t, c.AddPreparedStatement(ctx, "INSERT INTO b VALUES (?, ?)", 3, "c"))
	require.NoError(t, c.AddPreparedStatement(ctx, "INSERT INTO b VALUES (?, ?)", int64(4), "d"))
	require.NoError(t, c.AddPreparedStatement(ctx, "INSERT INTO b VALUES (?, ?)", int32(5), nil))
	require.NoError(t, c.AddPreparedStatement(ctx, "UPDATE b SET name = ? WHERE id <= ?", "z", 2))

	n, err := c.ExecuteBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2+3+2, n)
	assert.Equal(t, n, c.RowCount())
	require.NoError(t, c.Commit(ctx))

	assert.Equal(t, int64(5), countRows(t, db, "b"))
	assert.Equal(t, 0, db.Stats().CheckedOut)
	assert.Equal(t, int64(0), db.Stats().Kills)
}

func TestBatchNeedsTransaction(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	ctx := context.Background()
	c := New(db)

	err := c.AddBatch(ctx, "INSERT INTO b VALUES (1)")
	require.Error(t, err)
	assert.Equal(t, dberr.KindAssertion, dberr.KindOf(err))

	n, err := c.ExecuteBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCommitWithPendingBatch(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	ctx := WithSession(context.Background(), NewSession())
	c := New(db)

	require.NoError(t, c.BeginTransaction(ctx))
	mustPerform(t, ctx, c, "DELETE FROM item WHERE id = 1")
	require.NoError(t, c.AddPreparedStatement(ctx, "DELETE FROM item WHERE id = ?", 2))

	err := c.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, dberr.KindAssertion, dberr.KindOf(err))
	assert.False(t, c.InTransaction(ctx))
	assert.Equal(t, int64(3), countRows(t, db, "item"), "the transaction was rolled back")
}

func TestUnsupportedArgument(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	ctx := context.Background()
	c := New(db)
	mustPerform(t, ctx, c, "CREATE TABLE u (a INTEGER)")

	require.NoError(t, c.BeginTransaction(ctx))
	err := c.AddPreparedStatement(ctx, "INSERT INTO u VALUES (?)", struct{}{})
	require.Error(t, err)
	assert.Equal(t, dberr.KindAssertion, dberr.KindOf(err))
	require.NoError(t, c.Rollback(ctx))
}

func TestCancellation(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	s := NewSession()
	ctx, cancel := context.WithCancel(WithSession(context.Background(), s))
	c := New(db)

	require.NoError(t, c.BeginTransaction(ctx))
	mustPerform(t, ctx, c, "DELETE FROM item")
	cancel()

	err := c.Perform(ctx, "SELECT * FROM item")
	require.Error(t, err)
	assert.True(t, dberr.IsInterrupted(err))
	assert.True(t, dberr.IsFatal(err))
	assert.False(t, s.InTransaction(db), "cancellation rolls back")
	assert.Equal(t, int64(3), countRows(t, db, "item"))

	for _, op := range []func() error{
		func() error { return c.BeginTransaction(ctx) },
		func() error { return c.Commit(ctx) },
		func() error { _, err := c.ExecuteBatch(ctx); return err },
	} {
		assert.True(t, dberr.IsInterrupted(op()))
	}
}

func TestLockedConnection(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)
	ctx := context.Background()
	c := New(db)

	require.NoError(t, c.Lock(ctx))
	assert.True(t, c.IsLocked())
	assert.Equal(t, 1, db.Stats().CheckedOut)

	require.NoError(t, c.BeginTransaction(ctx))
	mustPerform(t, ctx, c, "DELETE FROM item WHERE id = 1")
	require.NoError(t, c.Rollback(ctx))
	assert.Equal(t, int64(0), db.Stats().Kills, "pinned connections survive rollback")

	require.NoError(t, c.BeginTransaction(ctx))
	mustPerform(t, ctx, c, "DELETE FROM item WHERE id = 1")
	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, 1, db.Stats().CheckedOut)

	require.NoError(t, c.BeginTransaction(ctx))
	err := c.Unlock(ctx)
	require.Error(t, err)
	assert.Equal(t, dberr.KindAssertion, dberr.KindOf(err))
	assert.False(t, c.IsLocked())
	assert.Equal(t, 0, db.Stats().CheckedOut)
	assert.Equal(t, int64(2), countRows(t, db, "item"))
}

func TestSelectReadOnlyByDefault(t *testing.T) {
	db := newTestDB(t, database.ProtectionSelectReadOnlyByDefault)
	ctx := context.Background()
	c := New(db)
	mustPerform(t, ctx, c, "CREATE TABLE r (a INTEGER)")
	mustPerform(t, ctx, c, "INSERT INTO r VALUES (1)")
	mustPerform(t, ctx, c, "SELECT a FROM r")
	c.SetReadOnly(true)
	mustPerform(t, ctx, c, "SELECT a FROM r")

	stats := db.Stats()
	assert.Equal(t, 0, stats.CheckedOut)
	assert.Equal(t, int64(0), stats.Kills, "connections come back with consistent flags")
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "acct.db")

	rw, err := database.New("", "", "sqlite", path, database.ProtectionNone, database.WithConfig(config.Default()))
	require.NoError(t, err)
	require.NoError(t, rw.Connect(ctx))
	setup := New(rw)
	mustPerform(t, ctx, setup, "CREATE TABLE acct (id INTEGER)")
	mustPerform(t, ctx, setup, "INSERT INTO acct VALUES (1)")
	require.NoError(t, rw.Close())

	db, err := database.New("", "", "sqlite", path, database.ProtectionReadOnly, database.WithConfig(config.Default()))
	require.NoError(t, err)
	require.NoError(t, db.Connect(ctx))
	t.Cleanup(func() { _ = db.Close() })

	c := New(db)
	refused := []func() error{
		func() error { return c.Perform(ctx, "DELETE FROM acct") },
		func() error { return c.Execute(ctx, "UPDATE acct SET id = 2", true) },
		func() error { return c.Execute(ctx, "SELECT id FROM acct", false) },
		func() error { return c.Perform(ctx, "DROP TABLE acct") },
	}
	for i, call := range refused {
		err := call()
		assert.ErrorIs(t, err, dberr.ErrReadOnly, "statement %d", i)
	}

	// writes the statement kind does not reveal are stopped by the session
	assert.Error(t, c.Perform(ctx, "REPLACE INTO acct VALUES (3)"))

	tctx := WithSession(ctx, NewSession())
	tx := New(db)
	require.NoError(t, tx.BeginTransaction(tctx))
	assert.ErrorIs(t, tx.Perform(tctx, "INSERT INTO acct VALUES (2)"), dberr.ErrReadOnly)
	assert.ErrorIs(t, tx.AddBatch(tctx, "INSERT INTO acct VALUES (2)"), dberr.ErrReadOnly)
	assert.ErrorIs(t, tx.AddPreparedStatement(tctx, "INSERT INTO acct VALUES (?)", 2), dberr.ErrReadOnly)
	mustPerform(t, tctx, tx, "SELECT id FROM acct")
	require.NoError(t, tx.Commit(tctx))

	assert.Equal(t, int64(1), countRows(t, db, "acct"))
	stats := db.Stats()
	assert.Equal(t, 0, stats.CheckedOut)
}

func TestBusyIsDeadlock(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone,
		database.WithProperties(map[string]string{"_busy_timeout": "0"}))
	seed(t, db)
	ctx := WithSession(context.Background(), NewSession())

	writer := New(db)
	require.NoError(t, writer.BeginTransaction(ctx))
	mustPerform(t, ctx, writer, "DELETE FROM item WHERE id = 1")

	other := New(db)
	err := other.Perform(context.Background(), "DELETE FROM item WHERE id = 2")
	require.Error(t, err)
	assert.True(t, dberr.IsDeadlock(err))

	require.NoError(t, writer.Rollback(ctx))
}

func TestTransactRetriesDeadlocks(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	seed(t, db)

	calls := 0
	err := Transact(context.Background(), db, 3, func(ctx context.Context, c *CSQL) error {
		calls++
		if err := c.Perform(ctx, "DELETE FROM item WHERE id = 1"); err != nil {
			return err
		}
		if calls == 1 {
			return dberr.Deadlock(errors.New("simulated"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), countRows(t, db, "item"))

	err = Transact(context.Background(), db, 3, func(ctx context.Context, c *CSQL) error {
		return dberr.Schema("boom")
	})
	require.Error(t, err)
	assert.Equal(t, dberr.KindSchema, dberr.KindOf(err))
}

func TestEncodeTableData(t *testing.T) {
	db := newTestDB(t, database.ProtectionNone)
	ctx := context.Background()
	c := New(db)
	mustPerform(t, ctx, c, "CREATE TABLE e (name VARCHAR(20), n INTEGER)")

	require.NoError(t, Transact(ctx, db, 1, func(ctx context.Context, c *CSQL) error {
		for i, name := range []any{"a\tb", nil, "C:\\x\ny"} {
			if err := c.AddPreparedStatement(ctx, "INSERT INTO e VALUES (?, ?)", name, i+1); err != nil {
				return err
			}
		}
		_, err := c.ExecuteBatch(ctx)
		return err
	}))

	mustPerform(t, ctx, c, "SELECT name, n FROM e ORDER BY n")
	want := "name:STRING\tn:NUMBER\n" +
		"a\\tb\t1\n" +
		"\\N\t2\n" +
		"C:\\\\x\\ny\t3\n"
	assert.Equal(t, want, c.EncodeTableData(true))
	assert.Equal(t, "a\\tb\t1\n\\N\t2\nC:\\\\x\\ny\t3\n", c.EncodeTableData(false))
}

func TestTemporalValues(t *testing.T) {
	cfg := config.Default()
	cfg.Location = time.UTC
	path := filepath.Join(t.TempDir(), "tz.db")
	db, err := database.New("", "", "sqlite", path, database.ProtectionNone, database.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	c := New(db)
	mustPerform(t, ctx, c, "CREATE TABLE ts (at TIMESTAMP)")
	mustPerform(t, ctx, c, "INSERT INTO ts VALUES ('2024-03-01 10:30:00')")
	require.NoError(t, c.FindOne(ctx, "SELECT at FROM ts"))

	got, err := c.GetTime(0)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 10, got.Hour())
	assert.Equal(t, "DATE", c.Columns()[0].Code.Coarse())
}

func TestTimingLog(t *testing.T) {
	var buf bytes.Buffer
	debug.InitTiming(&buf, true)
	t.Cleanup(func() { debug.InitTiming(nil, false) })

	cfg := config.Default()
	cfg.SlowQueryThreshold = time.Nanosecond
	path := filepath.Join(t.TempDir(), "timing.db")
	db, err := database.New("", "", "sqlite", path, database.ProtectionNone, database.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := New(db)
	require.NoError(t, c.Perform(context.Background(), "SELECT 1"))

	out := buf.String()
	assert.Contains(t, out, "logger=sql.timing")
	assert.Contains(t, out, `sql="SELECT 1"`)
	assert.Contains(t, out, "rows=1")
	assert.Contains(t, out, "slow=true")
}
