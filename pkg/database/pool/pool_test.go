package pool

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

func newTestPool(t *testing.T, config Config) *Pool {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "pool.db") + "?_busy_timeout=5000"
	p, err := Open("sqlite3", dsn, config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestCheckOutReusesIdleConnection(t *testing.T) {
	p := newTestPool(t, Config{MaxConnections: 2})
	ctx := context.Background()

	c1, err := p.CheckOut(ctx)
	require.NoError(t, err)
	id := c1.ID()
	require.NoError(t, p.CheckIn(c1))

	c2, err := p.CheckOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, c2.ID())
	require.NoError(t, p.CheckIn(c2))

	stats := p.Stats()
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.CheckedOut)
	assert.Equal(t, int64(2), stats.CheckOuts)
}

func TestSaturatedPoolTimesOut(t *testing.T) {
	p := newTestPool(t, Config{
		MaxConnections: 1,
		PollInterval:   10 * time.Millisecond,
		WaitTimeout:    80 * time.Millisecond,
	})
	ctx := context.Background()

	held, err := p.CheckOut(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.CheckOut(ctx)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, dberr.ErrConnectivity))
	assert.Contains(t, err.Error(), "pool timeout")
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Equal(t, int64(1), p.Stats().Timeouts)

	require.NoError(t, p.CheckIn(held))
}

func TestCheckOutWaitsForCheckIn(t *testing.T) {
	p := newTestPool(t, Config{
		MaxConnections: 1,
		PollInterval:   5 * time.Millisecond,
		WaitTimeout:    5 * time.Second,
	})
	ctx := context.Background()

	held, err := p.CheckOut(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = p.CheckIn(held)
	}()

	c, err := p.CheckOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, held.ID(), c.ID())
	assert.Equal(t, int64(1), p.Stats().Waits)
	require.NoError(t, p.CheckIn(c))
}

func TestCheckOutCancelled(t *testing.T) {
	p := newTestPool(t, Config{MaxConnections: 1, PollInterval: time.Second, WaitTimeout: time.Minute})

	held, err := p.CheckOut(context.Background())
	require.NoError(t, err)
	defer func() { _ = p.CheckIn(held) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.CheckOut(ctx)
	require.Error(t, err)
	assert.True(t, dberr.IsInterrupted(err))
}

func TestCheckInValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("open transaction", func(t *testing.T) {
		p := newTestPool(t, Config{MaxConnections: 2})
		c, err := p.CheckOut(ctx)
		require.NoError(t, err)
		require.NoError(t, c.Begin(ctx, nil))

		err = p.CheckIn(c)
		require.Error(t, err)
		assert.Equal(t, dberr.KindAssertion, dberr.KindOf(err))
		assert.Contains(t, err.Error(), "autocommit")
		assert.True(t, c.IsClosed())
		assert.Equal(t, 0, p.Stats().Open)
	})

	t.Run("read-only mismatch", func(t *testing.T) {
		p := newTestPool(t, Config{MaxConnections: 2, ReadOnly: true})
		c, err := p.CheckOut(ctx)
		require.NoError(t, err)
		assert.True(t, c.ReadOnly())
		c.SetReadOnly(false)

		err = p.CheckIn(c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read-only")
	})

	t.Run("leaked statement", func(t *testing.T) {
		p := newTestPool(t, Config{MaxConnections: 2})
		c, err := p.CheckOut(ctx)
		require.NoError(t, err)
		_, err = c.Prepare(ctx, "SELECT 1")
		require.NoError(t, err)
		assert.Equal(t, 1, c.OpenStatements())

		err = p.CheckIn(c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "statements still open")
		assert.Equal(t, int64(1), p.Stats().Kills)
	})

	t.Run("killed connection", func(t *testing.T) {
		p := newTestPool(t, Config{MaxConnections: 2})
		c, err := p.CheckOut(ctx)
		require.NoError(t, err)
		p.Kill(c)
		p.Kill(c)

		err = p.CheckIn(c)
		require.Error(t, err)
		assert.Equal(t, 0, p.Stats().Open)
		assert.Equal(t, int64(1), p.Stats().Kills)
	})
}

func TestTransactionExecutor(t *testing.T) {
	p := newTestPool(t, Config{MaxConnections: 1})
	ctx := context.Background()

	c, err := p.CheckOut(ctx)
	require.NoError(t, err)
	_, err = c.Executor().ExecContext(ctx, "CREATE TABLE t (a INTEGER)")
	require.NoError(t, err)

	require.NoError(t, c.Begin(ctx, &sql.TxOptions{}))
	assert.False(t, c.AutoCommit())
	_, err = c.Executor().ExecContext(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, c.Rollback())
	assert.True(t, c.AutoCommit())

	var n int
	require.NoError(t, c.Raw().QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, c.Begin(ctx, nil))
	_, err = c.Executor().ExecContext(ctx, "INSERT INTO t VALUES (2)")
	require.NoError(t, err)
	require.NoError(t, c.Commit())
	require.NoError(t, c.Raw().QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, p.CheckIn(c))
}

func TestClosedPool(t *testing.T) {
	p := newTestPool(t, Config{MaxConnections: 1})
	require.NoError(t, p.Close())
	_, err := p.CheckOut(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestReadOnlySessionStatement(t *testing.T) {
	p := newTestPool(t, Config{MaxConnections: 1, ReadOnly: true, ReadOnlySQL: "PRAGMA query_only = ON"})
	ctx := context.Background()

	c, err := p.CheckOut(ctx)
	require.NoError(t, err)
	assert.True(t, c.ReadOnly())
	_, err = c.Executor().ExecContext(ctx, "CREATE TABLE t (a INTEGER)")
	assert.Error(t, err, "new connections refuse writes")
	require.NoError(t, p.CheckIn(c))

	bad := newTestPool(t, Config{MaxConnections: 1, ReadOnly: true, ReadOnlySQL: "NOT A STATEMENT"})
	_, err = bad.CheckOut(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberr.ErrConnectivity)
	assert.Equal(t, 0, bad.Stats().Open)
}
