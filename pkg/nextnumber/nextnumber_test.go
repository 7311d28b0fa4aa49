package nextnumber

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/config"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/csql"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/tableutil"
)

func newTestDB(t *testing.T) *database.DataBase {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seq.db")
	db, err := database.New("", "", "sqlite", path, database.ProtectionNone, database.WithConfig(config.Default()))
	require.NoError(t, err)
	require.NoError(t, db.Connect(context.Background()))
	t.Cleanup(func() {
		tableutil.Forget(db)
		Forget(db)
		_ = db.Close()
	})
	return db
}

func stored(t *testing.T, db *database.DataBase, code string) int64 {
	t.Helper()
	c := csql.New(db)
	require.NoError(t, c.FindOne(context.Background(), "SELECT next_value FROM next_number WHERE code = '"+code+"'"))
	n, err := c.GetInt64(0)
	require.NoError(t, err)
	return n
}

func TestGetFetchesBlocks(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	g := New()

	for want := int64(1); want <= 10; want++ {
		got, err := g.Get(ctx, "invoice", db, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	st := g.Stats()
	assert.Equal(t, int64(2), st.Allocations)
	assert.Equal(t, 1, st.Stores)
	assert.Equal(t, int64(11), stored(t, db, "invoice"))

	exists, err := tableutil.Find(db).DoesTableExist(ctx, Table)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCodesAreIndependent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	g := New()

	a, err := g.Get(ctx, "a", db, 10)
	require.NoError(t, err)
	b, err := g.Get(ctx, "b", db, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(1), b)
	assert.Equal(t, 2, g.Stats().Stores)
}

func TestForgetLosesBlock(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	g := New()

	n, err := g.Get(ctx, "order", db, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	g.Forget(db)
	assert.Equal(t, 0, g.Stats().Stores)
	n, err = g.Get(ctx, "order", db, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(101), n)
}

func TestGeneratorsShareTheTable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	const (
		workers = 4
		each    = 30
	)

	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
		wg   sync.WaitGroup
	)
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := New()
			for i := 0; i < each; i++ {
				n, err := g.Get(ctx, "shared", db, 3)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				if seen[n] {
					mu.Unlock()
					errs <- assert.AnError
					return
				}
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, seen, workers*each)
}

func TestDefaultGenerator(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first, err := Get(ctx, "ticket", db, 0)
	require.NoError(t, err)
	second, err := Get(ctx, "ticket", db, 0)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
	assert.Same(t, std, Default())
}

func TestGetUsesCurrentDatabase(t *testing.T) {
	ctx := context.Background()
	prev := database.Current()
	t.Cleanup(func() { database.SetCurrent(prev) })

	database.SetCurrent(nil)
	_, err := New().Get(ctx, "order", nil, 0)
	assert.ErrorIs(t, err, dberr.ErrConnectivity)

	db := newTestDB(t)
	database.SetCurrent(db)
	g := New()
	for want := int64(1); want <= 3; want++ {
		got, err := g.Get(ctx, "order", nil, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, int64(3), g.Stats().Allocations, "one number per block by default")
	assert.Equal(t, int64(4), stored(t, db, "order"))
}

func TestInvalidCode(t *testing.T) {
	db := newTestDB(t)
	_, err := New().Get(context.Background(), "  ", db, 1)
	assert.ErrorIs(t, err, dberr.ErrAssertion)

	long := make([]byte, maxCodeLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = New().Get(context.Background(), string(long), db, 1)
	assert.ErrorIs(t, err, dberr.ErrAssertion)
}

func TestCancelledContext(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Get(ctx, "late", db, 1)
	require.Error(t, err)
	assert.True(t, dberr.IsInterrupted(err))
}
