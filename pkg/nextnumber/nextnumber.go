// Package nextnumber hands out sequence numbers from a shared table,
// fetching them from the database in blocks.
//
// Each code has one row in next_number holding the next unallocated value.
// A block of cacheSize numbers is claimed by advancing that row inside a
// transaction; the numbers are then served from memory.
package nextnumber

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/retry"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/csql"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/tableutil"
)

const (
	// Table holds one row per sequence code.
	Table = "next_number"

	// DefaultCacheSize is the block size used when none is given.
	DefaultCacheSize = 1

	maxAttempts = 10
	maxCodeLen  = 100
)

// store is the block of numbers fetched for one code.
type store struct {
	mu    sync.Mutex
	next  int64
	limit int64
}

// Stats counts database round trips.
type Stats struct {
	Allocations int64
	Retries     int64
	Stores      int
}

// Generator serves numbers per (DataBase, code).
type Generator struct {
	mu     sync.Mutex
	stores map[string]map[string]*store

	allocations atomic.Int64
	retries     atomic.Int64
}

// New creates a generator with its own in-memory blocks. Two generators
// on the same database never hand out the same number, but each fetches
// its own blocks.
func New() *Generator {
	return &Generator{stores: map[string]map[string]*store{}}
}

var std = New()

// Get returns the next number for code from the default generator.
func Get(ctx context.Context, code string, db *database.DataBase, cacheSize int) (int64, error) {
	return std.Get(ctx, code, db, cacheSize)
}

// Forget drops the default generator's blocks for db.
func Forget(db *database.DataBase) { std.Forget(db) }

// Default returns the generator behind Get.
func Default() *Generator { return std }

func (g *Generator) storeFor(db *database.DataBase, code string) *store {
	g.mu.Lock()
	defer g.mu.Unlock()
	codes, ok := g.stores[db.ID()]
	if !ok {
		codes = map[string]*store{}
		g.stores[db.ID()] = codes
	}
	s, ok := codes[code]
	if !ok {
		s = &store{}
		codes[code] = s
	}
	return s
}

// Get returns the next number for code, fetching a block of cacheSize
// numbers when the current block is used up. Numbers start at 1 and are
// unique per code across every process sharing the database; numbers of a
// block not handed out before the process exits are lost.
//
// A nil db means database.Current() and a cacheSize below 1 means
// DefaultCacheSize.
func (g *Generator) Get(ctx context.Context, code string, db *database.DataBase, cacheSize int) (int64, error) {
	if db == nil {
		if db = database.Current(); db == nil {
			return 0, dberr.Connectivity(nil, "no database given for sequence %q and no current database set", code)
		}
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, dberr.Assertion("sequence code is empty")
	}
	if len(code) > maxCodeLen {
		return 0, dberr.Assertion("sequence code %q is longer than %d", code, maxCodeLen)
	}
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}

	s := g.storeFor(db, code)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < s.limit {
		n := s.next
		s.next++
		return n, nil
	}

	start, err := g.allocate(ctx, db, code, int64(cacheSize))
	if err != nil {
		return 0, err
	}
	s.next, s.limit = start+1, start+int64(cacheSize)
	return start, nil
}

// allocate claims size numbers and returns the first. Contention between
// processes surfaces as deadlocks or duplicate keys and is retried with a
// random sub-second pause.
//
// The claim commits on its own session, never inside a transaction the
// caller has open: a caller rollback must not return numbers already
// handed out.
func (g *Generator) allocate(ctx context.Context, db *database.DataBase, code string, size int64) (int64, error) {
	ctx = csql.WithSession(ctx, csql.NewSession())
	if err := ensureTable(ctx, db); err != nil {
		return 0, err
	}

	var start int64
	err := retry.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			g.retries.Add(1)
			debug.Debug("retrying sequence allocation", "code", code, "attempt", attempt+1)
		}
		return csql.Transact(ctx, db, 1, func(ctx context.Context, c *csql.CSQL) error {
			var err error
			start, err = claim(ctx, c, code, size)
			return err
		})
	},
		retry.WithMaxAttempts(maxAttempts),
		retry.WithInitialDelay(time.Second),
		retry.WithBackoffFactor(1),
		retry.WithJitter(true),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %d numbers for %s on %s: %w", size, code, db, err)
	}
	g.allocations.Add(1)
	return start, nil
}

// claim advances the row of code by size. A missing row is inserted; a
// concurrent insert of the same code fails on the unique index and is
// retried by the caller.
func claim(ctx context.Context, c *csql.CSQL, code string, size int64) (int64, error) {
	key := c.DataBase().EncodeString(code)
	update := fmt.Sprintf("UPDATE %s SET next_value = next_value + %d WHERE code = %s", Table, size, key)
	if err := c.Execute(ctx, update, false); err != nil {
		return 0, err
	}
	if c.RowCount() == 0 {
		insert := fmt.Sprintf("INSERT INTO %s (code, next_value) VALUES (%s, %d)", Table, key, size+1)
		if err := c.Execute(ctx, insert, false); err != nil {
			return 0, err
		}
		return 1, nil
	}

	if err := c.FindOne(ctx, fmt.Sprintf("SELECT next_value FROM %s WHERE code = %s", Table, key)); err != nil {
		return 0, err
	}
	next, err := c.GetInt64(0)
	if err != nil {
		return 0, err
	}
	return next - size, nil
}

// ensureTable creates next_number on first use. Losing a creation race to
// another process is not an error.
func ensureTable(ctx context.Context, db *database.DataBase) error {
	tu := tableutil.Find(db)
	exists, err := tu.DoesTableExist(ctx, Table)
	if err != nil || exists {
		return err
	}
	err = tu.CreateTable(ctx, Table, []columntype.ColumnDef{
		{Name: "code", Type: "VARCHAR", Size: maxCodeLen},
		{Name: "next_value", Type: "BIGINT"},
	})
	if err != nil && !errors.Is(err, dberr.ErrSchema) {
		return err
	}
	err = tu.CreateIndex(ctx, Table, Table+"_code", true, "code")
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", Table, err)
	}
	return nil
}

// Forget drops the blocks held for db. Their unused numbers are lost.
func (g *Generator) Forget(db *database.DataBase) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.stores, db.ID())
}

// Stats reports allocation round trips and retries since creation.
func (g *Generator) Stats() Stats {
	g.mu.Lock()
	n := 0
	for _, codes := range g.stores {
		n += len(codes)
	}
	g.mu.Unlock()
	return Stats{
		Allocations: g.allocations.Load(),
		Retries:     g.retries.Load(),
		Stores:      n,
	}
}
