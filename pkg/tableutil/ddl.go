package tableutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/retry"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/csql"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

const createTableAttempts = 3

// exec runs DDL statements in order, skipping empty ones.
func (t *TableUtil) exec(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		debug.Debug("ddl", "database", t.db.String(), "sql", stmt)
		if err := csql.New(t.db).Execute(ctx, stmt, false); err != nil {
			return err
		}
	}
	return nil
}

// mutate runs fn under the cache lock. On success the named tables are
// invalidated; on failure everything is, since the schema state is no
// longer known.
func (t *TableUtil) mutate(tables []string, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := fn(); err != nil {
		if !errors.Is(err, dberr.ErrSchema) {
			t.reset()
		}
		return err
	}
	t.invalidate(tables...)
	return nil
}

// clause renders the type clause of a column definition.
func (t *TableUtil) clause(def columntype.ColumnDef) (string, error) {
	c, err := t.db.ColumnTypes().ColumnClause(def)
	if err != nil {
		return "", dberr.Schema("column %s: %v", def.Name, err)
	}
	return c, nil
}

func (t *TableUtil) columnClauses(defs []columntype.ColumnDef) ([]string, error) {
	out := make([]string, len(defs))
	for i, def := range defs {
		c, err := t.clause(def)
		if err != nil {
			return nil, err
		}
		out[i] = def.Name + " " + c
	}
	return out, nil
}

// CreateTable creates a table. Creation races are retried up to three
// times with randomized backoff; a table that appears while retrying is
// taken as created, one that already existed on the first attempt is a
// schema error.
func (t *TableUtil) CreateTable(ctx context.Context, table string, columns []columntype.ColumnDef) error {
	if len(columns) == 0 {
		return dberr.Schema("table %s needs at least one column", table)
	}
	cols, err := t.columnClauses(columns)
	if err != nil {
		return err
	}
	stmt := t.db.Dialect().CreateTableSQL(table, cols)

	return retry.Do(ctx, func(attempt int) error {
		return t.mutate([]string{table}, func() error {
			exists, err := t.tableExists(ctx, table)
			if err != nil {
				return err
			}
			if exists {
				if attempt == 0 {
					return dberr.Schema("table %s already exists", table)
				}
				return nil
			}
			if err := t.exec(ctx, stmt); err != nil {
				debug.Warn("create table failed", "table", table, "attempt", attempt+1, "error", err)
				return fmt.Errorf("failed to create table %s: %w", table, err)
			}
			return nil
		})
	},
		retry.WithMaxAttempts(createTableAttempts),
		retry.WithInitialDelay(250*time.Millisecond),
		retry.WithJitter(true),
		retry.WithRetryable(func(err error) bool {
			return !dberr.IsFatal(err) && !errors.Is(err, dberr.ErrSchema)
		}),
	)
}

// AddColumn adds a column; the table must exist and the column must not.
func (t *TableUtil) AddColumn(ctx context.Context, table string, col columntype.ColumnDef) error {
	return t.mutate([]string{table}, func() error {
		cols, err := t.loadColumns(ctx, table)
		if err != nil {
			return err
		}
		if _, ok := findColumn(cols, col.Name); ok {
			return dberr.Schema("column %s.%s already exists", table, col.Name)
		}
		c, err := t.clause(col)
		if err != nil {
			return err
		}
		return t.exec(ctx, t.db.Dialect().AddColumnSQL(t.tables[strings.ToLower(table)], col.Name, c))
	})
}

// AlterColumn changes the type, nullability or default of an existing
// column. Dialects that cannot alter in place rebuild the table.
func (t *TableUtil) AlterColumn(ctx context.Context, table string, col columntype.ColumnDef) error {
	return t.mutate([]string{table}, func() error {
		cols, err := t.loadColumns(ctx, table)
		if err != nil {
			return err
		}
		old, ok := findColumn(cols, col.Name)
		if !ok {
			return dberr.Schema("column %s.%s does not exist", table, col.Name)
		}
		native, _, err := t.db.ColumnTypes().NativeDecl(col.Type, col.Size, col.Scale)
		if err != nil {
			return dberr.Schema("column %s: %v", col.Name, err)
		}
		c, err := t.clause(col)
		if err != nil {
			return err
		}

		name := t.tables[strings.ToLower(table)]
		stmts := t.db.Dialect().AlterColumnSQL(name, old.Name, native, c, col.Nullable)
		if stmts != nil {
			return t.exec(ctx, stmts...)
		}

		defs := make([]columntype.ColumnDef, len(cols))
		for i, info := range cols {
			defs[i] = info.Def()
			if strings.EqualFold(info.Name, col.Name) {
				defs[i] = col
				defs[i].Name = info.Name
			}
		}
		_, err = t.rebuild(ctx, name, defs, nil)
		return err
	})
}

// DropColumn removes a column, rebuilding the table where the server
// cannot drop columns.
func (t *TableUtil) DropColumn(ctx context.Context, table, column string) error {
	return t.mutate([]string{table}, func() error {
		cols, err := t.loadColumns(ctx, table)
		if err != nil {
			return err
		}
		if _, ok := findColumn(cols, column); !ok {
			return dberr.Schema("column %s.%s does not exist", table, column)
		}
		if len(cols) == 1 {
			return dberr.Schema("cannot drop %s, the only column of %s", column, table)
		}

		name := t.tables[strings.ToLower(table)]
		d := t.db.Dialect()
		if d.CanDropColumn(t.db.Version()) {
			indexes, err := t.loadIndexes(ctx, table)
			if err != nil {
				return err
			}
			// Indexes covering the column go first; not every server drops
			// them with it.
			for _, idx := range indexes {
				if idx.HasColumn(column) {
					if err := t.exec(ctx, d.DropIndexSQL(name, idx.Name)); err != nil {
						return err
					}
				}
			}
			return t.exec(ctx, d.DropColumnSQL(name, column))
		}

		var defs []columntype.ColumnDef
		for _, info := range cols {
			if !strings.EqualFold(info.Name, column) {
				defs = append(defs, info.Def())
			}
		}
		_, err = t.rebuild(ctx, name, defs, func(idx columntype.IndexInfo) bool {
			return !idx.HasColumn(column)
		})
		return err
	})
}

// RenameColumn renames a column; the target name must be free.
func (t *TableUtil) RenameColumn(ctx context.Context, table, from, to string) error {
	return t.mutate([]string{table}, func() error {
		cols, err := t.loadColumns(ctx, table)
		if err != nil {
			return err
		}
		old, ok := findColumn(cols, from)
		if !ok {
			return dberr.Schema("column %s.%s does not exist", table, from)
		}
		if _, ok := findColumn(cols, to); ok && !strings.EqualFold(from, to) {
			return dberr.Schema("column %s.%s already exists", table, to)
		}
		def := old.Def()
		c, err := t.clause(def)
		if err != nil {
			return err
		}
		return t.exec(ctx, t.db.Dialect().RenameColumnSQL(t.tables[strings.ToLower(table)], old.Name, to, c))
	})
}

// RenameTable renames a table; the target name must be free.
func (t *TableUtil) RenameTable(ctx context.Context, from, to string) error {
	return t.mutate([]string{from, to}, func() error {
		exists, err := t.tableExists(ctx, from)
		if err != nil {
			return err
		}
		if !exists {
			return dberr.Schema("table %s does not exist", from)
		}
		if taken, err := t.tableExists(ctx, to); err != nil {
			return err
		} else if taken && !strings.EqualFold(from, to) {
			return dberr.Schema("table %s already exists", to)
		}
		return t.exec(ctx, t.db.Dialect().RenameTableSQL(t.tables[strings.ToLower(from)], to))
	})
}

// DropTable drops a table.
func (t *TableUtil) DropTable(ctx context.Context, table string) error {
	return t.mutate([]string{table}, func() error {
		exists, err := t.tableExists(ctx, table)
		if err != nil {
			return err
		}
		if !exists {
			return dberr.Schema("table %s does not exist", table)
		}
		return t.exec(ctx, t.db.Dialect().DropTableSQL(t.tables[strings.ToLower(table)]))
	})
}

// CreateIndex creates an index over columns ("a, b DESC"). When an index
// of that name exists with the same columns and uniqueness nothing is
// done; any other index of that name is dropped and recreated.
func (t *TableUtil) CreateIndex(ctx context.Context, table, name string, unique bool, columns string) error {
	want := columntype.ParseIndexColumns(columns)
	if len(want) == 0 {
		return dberr.Schema("index %s has no columns", name)
	}
	return t.mutate([]string{table}, func() error {
		cols, err := t.loadColumns(ctx, table)
		if err != nil {
			return err
		}
		for _, c := range want {
			if _, ok := findColumn(cols, c.Name); !ok {
				return dberr.Schema("index %s: column %s.%s does not exist", name, table, c.Name)
			}
		}
		indexes, err := t.loadIndexes(ctx, table)
		if err != nil {
			return err
		}

		tableName := t.tables[strings.ToLower(table)]
		d := t.db.Dialect()
		if existing, ok := findIndex(indexes, name); ok {
			// Catalogs that report names only leave Columns empty.
			if len(existing.Columns) == 0 || existing.Matches(unique, want) {
				return nil
			}
			debug.Info("recreating index with different definition",
				"table", table, "index", name, "had", existing.ColumnList())
			if err := t.exec(ctx, d.DropIndexSQL(tableName, existing.Name)); err != nil {
				return err
			}
		}
		list := columntype.IndexInfo{Columns: want}.ColumnList()
		return t.exec(ctx, d.CreateIndexSQL(tableName, name, unique, list))
	})
}

// DropIndex drops an index of table.
func (t *TableUtil) DropIndex(ctx context.Context, table, name string) error {
	return t.mutate([]string{table}, func() error {
		indexes, err := t.loadIndexes(ctx, table)
		if err != nil {
			return err
		}
		idx, ok := findIndex(indexes, name)
		if !ok {
			return dberr.Schema("index %s on %s does not exist", name, table)
		}
		return t.exec(ctx, t.db.Dialect().DropIndexSQL(t.tables[strings.ToLower(table)], idx.Name))
	})
}

// DropAllIndexes drops every secondary index of table.
func (t *TableUtil) DropAllIndexes(ctx context.Context, table string) error {
	return t.mutate([]string{table}, func() error {
		indexes, err := t.loadIndexes(ctx, table)
		if err != nil {
			return err
		}
		return t.dropIndexes(ctx, t.tables[strings.ToLower(table)], indexes)
	})
}

func (t *TableUtil) dropIndexes(ctx context.Context, table string, indexes []columntype.IndexInfo) error {
	d := t.db.Dialect()
	for _, idx := range indexes {
		if err := t.exec(ctx, d.DropIndexSQL(table, idx.Name)); err != nil {
			return err
		}
	}
	return nil
}

// RenameIndex renames an index, by drop and create where the server has
// no rename.
func (t *TableUtil) RenameIndex(ctx context.Context, table, from, to string) error {
	return t.mutate([]string{table}, func() error {
		indexes, err := t.loadIndexes(ctx, table)
		if err != nil {
			return err
		}
		idx, ok := findIndex(indexes, from)
		if !ok {
			return dberr.Schema("index %s on %s does not exist", from, table)
		}
		if _, taken := findIndex(indexes, to); taken && !strings.EqualFold(from, to) {
			return dberr.Schema("index %s on %s already exists", to, table)
		}

		name := t.tables[strings.ToLower(table)]
		d := t.db.Dialect()
		if stmt := d.RenameIndexSQL(name, idx.Name, to); stmt != "" {
			return t.exec(ctx, stmt)
		}
		if len(idx.Columns) == 0 {
			return dberr.Schema("index %s on %s cannot be renamed: columns unknown", from, table)
		}
		return t.exec(ctx,
			d.DropIndexSQL(name, idx.Name),
			d.CreateIndexSQL(name, to, idx.Unique, idx.ColumnList()),
		)
	})
}

// UpdateStats refreshes optimizer statistics for table where the vendor
// supports it.
func (t *TableUtil) UpdateStats(ctx context.Context, table string) error {
	stmt := t.db.Dialect().UpdateStatsSQL(table)
	if stmt == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to update statistics of %s: %w", table, err)
	}
	return nil
}
