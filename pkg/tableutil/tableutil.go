// Package tableutil caches schema metadata per DataBase and runs DDL
// through the database's dialect.
//
// Every cache is guarded by one mutex per DataBase. Population queries run
// while the mutex is held.
package tableutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/csql"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// TableUtil is the schema cache of one DataBase.
type TableUtil struct {
	db *database.DataBase

	mu sync.Mutex
	// tables maps the lower-cased name to the name as the server reports
	// it; nil until loaded.
	tables     map[string]string
	columns    map[string][]columntype.ColumnInfo
	indexes    map[string][]columntype.IndexInfo
	procedures map[string]bool
}

var (
	registryMu sync.Mutex
	registry   = map[string]*TableUtil{}
)

// Find returns the cache for db, creating it on first use.
func Find(db *database.DataBase) *TableUtil {
	registryMu.Lock()
	defer registryMu.Unlock()
	if t, ok := registry[db.ID()]; ok {
		return t
	}
	t := &TableUtil{db: db}
	t.reset()
	registry[db.ID()] = t
	return t
}

// Forget drops the cache for db.
func Forget(db *database.DataBase) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, db.ID())
}

// ClearAll drops every cache, for memory pressure or shutdown.
func ClearAll() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[string]*TableUtil{}
}

// DataBase returns the database the cache describes.
func (t *TableUtil) DataBase() *database.DataBase { return t.db }

// Clear invalidates everything cached for the database.
func (t *TableUtil) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

func (t *TableUtil) reset() {
	t.tables = nil
	t.columns = map[string][]columntype.ColumnInfo{}
	t.indexes = map[string][]columntype.IndexInfo{}
	t.procedures = nil
}

// invalidate drops the entries of the named tables and the table list.
func (t *TableUtil) invalidate(tables ...string) {
	t.tables = nil
	for _, table := range tables {
		key := strings.ToLower(table)
		delete(t.columns, key)
		delete(t.indexes, key)
	}
}

// query runs an introspection query and returns its materialized result.
func (t *TableUtil) query(ctx context.Context, stmt string) (*csql.CSQL, error) {
	c := csql.New(t.db)
	if err := c.Execute(ctx, stmt, true); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *TableUtil) loadTables(ctx context.Context) error {
	if t.tables != nil {
		return nil
	}
	c, err := t.query(ctx, t.db.Dialect().TablesQuery())
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	tables := make(map[string]string, c.RowCount())
	for c.Next() {
		name, err := c.GetString(0)
		if err != nil {
			return err
		}
		name = strings.TrimSpace(name)
		tables[strings.ToLower(name)] = name
	}
	t.tables = tables
	debug.Debug("loaded table list", "database", t.db.String(), "tables", len(tables))
	return nil
}

func (t *TableUtil) tableExists(ctx context.Context, table string) (bool, error) {
	if err := t.loadTables(ctx); err != nil {
		return false, err
	}
	_, ok := t.tables[strings.ToLower(table)]
	return ok, nil
}

// ListTables returns the table names, sorted.
func (t *TableUtil) ListTables(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadTables(ctx); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(t.tables))
	for _, name := range t.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DoesTableExist reports whether the table exists, ignoring case.
func (t *TableUtil) DoesTableExist(ctx context.Context, table string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tableExists(ctx, table)
}

func (t *TableUtil) loadColumns(ctx context.Context, table string) ([]columntype.ColumnInfo, error) {
	key := strings.ToLower(table)
	if cols, ok := t.columns[key]; ok {
		return cols, nil
	}
	exists, err := t.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, dberr.Schema("table %s does not exist", table)
	}

	c, err := t.query(ctx, t.db.Dialect().ColumnsQuery(t.tables[key]))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	types := t.db.ColumnTypes()
	var cols []columntype.ColumnInfo
	for c.Next() {
		info, err := readColumn(c, types)
		if err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		cols = append(cols, info)
	}
	t.columns[key] = cols
	return cols, nil
}

// readColumn converts one row of name, type, size, precision, scale,
// nullable, default.
func readColumn(c *csql.CSQL, types *columntype.Registry) (columntype.ColumnInfo, error) {
	var info columntype.ColumnInfo
	var err error
	if info.Name, err = c.GetString(0); err != nil {
		return info, err
	}
	declared, err := c.GetString(1)
	if err != nil {
		return info, err
	}
	if info.Size, err = c.GetInt(2); err != nil {
		return info, err
	}
	if info.Precision, err = c.GetInt(3); err != nil {
		return info, err
	}
	if info.Scale, err = c.GetInt(4); err != nil {
		return info, err
	}
	nullable, err := c.GetString(5)
	if err != nil {
		return info, err
	}
	var (
		def  *string
		expr bool
	)
	if null, err := c.IsNull(6); err == nil && !null {
		raw, err := c.GetString(6)
		if err != nil {
			return info, err
		}
		def, expr = normalizeDefault(raw)
	}

	info.Name = strings.TrimSpace(info.Name)
	info.TypeName, info.Size, info.Scale = normalizeType(declared, info.Size, info.Scale)
	info.Code = types.CodeOfNative(info.TypeName)
	if info.Precision == 0 && info.Code.IsNumeric() && !info.Code.IsInteger() {
		info.Precision = info.Size
	}
	info.Nullable = isNullable(nullable)
	info.Default = def
	info.DefaultExpr = expr
	return info, nil
}

// GetColumns returns the columns of table in ordinal order.
func (t *TableUtil) GetColumns(ctx context.Context, table string) ([]columntype.ColumnInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cols, err := t.loadColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	return append([]columntype.ColumnInfo(nil), cols...), nil
}

func findColumn(cols []columntype.ColumnInfo, name string) (columntype.ColumnInfo, bool) {
	for _, col := range cols {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return columntype.ColumnInfo{}, false
}

// GetColumn returns one column; a missing table or column is a schema
// error.
func (t *TableUtil) GetColumn(ctx context.Context, table, column string) (columntype.ColumnInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cols, err := t.loadColumns(ctx, table)
	if err != nil {
		return columntype.ColumnInfo{}, err
	}
	col, ok := findColumn(cols, column)
	if !ok {
		return columntype.ColumnInfo{}, dberr.Schema("column %s.%s does not exist", table, column)
	}
	return col, nil
}

// DoesColumnExist reports whether the column exists; false when the table
// does not.
func (t *TableUtil) DoesColumnExist(ctx context.Context, table, column string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	exists, err := t.tableExists(ctx, table)
	if err != nil || !exists {
		return false, err
	}
	cols, err := t.loadColumns(ctx, table)
	if err != nil {
		return false, err
	}
	_, ok := findColumn(cols, column)
	return ok, nil
}

func (t *TableUtil) loadIndexes(ctx context.Context, table string) ([]columntype.IndexInfo, error) {
	key := strings.ToLower(table)
	if idx, ok := t.indexes[key]; ok {
		return idx, nil
	}
	exists, err := t.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, dberr.Schema("table %s does not exist", table)
	}

	var indexes []columntype.IndexInfo
	if q := t.db.Dialect().IndexesQuery(t.tables[key]); q != "" {
		c, err := t.query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to read indexes of %s: %w", table, err)
		}
		if indexes, err = readIndexes(c, t.tables[key]); err != nil {
			return nil, fmt.Errorf("failed to read indexes of %s: %w", table, err)
		}
	}
	t.indexes[key] = indexes
	return indexes, nil
}

// readIndexes groups rows of index name, column, position, descending,
// unique into one IndexInfo per index, in first-seen order.
func readIndexes(c *csql.CSQL, table string) ([]columntype.IndexInfo, error) {
	var indexes []columntype.IndexInfo
	pos := map[string]int{}
	for c.Next() {
		name, err := c.GetString(0)
		if err != nil {
			return nil, err
		}
		name = strings.TrimSpace(name)
		column, err := c.GetString(1)
		if err != nil {
			return nil, err
		}
		position, err := c.GetInt(2)
		if err != nil {
			return nil, err
		}
		desc, err := c.GetBool(3)
		if err != nil {
			return nil, err
		}
		unique, err := c.GetBool(4)
		if err != nil {
			return nil, err
		}

		key := strings.ToLower(name)
		i, ok := pos[key]
		if !ok {
			i = len(indexes)
			pos[key] = i
			indexes = append(indexes, columntype.IndexInfo{Name: name, Table: table, Unique: unique})
		}
		if column = strings.TrimSpace(column); column != "" {
			indexes[i].Columns = append(indexes[i].Columns, columntype.IndexColumnInfo{
				Name:       column,
				Position:   position,
				Descending: desc,
			})
		}
	}
	for i := range indexes {
		cols := indexes[i].Columns
		sort.SliceStable(cols, func(a, b int) bool { return cols[a].Position < cols[b].Position })
	}
	return indexes, nil
}

// GetIndexes returns the indexes of table.
func (t *TableUtil) GetIndexes(ctx context.Context, table string) ([]columntype.IndexInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, err := t.loadIndexes(ctx, table)
	if err != nil {
		return nil, err
	}
	return append([]columntype.IndexInfo(nil), idx...), nil
}

func findIndex(indexes []columntype.IndexInfo, name string) (columntype.IndexInfo, bool) {
	for _, idx := range indexes {
		if strings.EqualFold(idx.Name, name) {
			return idx, true
		}
	}
	return columntype.IndexInfo{}, false
}

// FetchIndexInfo returns the named index of table, reporting whether it
// exists.
func (t *TableUtil) FetchIndexInfo(ctx context.Context, table, name string) (columntype.IndexInfo, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, err := t.loadIndexes(ctx, table)
	if err != nil {
		return columntype.IndexInfo{}, false, err
	}
	info, ok := findIndex(idx, name)
	return info, ok, nil
}

// DoesProcedureExist reports whether a stored procedure exists. Dialects
// without procedures always report false.
func (t *TableUtil) DoesProcedureExist(ctx context.Context, name string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.procedures == nil {
		procs := map[string]bool{}
		if q := t.db.Dialect().ProceduresQuery(); q != "" {
			c, err := t.query(ctx, q)
			if err != nil {
				return false, fmt.Errorf("failed to list procedures: %w", err)
			}
			for c.Next() {
				p, err := c.GetString(0)
				if err != nil {
					return false, err
				}
				procs[strings.ToLower(strings.TrimSpace(p))] = true
			}
		}
		t.procedures = procs
	}
	return t.procedures[strings.ToLower(name)], nil
}
