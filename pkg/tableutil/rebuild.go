package tableutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/csql"
)

// asideName returns a table name short enough for every vendor.
func asideName() string {
	return "old_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// rebuild recreates table with the given columns for servers that cannot
// alter or drop a column in place. The table is renamed aside, its indexes
// dropped there, the new table created and filled from the aside copy, and
// the indexes accepted by keep recreated. keep nil keeps every index. The
// aside copy is left in place, without indexes, and its name returned.
//
// The steps run in one transaction; vendors without transactional DDL
// commit as they go and a failure leaves the rows in the aside table.
func (t *TableUtil) rebuild(ctx context.Context, table string, defs []columntype.ColumnDef, keep func(columntype.IndexInfo) bool) (string, error) {
	indexes, err := t.loadIndexes(ctx, table)
	if err != nil {
		return "", err
	}
	cols, err := t.columnClauses(defs)
	if err != nil {
		return "", err
	}
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	list := strings.Join(names, ", ")

	d := t.db.Dialect()
	aside := asideName()
	stmts := []string{d.RenameTableSQL(table, aside)}
	for _, idx := range indexes {
		stmts = append(stmts, d.DropIndexSQL(aside, idx.Name))
	}
	stmts = append(stmts,
		d.CreateTableSQL(table, cols),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", table, list, list, aside),
	)
	for _, idx := range indexes {
		if len(idx.Columns) == 0 || (keep != nil && !keep(idx)) {
			continue
		}
		stmts = append(stmts, d.CreateIndexSQL(table, idx.Name, idx.Unique, idx.ColumnList()))
	}

	debug.Info("rebuilding table", "database", t.db.String(), "table", table, "aside", aside)
	err = csql.Transact(ctx, t.db, 1, func(ctx context.Context, _ *csql.CSQL) error {
		return t.exec(ctx, stmts...)
	})
	if err != nil {
		return "", fmt.Errorf("failed to rebuild %s (aside copy %s): %w", table, aside, err)
	}
	debug.Info("table rebuilt, original kept aside", "database", t.db.String(), "table", table, "aside", aside)
	return aside, nil
}
