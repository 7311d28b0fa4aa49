package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	ct "github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// sqliteDialect is the embedded dialect used by local tooling and tests.
type sqliteDialect struct {
	base
}

func newSQLite() *sqliteDialect {
	return &sqliteDialect{base{
		vendor:         SQLite,
		driver:         "sqlite3",
		minVersion:     "3.7",
		versionQuery:   "SELECT sqlite_version()",
		maxStatement:   1000000,
		inlineComments: true,
		readOnlyTx:     true,
		readOnlySQL:    "PRAGMA query_only = ON",
		separator:      ";\n",
		props: map[string]string{
			"_busy_timeout": "5000",
			"_txlock":       "immediate",
		},
		types: []ct.NativeType{
			plain("BOOLEAN", ct.Boolean),
			plain("TINYINT", ct.TinyInt),
			plain("SMALLINT", ct.SmallInt),
			plain("INTEGER", ct.Integer),
			plain("INT", ct.Integer),
			plain("BIGINT", ct.BigInt),
			plain("FLOAT", ct.Float),
			plain("REAL", ct.Real),
			plain("DOUBLE", ct.Double),
			withScale("NUMERIC", ct.Numeric, 0),
			withScale("DECIMAL", ct.Decimal, 0),
			quote(withLength("CHAR", ct.Char, 0)),
			quote(withLength("VARCHAR", ct.VarChar, 0)),
			quote(plain("TEXT", ct.LongVarChar)),
			quote(plain("DATE", ct.Date)),
			quote(plain("TIME", ct.Time)),
			quote(plain("TIMESTAMP", ct.Timestamp)),
			quote(plain("DATETIME", ct.Timestamp)),
			plain("BLOB", ct.Blob),
		},
		aliases: map[string]ct.Alias{
			"BIT":           alias("BOOLEAN"),
			"LONGVARCHAR":   alias("TEXT"),
			"CLOB":          alias("TEXT"),
			"BINARY":        alias("BLOB"),
			"VARBINARY":     alias("BLOB"),
			"LONGVARBINARY": alias("BLOB"),
		},
	}}
}

// BuildDSN treats the URL as a file path or file: URI. Credentials are
// ignored.
func (d *sqliteDialect) BuildDSN(raw, _, _ string, props map[string]string) (string, error) {
	path := strings.TrimPrefix(strings.TrimSpace(raw), "jdbc:")
	path = strings.TrimPrefix(path, "sqlite:")
	path = strings.TrimPrefix(path, "sqlite3:")
	if path == "" {
		return "", fmt.Errorf("sqlite url %q has no path", raw)
	}
	query := encodeQuery(props)
	if query == "" {
		return path, nil
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + query, nil
}

func (d *sqliteDialect) Isolation() sql.IsolationLevel { return sql.LevelDefault }

// AlterColumnSQL returns nil: SQLite rewrites column definitions only by
// rebuilding the table.
func (d *sqliteDialect) AlterColumnSQL(string, string, string, string, bool) []string {
	return nil
}

// CanDropColumn: DROP COLUMN arrived in 3.35.
func (d *sqliteDialect) CanDropColumn(serverVersion string) bool {
	return AtLeast(serverVersion, "3.35")
}

func (d *sqliteDialect) RenameIndexSQL(string, string, string) string { return "" }

func (d *sqliteDialect) UpdateStatsSQL(table string) string {
	return "ANALYZE " + table
}

func (d *sqliteDialect) TablesQuery() string {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'"
}

func (d *sqliteDialect) ColumnsQuery(table string) string {
	return fmt.Sprintf(`SELECT name, type, 0, 0, 0,
  CASE WHEN "notnull" = 0 THEN 'YES' ELSE 'NO' END, dflt_value
FROM pragma_table_info(%s)
ORDER BY cid`, d.EncodeString(table))
}

func (d *sqliteDialect) IndexesQuery(table string) string {
	return fmt.Sprintf(`SELECT il.name, ix.name, ix.seqno + 1, ix."desc", il."unique"
FROM pragma_index_list(%s) AS il, pragma_index_xinfo(il.name) AS ix
WHERE ix.key = 1 AND il.origin = 'c'
ORDER BY il.name, ix.seqno`, d.EncodeString(table))
}

func (d *sqliteDialect) ProceduresQuery() string { return "" }

func (d *sqliteDialect) ShutdownSQL() string { return "PRAGMA optimize" }

// ClassifyError treats BUSY and LOCKED as contention.
func (d *sqliteDialect) ClassifyError(err error) Classification {
	c := classifyMessage(err)
	var se sqlite3.Error
	if errors.As(err, &se) {
		c.Code = int(se.ExtendedCode)
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			c.Kind = dberr.KindDeadlock
		}
	}
	return c
}

func init() {
	Register(newSQLite())
}

// ReadOnlyProperties defers the write lock: an immediate BEGIN is itself a
// write under query_only.
func (d *sqliteDialect) ReadOnlyProperties() map[string]string {
	return map[string]string{"_txlock": "deferred"}
}

// ReadMaxStatementLength reads the connection's SQL length limit.
func (d *sqliteDialect) ReadMaxStatementLength(ctx context.Context, conn *sql.Conn) (int, error) {
	n := 0
	err := conn.Raw(func(dc any) error {
		if c, ok := dc.(*sqlite3.SQLiteConn); ok {
			n = c.GetLimit(sqlite3.SQLITE_LIMIT_SQL_LENGTH)
		}
		return nil
	})
	return n, err
}
