package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

type identCase int

const (
	keepCase identCase = iota
	lowerCase
	upperCase
)

// base carries the behaviour most vendors share. Vendor types embed it and
// override what differs.
type base struct {
	vendor         Vendor
	driver         string
	minVersion     string
	versionQuery   string
	maxConnQuery   string
	maxStatement   int
	inlineComments bool
	readOnlyTx     bool
	readOnlySQL    string
	separator      string
	identCase      identCase
	props          map[string]string

	types        []columntype.NativeType
	aliases      map[string]columntype.Alias
	varcharLimit int
	largeText    string
	nullKeyword  string
}

func (b *base) Vendor() Vendor                 { return b.vendor }
func (b *base) DriverName() string             { return b.driver }
func (b *base) MinimumVersion() string         { return b.minVersion }
func (b *base) VersionQuery() string           { return b.versionQuery }
func (b *base) MaxConnectionsQuery() string    { return b.maxConnQuery }
func (b *base) DefaultMaxStatementLength() int { return b.maxStatement }
func (b *base) SupportsInlineComments() bool   { return b.inlineComments }
func (b *base) SupportsReadOnlyTx() bool       { return b.readOnlyTx }
func (b *base) BatchSeparator() string         { return b.separator }
func (b *base) ReadOnlySessionSQL() string     { return b.readOnlySQL }

func (b *base) ReadOnlyProperties() map[string]string { return nil }

func (b *base) ReadMaxStatementLength(context.Context, *sql.Conn) (int, error) {
	return 0, nil
}

func queryInt(ctx context.Context, conn *sql.Conn, query string) (int, error) {
	var n int64
	if err := conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *base) ConnectProperties() map[string]string {
	return mergeProps(b.props)
}

func (b *base) EmulatesMaxRows() bool         { return false }
func (b *base) RowCountSQL(int) string        { return "" }
func (b *base) SupportsQueryTimeout() bool    { return true }
func (b *base) StreamsInTransaction() bool    { return false }
func (b *base) Isolation() sql.IsolationLevel { return sql.LevelReadCommitted }
func (b *base) HasSQLEscape() bool            { return false }

// BuildDSN passes the URL through with credentials appended as
// properties. Vendors with a bundled driver override it.
func (b *base) BuildDSN(raw, user, password string, props map[string]string) (string, error) {
	params := mergeProps(props)
	if user != "" {
		params["user"] = user
		params["password"] = password
	}
	if len(params) == 0 {
		return raw, nil
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + encodeQuery(params), nil
}

// EncodeString quotes s as a SQL string literal.
func (b *base) EncodeString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (b *base) NormalizeIdentifier(name string) string {
	switch b.identCase {
	case lowerCase:
		return strings.ToLower(name)
	case upperCase:
		return strings.ToUpper(name)
	}
	return name
}

func (b *base) NativeTypes() []columntype.NativeType { return b.types }

func (b *base) TypeAliases() map[string]columntype.Alias { return b.aliases }

func (b *base) VarcharLimit() (int, string) { return b.varcharLimit, b.largeText }

func (b *base) NullKeyword() string { return b.nullKeyword }

func (b *base) CreateTableSQL(table string, columns []string) string {
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", table, strings.Join(columns, ",\n  "))
}

func (b *base) AddColumnSQL(table, column, clause string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s %s", table, column, clause)
}

func (b *base) AlterColumnSQL(table, column, _, clause string, _ bool) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", table, column, clause)}
}

func (b *base) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, column)
}

func (b *base) CanDropColumn(string) bool { return true }

func (b *base) RenameColumnSQL(table, from, to, _ string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, from, to)
}

func (b *base) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", from, to)
}

func (b *base) DropTableSQL(table string) string {
	return "DROP TABLE " + table
}

func (b *base) CreateIndexSQL(table, name string, unique bool, columns string) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, name, table, columns)
}

func (b *base) DropIndexSQL(_, name string) string {
	return "DROP INDEX " + name
}

func (b *base) RenameIndexSQL(_, from, to string) string {
	return fmt.Sprintf("ALTER INDEX %s RENAME TO %s", from, to)
}

func (b *base) UpdateStatsSQL(string) string { return "" }

func (b *base) TablesQuery() string {
	return "SELECT table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE'"
}

func (b *base) ColumnsQuery(table string) string {
	return fmt.Sprintf(`SELECT column_name, data_type, character_maximum_length, numeric_precision,
  numeric_scale, is_nullable, column_default
FROM information_schema.columns
WHERE table_name = %s
ORDER BY ordinal_position`, b.EncodeString(b.NormalizeIdentifier(table)))
}

func (b *base) IndexesQuery(string) string { return "" }

func (b *base) ProceduresQuery() string {
	return "SELECT routine_name FROM information_schema.routines WHERE routine_type = 'PROCEDURE'"
}

func (b *base) ShutdownSQL() string { return "" }

// ClassifyError falls back on the message text: anything mentioning a
// deadlock is retryable, everything else is a plain SQL error.
func (b *base) ClassifyError(err error) Classification {
	return classifyMessage(err)
}

func classifyMessage(err error) Classification {
	c := Classification{Kind: dberr.KindSQL}
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "deadlock") {
		c.Kind = dberr.KindDeadlock
	}
	return c
}

func quote(t columntype.NativeType) columntype.NativeType {
	t.LiteralPrefix, t.LiteralSuffix = "'", "'"
	return t
}

func plain(name string, code columntype.Code) columntype.NativeType {
	return columntype.NativeType{Name: name, Code: code}
}

func withLength(name string, code columntype.Code, max int) columntype.NativeType {
	return columntype.NativeType{Name: name, Code: code, Precision: max, AcceptsLength: true}
}

func withScale(name string, code columntype.Code, max int) columntype.NativeType {
	return columntype.NativeType{Name: name, Code: code, Precision: max, AcceptsLength: true, AcceptsScale: true}
}

func alias(name string) columntype.Alias { return columntype.Alias{Name: name} }

func aliasSized(name string, size, scale int) columntype.Alias {
	return columntype.Alias{Name: name, Size: size, Scale: scale}
}
