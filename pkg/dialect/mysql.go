package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	ct "github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

type mysqlDialect struct {
	base
}

func newMySQL() *mysqlDialect {
	// backslash is an escape in MySQL string literals
	text := func(t ct.NativeType) ct.NativeType {
		t = quote(t)
		t.EscapePrefix = "'"
		return t
	}
	return &mysqlDialect{base{
		vendor:         MySQL,
		driver:         "mysql",
		minVersion:     "5.0",
		versionQuery:   "SELECT VERSION()",
		maxConnQuery:   "SELECT @@max_connections",
		maxStatement:   16 << 20,
		inlineComments: true,
		readOnlyTx:     true,
		readOnlySQL:    "SET SESSION TRANSACTION READ ONLY",
		separator:      ";\n",
		props: map[string]string{
			"parseTime":         "true",
			"multiStatements":   "true",
			"interpolateParams": "false",
		},
		types: []ct.NativeType{
			withLength("BIT", ct.Bit, 64),
			plain("BOOLEAN", ct.Boolean),
			plain("BOOL", ct.Boolean),
			plain("TINYINT", ct.TinyInt),
			plain("SMALLINT", ct.SmallInt),
			plain("INT", ct.Integer),
			plain("INTEGER", ct.Integer),
			plain("MEDIUMINT", ct.Integer),
			plain("BIGINT", ct.BigInt),
			plain("FLOAT", ct.Real),
			plain("DOUBLE", ct.Double),
			plain("DOUBLE PRECISION", ct.Double),
			withScale("DECIMAL", ct.Decimal, 65),
			withScale("NUMERIC", ct.Numeric, 65),
			text(withLength("CHAR", ct.Char, 255)),
			text(withLength("VARCHAR", ct.VarChar, 16383)),
			text(plain("TINYTEXT", ct.VarChar)),
			text(plain("TEXT", ct.LongVarChar)),
			text(plain("MEDIUMTEXT", ct.LongVarChar)),
			text(plain("LONGTEXT", ct.LongVarChar)),
			quote(plain("DATE", ct.Date)),
			quote(plain("TIME", ct.Time)),
			quote(plain("DATETIME", ct.Timestamp)),
			quote(plain("TIMESTAMP", ct.Timestamp)),
			quote(plain("YEAR", ct.Date)),
			withLength("BINARY", ct.Binary, 255),
			withLength("VARBINARY", ct.VarBinary, 65535),
			plain("TINYBLOB", ct.VarBinary),
			plain("BLOB", ct.LongVarBinary),
			plain("MEDIUMBLOB", ct.LongVarBinary),
			plain("LONGBLOB", ct.LongVarBinary),
			quote(plain("ENUM", ct.Char)),
			quote(plain("SET", ct.Char)),
			quote(plain("JSON", ct.LongVarChar)),
		},
		aliases: map[string]ct.Alias{
			"FLOAT":         alias("DOUBLE"),
			"REAL":          alias("FLOAT"),
			"TIMESTAMP":     alias("DATETIME"),
			"LONGVARCHAR":   alias("LONGTEXT"),
			"CLOB":          alias("LONGTEXT"),
			"LONGVARBINARY": alias("LONGBLOB"),
			"BLOB":          alias("LONGBLOB"),
		},
		varcharLimit: 16383,
		largeText:    "LONGTEXT",
	}}
}

// BuildDSN renders the driver's user:pass@tcp(host)/db?params form through
// mysql.Config.
func (d *mysqlDialect) BuildDSN(raw, user, password string, props map[string]string) (string, error) {
	u := parseConnURL(raw, "mysql:")
	if u.host == "" {
		return "", fmt.Errorf("mysql url %q has no host", raw)
	}
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = u.addr("3306")
	cfg.DBName = u.path
	params := mergeProps(u.params, props)
	if v, ok := params["parseTime"]; ok {
		cfg.ParseTime = v == "true"
		delete(params, "parseTime")
	}
	if v, ok := params["multiStatements"]; ok {
		cfg.MultiStatements = v == "true"
		delete(params, "multiStatements")
	}
	if v, ok := params["interpolateParams"]; ok {
		cfg.InterpolateParams = v == "true"
		delete(params, "interpolateParams")
	}
	if len(params) > 0 {
		cfg.Params = params
	}
	return cfg.FormatDSN(), nil
}

func (d *mysqlDialect) HasSQLEscape() bool { return true }

// EncodeString doubles quotes and backslashes.
func (d *mysqlDialect) EncodeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (d *mysqlDialect) AlterColumnSQL(table, column, _, clause string, _ bool) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY %s %s", table, column, clause)}
}

// RenameColumnSQL uses CHANGE, which works on every supported server.
func (d *mysqlDialect) RenameColumnSQL(table, from, to, clause string) string {
	return fmt.Sprintf("ALTER TABLE %s CHANGE %s %s %s", table, from, to, clause)
}

func (d *mysqlDialect) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s", from, to)
}

func (d *mysqlDialect) DropIndexSQL(table, name string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", name, table)
}

func (d *mysqlDialect) RenameIndexSQL(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME INDEX %s TO %s", table, from, to)
}

func (d *mysqlDialect) UpdateStatsSQL(table string) string {
	return "ANALYZE TABLE " + table
}

func (d *mysqlDialect) TablesQuery() string {
	return `SELECT table_name FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'`
}

func (d *mysqlDialect) ColumnsQuery(table string) string {
	return fmt.Sprintf(`SELECT column_name, data_type, character_maximum_length, numeric_precision,
  numeric_scale, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = %s
ORDER BY ordinal_position`, d.EncodeString(table))
}

func (d *mysqlDialect) IndexesQuery(table string) string {
	return fmt.Sprintf(`SELECT index_name, column_name, seq_in_index,
  CASE WHEN collation = 'D' THEN 1 ELSE 0 END,
  CASE WHEN non_unique = 0 THEN 1 ELSE 0 END
FROM information_schema.statistics
WHERE table_schema = DATABASE() AND table_name = %s AND index_name <> 'PRIMARY'
ORDER BY index_name, seq_in_index`, d.EncodeString(table))
}

func (d *mysqlDialect) ProceduresQuery() string {
	return `SELECT routine_name FROM information_schema.routines
WHERE routine_schema = DATABASE() AND routine_type = 'PROCEDURE'`
}

// ClassifyError maps 1213 (deadlock) and 1205 (lock wait timeout).
func (d *mysqlDialect) ClassifyError(err error) Classification {
	c := classifyMessage(err)
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		c.Code = int(me.Number)
		c.SQLState = strings.TrimRight(string(me.SQLState[:]), "\x00")
		switch me.Number {
		case 1213, 1205:
			c.Kind = dberr.KindDeadlock
		}
	}
	return c
}

func init() {
	Register(newMySQL())
}

// ReadMaxStatementLength reads max_allowed_packet, which bounds the
// statement text the server accepts.
func (d *mysqlDialect) ReadMaxStatementLength(ctx context.Context, conn *sql.Conn) (int, error) {
	return queryInt(ctx, conn, "SELECT @@max_allowed_packet")
}
