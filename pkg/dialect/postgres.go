package dialect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	ct "github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// postgres implements Dialect for PostgreSQL over lib/pq.
type postgres struct {
	base
}

func newPostgres() *postgres {
	text := func(t ct.NativeType) ct.NativeType {
		t = quote(t)
		t.EscapePrefix = "E'"
		return t
	}
	return &postgres{base{
		vendor:         PostgreSQL,
		driver:         "postgres",
		minVersion:     "8.1",
		versionQuery:   "SHOW server_version",
		maxConnQuery:   "SHOW max_connections",
		maxStatement:   1 << 30,
		inlineComments: true,
		readOnlyTx:     true,
		readOnlySQL:    "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY",
		separator:      ";\n",
		identCase:      lowerCase,
		props:          map[string]string{"sslmode": "disable"},
		types: []ct.NativeType{
			plain("BOOL", ct.Boolean),
			plain("BOOLEAN", ct.Boolean),
			plain("INT2", ct.SmallInt),
			plain("SMALLINT", ct.SmallInt),
			plain("INTEGER", ct.Integer),
			plain("INT4", ct.Integer),
			plain("INT", ct.Integer),
			plain("SERIAL", ct.Integer),
			plain("INT8", ct.BigInt),
			plain("BIGINT", ct.BigInt),
			plain("BIGSERIAL", ct.BigInt),
			plain("OID", ct.BigInt),
			plain("FLOAT4", ct.Real),
			plain("REAL", ct.Real),
			plain("FLOAT8", ct.Double),
			plain("DOUBLE PRECISION", ct.Double),
			plain("MONEY", ct.Double),
			withScale("NUMERIC", ct.Numeric, 1000),
			text(withLength("BPCHAR", ct.Char, 10485760)),
			text(withLength("CHAR", ct.Char, 10485760)),
			text(withLength("CHARACTER", ct.Char, 10485760)),
			text(withLength("VARCHAR", ct.VarChar, 10485760)),
			text(withLength("CHARACTER VARYING", ct.VarChar, 10485760)),
			text(plain("TEXT", ct.LongVarChar)),
			text(plain("NAME", ct.VarChar)),
			quote(plain("DATE", ct.Date)),
			quote(plain("TIME", ct.Time)),
			quote(plain("TIMETZ", ct.Time)),
			quote(plain("TIMESTAMP", ct.Timestamp)),
			quote(plain("TIMESTAMPTZ", ct.Timestamp)),
			quote(plain("TIMESTAMP WITHOUT TIME ZONE", ct.Timestamp)),
			quote(plain("TIMESTAMP WITH TIME ZONE", ct.Timestamp)),
			plain("BYTEA", ct.Binary),
			quote(plain("UUID", ct.Other)),
			quote(plain("JSON", ct.Other)),
			quote(plain("JSONB", ct.Other)),
			quote(plain("XML", ct.Other)),
		},
		aliases: map[string]ct.Alias{
			"BIT":           alias("BOOL"),
			"TINYINT":       alias("INT2"),
			"OID":           alias("INT8"),
			"FLOAT":         alias("FLOAT8"),
			"DOUBLE":        alias("FLOAT8"),
			"DECIMAL":       alias("NUMERIC"),
			"LONGVARCHAR":   alias("TEXT"),
			"CLOB":          alias("TEXT"),
			"BINARY":        alias("BYTEA"),
			"VARBINARY":     alias("BYTEA"),
			"LONGVARBINARY": alias("BYTEA"),
			"BLOB":          alias("BYTEA"),
		},
		varcharLimit: 10485760,
		largeText:    "TEXT",
	}}
}

// BuildDSN renders a postgres:// URL for lib/pq.
func (d *postgres) BuildDSN(raw, user, password string, props map[string]string) (string, error) {
	u := parseConnURL(raw, "postgresql:", "postgres:")
	if u.host == "" {
		return "", fmt.Errorf("postgresql url %q has no host", raw)
	}
	params := mergeProps(u.params, props)
	return urlDSN("postgres", user, password, u.addr(""), u.path, params), nil
}

func (d *postgres) SupportsQueryTimeout() bool { return false }
func (d *postgres) StreamsInTransaction() bool { return true }
func (d *postgres) HasSQLEscape() bool         { return true }

// EncodeString switches to an E'' literal when backslashes are present.
func (d *postgres) EncodeString(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if strings.Contains(s, `\`) {
		return "E'" + strings.ReplaceAll(s, `\`, `\\`) + "'"
	}
	return "'" + s + "'"
}

func (d *postgres) AddColumnSQL(table, column, clause string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, clause)
}

func (d *postgres) AlterColumnSQL(table, column, native, _ string, nullable bool) []string {
	null := "SET NOT NULL"
	if nullable {
		null = "DROP NOT NULL"
	}
	return []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", table, column, native),
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", table, column, null),
	}
}

// CanDropColumn is false before 9.0 where the table is rebuilt instead.
func (d *postgres) CanDropColumn(serverVersion string) bool {
	return AtLeast(serverVersion, "9.0")
}

func (d *postgres) UpdateStatsSQL(table string) string {
	return "ANALYZE " + table
}

func (d *postgres) TablesQuery() string {
	return `SELECT tablename FROM pg_catalog.pg_tables
WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`
}

func (d *postgres) ColumnsQuery(table string) string {
	return fmt.Sprintf(`SELECT column_name, udt_name, character_maximum_length, numeric_precision,
  numeric_scale, is_nullable, column_default
FROM information_schema.columns
WHERE table_name = %s AND table_schema = current_schema()
ORDER BY ordinal_position`, d.EncodeString(d.NormalizeIdentifier(table)))
}

func (d *postgres) IndexesQuery(table string) string {
	return fmt.Sprintf(`SELECT i.relname, a.attname, k.n,
  CASE WHEN (ix.indoption[k.n - 1] & 1) = 1 THEN 1 ELSE 0 END,
  CASE WHEN ix.indisunique THEN 1 ELSE 0 END
FROM pg_catalog.pg_index ix
JOIN pg_catalog.pg_class t ON t.oid = ix.indrelid
JOIN pg_catalog.pg_class i ON i.oid = ix.indexrelid
JOIN generate_series(1, 32) AS k(n) ON k.n <= ix.indnatts
JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid AND a.attnum = ix.indkey[k.n - 1]
WHERE t.relname = %s AND NOT ix.indisprimary
ORDER BY i.relname, k.n`, d.EncodeString(d.NormalizeIdentifier(table)))
}

func (d *postgres) ProceduresQuery() string {
	return `SELECT p.proname FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE n.nspname NOT IN ('pg_catalog', 'information_schema')`
}

// ClassifyError reads the SQLSTATE off *pq.Error.
func (d *postgres) ClassifyError(err error) Classification {
	c := classifyMessage(err)
	var pe *pq.Error
	if errors.As(err, &pe) {
		c.SQLState = string(pe.Code)
		switch pe.Code {
		case "40P01", "40001":
			c.Kind = dberr.KindDeadlock
		}
	}
	return c
}

func init() {
	Register(newPostgres())
}
