package dialect

import (
	"fmt"
	"regexp"
	"strconv"

	ct "github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
)

// HSQLDB and Derby are Java engines with no Go driver in this module; a
// database/sql driver for them is named with database.WithDriverName.

var hsqldbCodePattern = regexp.MustCompile(`(?i)error ?code[:=\s]+(-?\d+)`)

// hsqldbBenign is the warning raised when a statement is a no-op, e.g.
// "IF EXISTS" on a missing object.
const hsqldbBenign = 1100

type hsqldb struct {
	base
}

func newHSQLDB() *hsqldb {
	return &hsqldb{base{
		vendor:       HSQLDB,
		minVersion:   "1.8",
		versionQuery: "CALL DATABASE_VERSION()",
		maxStatement: 16 << 20,
		readOnlySQL:  "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY",
		separator:    ";\n",
		identCase:    upperCase,
		types: []ct.NativeType{
			plain("BOOLEAN", ct.Boolean),
			plain("TINYINT", ct.TinyInt),
			plain("SMALLINT", ct.SmallInt),
			plain("INTEGER", ct.Integer),
			plain("INT", ct.Integer),
			plain("BIGINT", ct.BigInt),
			plain("DOUBLE", ct.Double),
			plain("FLOAT", ct.Double),
			plain("REAL", ct.Double),
			withScale("NUMERIC", ct.Numeric, 646456993),
			withScale("DECIMAL", ct.Decimal, 646456993),
			quote(withLength("CHAR", ct.Char, 16777216)),
			quote(withLength("CHARACTER", ct.Char, 16777216)),
			quote(withLength("VARCHAR", ct.VarChar, 16777216)),
			quote(withLength("VARCHAR_IGNORECASE", ct.VarChar, 16777216)),
			quote(plain("LONGVARCHAR", ct.LongVarChar)),
			quote(plain("CLOB", ct.Clob)),
			quote(plain("DATE", ct.Date)),
			quote(plain("TIME", ct.Time)),
			quote(plain("TIMESTAMP", ct.Timestamp)),
			withLength("BINARY", ct.Binary, 16777216),
			withLength("VARBINARY", ct.VarBinary, 16777216),
			plain("LONGVARBINARY", ct.LongVarBinary),
			plain("BLOB", ct.Blob),
			plain("OTHER", ct.Other),
		},
		aliases: map[string]ct.Alias{
			"BIT": alias("BOOLEAN"),
		},
	}}
}

func (d *hsqldb) TablesQuery() string {
	return "SELECT table_name FROM information_schema.system_tables WHERE table_type = 'TABLE'"
}

func (d *hsqldb) ColumnsQuery(table string) string {
	return fmt.Sprintf(`SELECT column_name, type_name, column_size, column_size, decimal_digits,
  CASE WHEN nullable = 1 THEN 'YES' ELSE 'NO' END, column_def
FROM information_schema.system_columns
WHERE table_name = %s
ORDER BY ordinal_position`, d.EncodeString(d.NormalizeIdentifier(table)))
}

func (d *hsqldb) IndexesQuery(table string) string {
	return fmt.Sprintf(`SELECT index_name, column_name, ordinal_position,
  CASE WHEN asc_or_desc = 'D' THEN 1 ELSE 0 END,
  CASE WHEN non_unique THEN 0 ELSE 1 END
FROM information_schema.system_indexinfo
WHERE table_name = %s AND index_name NOT LIKE 'SYS_IDX_SYS_PK%%'
ORDER BY index_name, ordinal_position`, d.EncodeString(d.NormalizeIdentifier(table)))
}

func (d *hsqldb) ProceduresQuery() string {
	return "SELECT procedure_name FROM information_schema.system_procedures"
}

func (d *hsqldb) ShutdownSQL() string { return "SHUTDOWN COMPACT" }

func (d *hsqldb) ClassifyError(err error) Classification {
	c := classifyMessage(err)
	if err == nil {
		return c
	}
	if m := hsqldbCodePattern.FindStringSubmatch(err.Error()); m != nil {
		c.Code, _ = strconv.Atoi(m[1])
		if c.Code == hsqldbBenign || c.Code == -hsqldbBenign {
			c.Benign = true
		}
	}
	return c
}

type derby struct {
	base
}

func newDerby() *derby {
	return &derby{base{
		vendor:       Derby,
		minVersion:   "10.2",
		versionQuery: "VALUES SYSCS_UTIL.SYSCS_GET_DATABASE_PROPERTY('DataDictionaryVersion')",
		maxStatement: 2 << 20,
		separator:    ";\n",
		identCase:    upperCase,
		types: []ct.NativeType{
			plain("SMALLINT", ct.SmallInt),
			plain("INTEGER", ct.Integer),
			plain("INT", ct.Integer),
			plain("BIGINT", ct.BigInt),
			plain("REAL", ct.Real),
			plain("DOUBLE", ct.Double),
			plain("DOUBLE PRECISION", ct.Double),
			withLength("FLOAT", ct.Double, 53),
			withScale("DECIMAL", ct.Decimal, 31),
			withScale("NUMERIC", ct.Numeric, 31),
			quote(withLength("CHAR", ct.Char, 254)),
			quote(withLength("VARCHAR", ct.VarChar, 32672)),
			quote(plain("LONG VARCHAR", ct.LongVarChar)),
			quote(plain("CLOB", ct.Clob)),
			quote(plain("DATE", ct.Date)),
			quote(plain("TIME", ct.Time)),
			quote(plain("TIMESTAMP", ct.Timestamp)),
			plain("BLOB", ct.Blob),
			plain("CHAR FOR BIT DATA", ct.Binary),
			plain("VARCHAR FOR BIT DATA", ct.VarBinary),
			plain("LONG VARCHAR FOR BIT DATA", ct.LongVarBinary),
			plain("BOOLEAN", ct.Boolean),
		},
		aliases: map[string]ct.Alias{
			"BIT":           alias("SMALLINT"),
			"BOOLEAN":       alias("SMALLINT"),
			"TINYINT":       alias("SMALLINT"),
			"LONGVARCHAR":   alias("LONG VARCHAR"),
			"BINARY":        alias("BLOB"),
			"VARBINARY":     alias("BLOB"),
			"LONGVARBINARY": alias("BLOB"),
		},
		varcharLimit: 32672,
		largeText:    "CLOB",
	}}
}

func (d *derby) RenameColumnSQL(table, from, to, _ string) string {
	return fmt.Sprintf("RENAME COLUMN %s.%s TO %s", table, from, to)
}

func (d *derby) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s", from, to)
}

func (d *derby) RenameIndexSQL(_, from, to string) string {
	return fmt.Sprintf("RENAME INDEX %s TO %s", from, to)
}

func (d *derby) AlterColumnSQL(table, column, native, _ string, nullable bool) []string {
	null := "NOT NULL"
	if nullable {
		null = "NULL"
	}
	return []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DATA TYPE %s", table, column, native),
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", table, column, null),
	}
}

func (d *derby) TablesQuery() string {
	return "SELECT tablename FROM sys.systables WHERE tabletype = 'T'"
}

// ColumnsQuery reads the type descriptor text, e.g. "VARCHAR(20) NOT NULL".
func (d *derby) ColumnsQuery(table string) string {
	return fmt.Sprintf(`SELECT c.columnname, CAST(c.columndatatype AS VARCHAR(128)), 0, 0, 0,
  CASE WHEN CAST(c.columndatatype AS VARCHAR(128)) LIKE '%%NOT NULL' THEN 'NO' ELSE 'YES' END,
  CAST(NULL AS VARCHAR(1))
FROM sys.syscolumns c
JOIN sys.systables t ON t.tableid = c.referenceid
WHERE t.tablename = %s
ORDER BY c.columnnumber`, d.EncodeString(d.NormalizeIdentifier(table)))
}

// IndexesQuery lists index names only. The key columns live in a
// serialized descriptor that SQL cannot read, so columns come back empty.
func (d *derby) IndexesQuery(table string) string {
	return fmt.Sprintf(`SELECT g.conglomeratename, CAST(NULL AS VARCHAR(1)), 0, 0, 0
FROM sys.sysconglomerates g
JOIN sys.systables t ON t.tableid = g.tableid
WHERE t.tablename = %s AND g.isindex AND NOT g.isconstraint
ORDER BY g.conglomeratename`, d.EncodeString(d.NormalizeIdentifier(table)))
}

func (d *derby) ProceduresQuery() string {
	return "SELECT alias FROM sys.sysaliases WHERE aliastype = 'P'"
}

func init() {
	Register(newHSQLDB())
	Register(newDerby())
}
