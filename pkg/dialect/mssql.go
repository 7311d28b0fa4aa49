package dialect

import (
	"errors"
	"fmt"

	mssql "github.com/denisenkom/go-mssqldb"

	ct "github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// transactSQLTypes is the type table shared by MSSQL and Sybase, both
// descendants of the same Transact-SQL engine.
func transactSQLTypes() []ct.NativeType {
	return []ct.NativeType{
		plain("BIT", ct.Bit),
		plain("TINYINT", ct.TinyInt),
		plain("SMALLINT", ct.SmallInt),
		plain("INT", ct.Integer),
		plain("BIGINT", ct.BigInt),
		plain("REAL", ct.Real),
		withLength("FLOAT", ct.Double, 53),
		plain("DOUBLE PRECISION", ct.Double),
		plain("MONEY", ct.Decimal),
		plain("SMALLMONEY", ct.Decimal),
		withScale("NUMERIC", ct.Numeric, 38),
		withScale("DECIMAL", ct.Decimal, 38),
		quote(withLength("CHAR", ct.Char, 8000)),
		quote(withLength("VARCHAR", ct.VarChar, 8000)),
		quote(withLength("NCHAR", ct.NChar, 4000)),
		quote(withLength("NVARCHAR", ct.NVarChar, 4000)),
		quote(plain("TEXT", ct.LongVarChar)),
		quote(plain("NTEXT", ct.LongVarChar)),
		quote(plain("DATE", ct.Date)),
		quote(plain("TIME", ct.Time)),
		quote(plain("DATETIME", ct.Timestamp)),
		quote(plain("SMALLDATETIME", ct.Timestamp)),
		withLength("BINARY", ct.Binary, 8000),
		withLength("VARBINARY", ct.VarBinary, 8000),
		plain("IMAGE", ct.LongVarBinary),
		// TIMESTAMP is a row version stamp here, not a date
		plain("TIMESTAMP", ct.Binary),
	}
}

func transactSQLAliases() map[string]ct.Alias {
	return map[string]ct.Alias{
		"BOOLEAN":       alias("BIT"),
		"INTEGER":       alias("INT"),
		"DOUBLE":        alias("FLOAT"),
		"TIMESTAMP":     alias("DATETIME"),
		"LONGVARCHAR":   alias("TEXT"),
		"CLOB":          alias("TEXT"),
		"LONGVARBINARY": alias("IMAGE"),
		"BLOB":          alias("IMAGE"),
	}
}

type mssqlDialect struct {
	base
}

func newMSSQL() *mssqlDialect {
	types := transactSQLTypes()
	types = append(types,
		quote(plain("DATETIME2", ct.Timestamp)),
		quote(plain("DATETIMEOFFSET", ct.Timestamp)),
		quote(plain("UNIQUEIDENTIFIER", ct.Char)),
		quote(plain("XML", ct.LongVarChar)),
		plain("ROWVERSION", ct.Binary),
	)
	return &mssqlDialect{base{
		vendor:         MSSQL,
		driver:         "sqlserver",
		minVersion:     "9.0",
		versionQuery:   "SELECT CAST(SERVERPROPERTY('ProductVersion') AS VARCHAR(64))",
		maxConnQuery:   "SELECT @@MAX_CONNECTIONS",
		maxStatement:   64 << 20,
		inlineComments: true,
		separator:      "\nGO\n",
		props:          map[string]string{"encrypt": "disable"},
		types:          types,
		aliases:        transactSQLAliases(),
		varcharLimit:   8000,
		largeText:      "TEXT",
		nullKeyword:    "NULL",
	}}
}

// BuildDSN renders a sqlserver:// URL. JDBC "databaseName" becomes the
// driver's "database" parameter.
func (d *mssqlDialect) BuildDSN(raw, user, password string, props map[string]string) (string, error) {
	u := parseConnURL(raw, "sqlserver:", "microsoft:sqlserver:")
	if u.host == "" {
		return "", fmt.Errorf("mssql url %q has no host", raw)
	}
	params := mergeProps(u.params, props)
	if db, ok := params["databaseName"]; ok {
		params["database"] = db
		delete(params, "databaseName")
	}
	if u.path != "" {
		params["database"] = u.path
	}
	return urlDSN("sqlserver", user, password, u.addr(""), "", params), nil
}

func (d *mssqlDialect) AddColumnSQL(table, column, clause string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s %s", table, column, clause)
}

func (d *mssqlDialect) RenameColumnSQL(table, from, to, _ string) string {
	return fmt.Sprintf("EXEC sp_rename '%s.%s', '%s', 'COLUMN'", table, from, to)
}

func (d *mssqlDialect) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("EXEC sp_rename '%s', '%s'", from, to)
}

func (d *mssqlDialect) DropIndexSQL(table, name string) string {
	return fmt.Sprintf("DROP INDEX %s.%s", table, name)
}

func (d *mssqlDialect) RenameIndexSQL(table, from, to string) string {
	return fmt.Sprintf("EXEC sp_rename '%s.%s', '%s', 'INDEX'", table, from, to)
}

func (d *mssqlDialect) UpdateStatsSQL(table string) string {
	return "UPDATE STATISTICS " + table
}

func (d *mssqlDialect) IndexesQuery(table string) string {
	return fmt.Sprintf(`SELECT i.name, c.name, ic.key_ordinal, ic.is_descending_key,
  CASE WHEN i.is_unique = 1 THEN 1 ELSE 0 END
FROM sys.indexes i
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
WHERE i.object_id = OBJECT_ID(%s) AND i.is_primary_key = 0 AND ic.key_ordinal > 0
ORDER BY i.name, ic.key_ordinal`, d.EncodeString(table))
}

// ClassifyError maps error 1205 (chosen as deadlock victim).
func (d *mssqlDialect) ClassifyError(err error) Classification {
	c := classifyMessage(err)
	var me mssql.Error
	if errors.As(err, &me) {
		c.Code = int(me.Number)
		if me.Number == 1205 {
			c.Kind = dberr.KindDeadlock
		}
		if me.Class <= 10 {
			c.Benign = true
		}
	}
	return c
}

func init() {
	Register(newMSSQL())
}
