package dialect

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thda/tds"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

func mustLookup(t *testing.T, name string) Dialect {
	t.Helper()
	d, err := Lookup(name)
	require.NoError(t, err)
	return d
}

func TestLookup(t *testing.T) {
	assert.Len(t, Vendors(), 8)

	for name, want := range map[string]Vendor{
		"PostgreSQL": PostgreSQL,
		"postgres":   PostgreSQL,
		"sqlserver":  MSSQL,
		" Sybase ":   Sybase,
		"sqlite3":    SQLite,
		"derby":      Derby,
	} {
		d, err := Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, d.Vendor())
	}

	_, err := Lookup("db2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberr.ErrConnectivity))
}

func TestCreateParamMatchesCapabilities(t *testing.T) {
	for _, v := range Vendors() {
		d := mustLookup(t, string(v))
		reg := columntype.NewRegistry(d)
		for _, std := range columntype.StdNames {
			t.Run(string(v)+"/"+std, func(t *testing.T) {
				clause, err := reg.CreateParam(std, 10, 2, true, nil)
				require.NoError(t, err)

				native, _, err := reg.Resolve(std, 10)
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(clause, native.Name), clause)

				params := strings.TrimPrefix(clause, native.Name)
				if strings.HasPrefix(params, "(") {
					assert.True(t, native.AcceptsLength, clause)
					if strings.Contains(params[:strings.IndexByte(params, ')')], ",") {
						assert.True(t, native.AcceptsScale, clause)
					}
				}
			})
		}
	}
}

func TestVendorTypeAliases(t *testing.T) {
	tests := []struct {
		vendor Vendor
		std    string
		size   int
		want   string
	}{
		{PostgreSQL, "OID", 0, "INT8"},
		{PostgreSQL, "CLOB", 0, "TEXT"},
		{PostgreSQL, "VARCHAR", 40, "VARCHAR(40)"},
		{Sybase, "BIGINT", 0, "NUMERIC(20) NULL"},
		{Sybase, "VARCHAR", 5000, "TEXT NULL"},
		{MSSQL, "TIMESTAMP", 0, "DATETIME NULL"},
		{MSSQL, "VARCHAR", 9000, "TEXT NULL"},
		{Oracle, "INTEGER", 0, "NUMBER(10)"},
		{Oracle, "VARCHAR", 100, "VARCHAR2(100)"},
		{MySQL, "TIMESTAMP", 0, "DATETIME"},
		{Derby, "BOOLEAN", 0, "SMALLINT"},
		{SQLite, "CLOB", 0, "TEXT"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.vendor, tt.std), func(t *testing.T) {
			reg := columntype.NewRegistry(mustLookup(t, string(tt.vendor)))
			got, err := reg.CreateParam(tt.std, tt.size, 0, true, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPostgresOIDResolvesToInt8(t *testing.T) {
	reg := columntype.NewRegistry(mustLookup(t, "postgresql"))
	native, _, err := reg.Resolve("OID", 0)
	require.NoError(t, err)
	assert.Equal(t, "INT8", native.Name)
	assert.Equal(t, columntype.BigInt, native.Code)
}

func TestEncodeString(t *testing.T) {
	pg := mustLookup(t, "postgresql")
	assert.Equal(t, "'it''s'", pg.EncodeString("it's"))
	assert.Equal(t, `E'a\\b'`, pg.EncodeString(`a\b`))
	assert.True(t, pg.HasSQLEscape())

	my := mustLookup(t, "mysql")
	assert.Equal(t, `'a\\b''c'`, my.EncodeString(`a\b'c`))

	ora := mustLookup(t, "oracle")
	assert.Equal(t, `'a\b'`, ora.EncodeString(`a\b`))
	assert.False(t, ora.HasSQLEscape())
}

func TestBuildDSN(t *testing.T) {
	pg := mustLookup(t, "postgresql")
	dsn, err := pg.BuildDSN("jdbc:postgresql://db.example.com:5432/app", "u", "p", map[string]string{"sslmode": "disable"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db.example.com:5432/app?sslmode=disable", dsn)

	my := mustLookup(t, "mysql")
	dsn, err = my.BuildDSN("jdbc:mysql://db.example.com/app", "u", "p", my.ConnectProperties())
	require.NoError(t, err)
	assert.Contains(t, dsn, "u:p@tcp(db.example.com:3306)/app")
	assert.Contains(t, dsn, "parseTime=true")

	ms := mustLookup(t, "mssql")
	dsn, err = ms.BuildDSN("jdbc:sqlserver://db.example.com:1433;databaseName=app", "u", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver://u:p@db.example.com:1433?database=app", dsn)

	syb := mustLookup(t, "sybase")
	dsn, err = syb.BuildDSN("jdbc:sybase:Tds:db.example.com:5000/app", "u", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "tds://u:p@db.example.com:5000/app", dsn)

	ora := mustLookup(t, "oracle")
	dsn, err = ora.BuildDSN("jdbc:oracle:thin:@//db.example.com:1521/orcl", "u", "p", nil)
	require.NoError(t, err)
	assert.Contains(t, dsn, "db.example.com:1521")

	lite := mustLookup(t, "sqlite")
	dsn, err = lite.BuildDSN("/tmp/app.db", "", "", map[string]string{"_busy_timeout": "5000"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/app.db?_busy_timeout=5000", dsn)

	_, err = pg.BuildDSN("", "u", "p", nil)
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		vendor Vendor
		err    error
		kind   dberr.Kind
		benign bool
	}{
		{PostgreSQL, fmt.Errorf("exec: %w", &pq.Error{Code: "40P01", Message: "deadlock detected"}), dberr.KindDeadlock, false},
		{PostgreSQL, &pq.Error{Code: "23505", Message: "duplicate key"}, dberr.KindSQL, false},
		{MySQL, &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, dberr.KindDeadlock, false},
		{MySQL, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, dberr.KindSQL, false},
		{MSSQL, mssql.Error{Number: 1205, Class: 13, Message: "chosen as the victim"}, dberr.KindDeadlock, false},
		{MSSQL, mssql.Error{Number: 5701, Class: 0, Message: "Changed database context"}, dberr.KindSQL, true},
		{SQLite, sqlite3.Error{Code: sqlite3.ErrBusy}, dberr.KindDeadlock, false},
		{Oracle, errors.New("ORA-00060: deadlock detected while waiting for resource"), dberr.KindDeadlock, false},
		{Oracle, errors.New("batch failed: code 17081"), dberr.KindDeadlock, false},
		{Oracle, errors.New("ORA-00942: table or view does not exist"), dberr.KindSQL, false},
		{Sybase, fmt.Errorf("exec: %w", tds.SybError{MsgNumber: 1205, Severity: 13, Message: "chosen as victim"}), dberr.KindDeadlock, false},
		{Sybase, &tds.SybError{MsgNumber: 3211, Severity: 10, Message: "Backup progress"}, dberr.KindSQL, true},
		{Sybase, errors.New("Msg 1205, Level 13, State 1: transaction was chosen as victim"), dberr.KindDeadlock, false},
		{Sybase, errors.New("Msg 4035, Level 10: Processed 12 pages"), dberr.KindSQL, true},
		{HSQLDB, errors.New("warning, error code: -1100"), dberr.KindSQL, true},
		{Derby, errors.New("A lock could not be obtained due to a deadlock"), dberr.KindDeadlock, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.vendor, tt.err), func(t *testing.T) {
			c := mustLookup(t, string(tt.vendor)).ClassifyError(tt.err)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.benign, c.Benign)
		})
	}
}

func TestVersionHelpers(t *testing.T) {
	assert.Equal(t, "15.7", ExtractVersion("Adaptive Server Enterprise/15.7/EBF 1234"))
	assert.Equal(t, "9.6.24", ExtractVersion("9.6.24 (Debian 9.6.24-1)"))
	assert.Equal(t, "", ExtractVersion("unknown"))

	assert.True(t, AtLeast("8.1.23", "8.1"))
	assert.False(t, AtLeast("8.0.9", "8.1"))
	assert.False(t, AtLeast("garbage", "1.0"))

	pg := mustLookup(t, "postgresql")
	assert.False(t, pg.CanDropColumn("8.4.22"))
	assert.True(t, pg.CanDropColumn("9.1"))

	lite := mustLookup(t, "sqlite")
	assert.False(t, lite.CanDropColumn("3.34.1"))
	assert.True(t, lite.CanDropColumn("3.45.0"))
}

func TestVendorQuirks(t *testing.T) {
	syb := mustLookup(t, "sybase")
	assert.Equal(t, 3217, syb.ClassifyError(fmt.Errorf("load: %w", tds.SybError{MsgNumber: 3217})).Code)
	assert.True(t, syb.EmulatesMaxRows())
	assert.Equal(t, "SET ROWCOUNT 11", syb.RowCountSQL(11))

	pg := mustLookup(t, "postgresql")
	assert.False(t, pg.SupportsQueryTimeout())
	assert.True(t, pg.StreamsInTransaction())
	assert.Equal(t, "mytable", pg.NormalizeIdentifier("MyTable"))

	assert.Equal(t, "SHUTDOWN COMPACT", mustLookup(t, "hsqldb").ShutdownSQL())
	assert.Equal(t, "", mustLookup(t, "hsqldb").DriverName())
	assert.Nil(t, mustLookup(t, "sqlite").AlterColumnSQL("t", "c", "TEXT", "TEXT", true))

	assert.Equal(t, "DROP INDEX idx ON t", mustLookup(t, "mysql").DropIndexSQL("t", "idx"))
	assert.Equal(t, "DROP INDEX t.idx", mustLookup(t, "mssql").DropIndexSQL("t", "idx"))
	assert.Equal(t, "CREATE UNIQUE INDEX idx ON t (a,b DESC)", pg.CreateIndexSQL("t", "idx", true, "a,b DESC"))
}

func TestReadOnlySession(t *testing.T) {
	tests := []struct {
		vendor string
		stmt   string
	}{
		{"postgresql", "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"},
		{"mysql", "SET SESSION TRANSACTION READ ONLY"},
		{"hsqldb", "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"},
		{"sqlite", "PRAGMA query_only = ON"},
		{"oracle", ""},
		{"mssql", ""},
	}
	for _, tt := range tests {
		t.Run(tt.vendor, func(t *testing.T) {
			assert.Equal(t, tt.stmt, mustLookup(t, tt.vendor).ReadOnlySessionSQL())
		})
	}
	assert.Equal(t, "deferred", mustLookup(t, "sqlite").ReadOnlyProperties()["_txlock"])
	assert.Nil(t, mustLookup(t, "postgresql").ReadOnlyProperties())
}
