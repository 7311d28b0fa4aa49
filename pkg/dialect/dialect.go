// Package dialect holds the per-vendor behaviour of the database layer:
// connection setup, type tables, DDL syntax, introspection queries and error
// classification. Each vendor registers one Dialect at init time.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-version"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
)

// Vendor names a database product.
type Vendor string

// Supported vendors.
const (
	Sybase     Vendor = "sybase"
	PostgreSQL Vendor = "postgresql"
	MySQL      Vendor = "mysql"
	MSSQL      Vendor = "mssql"
	Oracle     Vendor = "oracle"
	HSQLDB     Vendor = "hsqldb"
	Derby      Vendor = "derby"
	SQLite     Vendor = "sqlite"
)

// Classification is what a dialect makes of a driver error.
type Classification struct {
	Kind     dberr.Kind
	Code     int
	SQLState string
	// Benign marks informational messages that must not fail the statement.
	Benign bool
}

// Dialect is the vendor-specific behaviour set.
type Dialect interface {
	columntype.Source

	Vendor() Vendor
	// DriverName is the database/sql driver to open, "" when no Go driver
	// is bundled for the vendor.
	DriverName() string
	// BuildDSN turns a vendor connection URL plus credentials and extra
	// properties into the driver's data source name.
	BuildDSN(url, user, password string, props map[string]string) (string, error)
	// ConnectProperties are the vendor defaults merged under caller
	// supplied properties.
	ConnectProperties() map[string]string
	MinimumVersion() string
	VersionQuery() string
	// MaxConnectionsQuery returns "" when the server limit is not exposed.
	MaxConnectionsQuery() string
	DefaultMaxStatementLength() int
	// ReadMaxStatementLength asks the server for its statement limit; 0
	// means the limit is not exposed and the default applies.
	ReadMaxStatementLength(ctx context.Context, conn *sql.Conn) (int, error)

	SupportsInlineComments() bool
	// EmulatesMaxRows is true when the row cap is set on the session with
	// RowCountSQL instead of being enforced while reading.
	EmulatesMaxRows() bool
	RowCountSQL(n int) string
	SupportsQueryTimeout() bool
	// StreamsInTransaction is true when large results are only streamed
	// with autocommit off.
	StreamsInTransaction() bool
	Isolation() sql.IsolationLevel
	// SupportsReadOnlyTx is false when the driver rejects read-only
	// transaction options.
	SupportsReadOnlyTx() bool
	// ReadOnlyProperties are merged into the connect properties of a
	// read-only database.
	ReadOnlyProperties() map[string]string
	// ReadOnlySessionSQL is run on every new connection of a read-only
	// database, "" when the vendor has no session-wide switch.
	ReadOnlySessionSQL() string

	BatchSeparator() string
	HasSQLEscape() bool
	EncodeString(s string) string
	NormalizeIdentifier(name string) string

	CreateTableSQL(table string, columns []string) string
	AddColumnSQL(table, column, clause string) string
	// AlterColumnSQL returns nil when the table has to be rebuilt instead.
	AlterColumnSQL(table, column, native, clause string, nullable bool) []string
	DropColumnSQL(table, column string) string
	CanDropColumn(serverVersion string) bool
	RenameColumnSQL(table, from, to, clause string) string
	RenameTableSQL(from, to string) string
	DropTableSQL(table string) string
	CreateIndexSQL(table, name string, unique bool, columns string) string
	DropIndexSQL(table, name string) string
	// RenameIndexSQL returns "" when indexes are renamed by drop and create.
	RenameIndexSQL(table, from, to string) string
	// UpdateStatsSQL returns "" when the vendor has no statistics command.
	UpdateStatsSQL(table string) string

	// TablesQuery returns one column: the table name.
	TablesQuery() string
	// ColumnsQuery returns name, type, size, precision, scale, nullable,
	// default in ordinal order.
	ColumnsQuery(table string) string
	// IndexesQuery returns index name, column, position, descending,
	// unique ordered by index and position.
	IndexesQuery(table string) string
	// ProceduresQuery returns one column, "" when not supported.
	ProceduresQuery() string

	// ShutdownSQL returns "" when no graceful shutdown is needed.
	ShutdownSQL() string
	ClassifyError(err error) Classification
}

var (
	registryMu sync.RWMutex
	registry   = map[Vendor]Dialect{}
)

// Register makes a dialect available by vendor name. It panics on
// duplicates.
func Register(d Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[d.Vendor()]; dup {
		panic(fmt.Sprintf("dialect: Register called twice for %s", d.Vendor()))
	}
	registry[d.Vendor()] = d
}

var vendorAliases = map[string]Vendor{
	"postgres":  PostgreSQL,
	"pg":        PostgreSQL,
	"sqlserver": MSSQL,
	"ase":       Sybase,
	"sqlite3":   SQLite,
	"hsql":      HSQLDB,
	"javadb":    Derby,
}

// Lookup returns the dialect of a vendor name, case-insensitively.
func Lookup(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if v, ok := vendorAliases[key]; ok {
		key = string(v)
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[Vendor(key)]
	if !ok {
		return nil, dberr.New(dberr.KindConnectivity, "unsupported database vendor %q", name)
	}
	return d, nil
}

// Vendors lists the registered vendors, sorted.
func Vendors() []Vendor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Vendor, 0, len(registry))
	for v := range registry {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)+|\d+`)

// ExtractVersion pulls the first dotted number out of a server banner:
// "Adaptive Server Enterprise/15.7/EBF ..." → "15.7".
func ExtractVersion(banner string) string {
	return versionPattern.FindString(banner)
}

// AtLeast reports whether the version in banner is at least min. An
// unparsable banner never satisfies the check.
func AtLeast(banner, min string) bool {
	have, err := version.NewVersion(ExtractVersion(banner))
	if err != nil {
		return false
	}
	want, err := version.NewVersion(min)
	if err != nil {
		return false
	}
	return have.GreaterThanOrEqual(want)
}
