// Package database represents one logical database: its identity, its
// dialect and the connection pool registered for it.
package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/config"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database/pool"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dberr"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/dialect"
)

// Protection constrains which connections may be writable.
type Protection int

const (
	// ProtectionNone allows writes everywhere.
	ProtectionNone Protection = iota
	// ProtectionReadOnly marks every connection read-only.
	ProtectionReadOnly
	// ProtectionSelectReadOnlyByDefault runs standalone SELECTs read-only.
	ProtectionSelectReadOnlyByDefault
)

func (p Protection) String() string {
	switch p {
	case ProtectionReadOnly:
		return "read-only"
	case ProtectionSelectReadOnlyByDefault:
		return "select-read-only"
	}
	return "none"
}

// ParseProtection accepts the names produced by String.
func ParseProtection(s string) (Protection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ProtectionNone, nil
	case "read-only", "readonly":
		return ProtectionReadOnly, nil
	case "select-read-only", "selectreadonlybydefault":
		return ProtectionSelectReadOnlyByDefault, nil
	}
	return ProtectionNone, fmt.Errorf("unknown protection %q", s)
}

const (
	defaultMaxConnections = 20
	minPoolSize           = 1
	maxPoolSize           = 100
)

// Option configures a DataBase.
type Option func(*DataBase)

// WithProperties adds driver connection properties. They win over vendor
// defaults and configured overrides.
func WithProperties(props map[string]string) Option {
	return func(d *DataBase) {
		for k, v := range props {
			d.props[k] = v
		}
	}
}

// WithMaxConnections fixes the pool size, bypassing the computed bound and
// its cap.
func WithMaxConnections(n int) Option {
	return func(d *DataBase) { d.maxOverride = n }
}

// WithConfig replaces the process configuration for this database.
func WithConfig(cfg *config.Config) Option {
	return func(d *DataBase) { d.cfg = cfg }
}

// WithDriverName names the database/sql driver to open, for vendors
// without a bundled Go driver.
func WithDriverName(name string) Option {
	return func(d *DataBase) { d.driverName = name }
}

// WithPoolTimeouts sets how often a saturated checkout polls and how long
// it waits in total.
func WithPoolTimeouts(poll, wait time.Duration) Option {
	return func(d *DataBase) {
		d.pollInterval = poll
		d.waitTimeout = wait
	}
}

// DataBase is one logical database. Its identity is immutable; values with
// the same identity share one pool.
type DataBase struct {
	user       string
	password   string
	vendor     dialect.Vendor
	url        string
	protection Protection
	dialect    dialect.Dialect

	props        map[string]string
	maxOverride  int
	cfg          *config.Config
	driverName   string
	pollInterval time.Duration
	waitTimeout  time.Duration

	connectMu sync.Mutex
	typesOnce sync.Once
	types     *columntype.Registry
}

// registration is the state shared by every DataBase with one identity.
type registration struct {
	pool               *pool.Pool
	version            string
	maxStatementLength int
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*registration{}

	current atomic.Pointer[DataBase]
)

// New creates a DataBase. The dialect is resolved once here.
func New(user, password, vendor, url string, protection Protection, opts ...Option) (*DataBase, error) {
	d, err := dialect.Lookup(vendor)
	if err != nil {
		return nil, err
	}
	db := &DataBase{
		user:       user,
		password:   password,
		vendor:     d.Vendor(),
		url:        url,
		protection: protection,
		dialect:    d,
		props:      map[string]string{},
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.cfg == nil {
		db.cfg = config.Get()
	}
	return db, nil
}

// SetCurrent sets the process-wide default database.
func SetCurrent(db *DataBase) { current.Store(db) }

// Current returns the process-wide default database, nil if unset.
func Current() *DataBase { return current.Load() }

// ID is the pool key. The password is hashed into it, never printed.
func (d *DataBase) ID() string {
	sum := sha256.Sum256([]byte(d.password))
	return fmt.Sprintf("%s|%s|%s|%s|%s", d.vendor, d.url, d.user, d.protection, hex.EncodeToString(sum[:6]))
}

func (d *DataBase) String() string {
	if d.user == "" {
		return fmt.Sprintf("%s %s", d.vendor, d.url)
	}
	return fmt.Sprintf("%s %s@%s", d.vendor, d.user, d.url)
}

// Vendor returns the database vendor.
func (d *DataBase) Vendor() dialect.Vendor { return d.vendor }

// Dialect returns the vendor behaviour set.
func (d *DataBase) Dialect() dialect.Dialect { return d.dialect }

// Protection returns the protection mode.
func (d *DataBase) Protection() Protection { return d.protection }

// Config returns the configuration the database was created with.
func (d *DataBase) Config() *config.Config { return d.cfg }

// Location is the zone temporal values are loaded into.
func (d *DataBase) Location() *time.Location {
	if d.cfg.Location != nil {
		return d.cfg.Location
	}
	return time.Local
}

func (d *DataBase) registration() *registration {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[d.ID()]
}

// Connected reports whether a pool is registered for the identity.
func (d *DataBase) Connected() bool { return d.registration() != nil }

// Version returns the server version banner, "" before Connect.
func (d *DataBase) Version() string {
	if r := d.registration(); r != nil {
		return r.version
	}
	return ""
}

// MaxConnections returns the pool bound, 0 before Connect.
func (d *DataBase) MaxConnections() int {
	if r := d.registration(); r != nil {
		return r.pool.MaxConnections()
	}
	return 0
}

// MaxStatementLength returns the longest statement the vendor accepts.
func (d *DataBase) MaxStatementLength() int {
	if r := d.registration(); r != nil {
		return r.maxStatementLength
	}
	return d.dialect.DefaultMaxStatementLength()
}

// Stats returns pool statistics, zero before Connect.
func (d *DataBase) Stats() pool.Stats {
	if r := d.registration(); r != nil {
		return r.pool.Stats()
	}
	return pool.Stats{}
}

// Ping checks the server is reachable.
func (d *DataBase) Ping(ctx context.Context) error {
	r := d.registration()
	if r == nil {
		return dberr.Connectivity(nil, "%s is not connected", d)
	}
	return r.pool.HealthCheck(ctx)
}

// ColumnTypes returns the type registry, built on first use.
func (d *DataBase) ColumnTypes() *columntype.Registry {
	d.typesOnce.Do(func() {
		d.types = columntype.NewRegistry(d.dialect)
	})
	return d.types
}

func (d *DataBase) connectProperties() map[string]string {
	props := map[string]string{}
	for _, layer := range []map[string]string{
		d.dialect.ConnectProperties(),
		d.readOnlyProperties(),
		d.cfg.ConnectionProperties(string(d.vendor)),
	} {
		for k, v := range layer {
			props[k] = v
		}
	}
	if d.cfg.SQLReadTimeout > 0 {
		switch d.vendor {
		case dialect.MySQL:
			props["readTimeout"] = d.cfg.SQLReadTimeout.String()
		case dialect.Oracle:
			props["TIMEOUT"] = strconv.Itoa(int(d.cfg.SQLReadTimeout.Seconds()))
		}
	}
	for k, v := range d.props {
		props[k] = v
	}
	return props
}

func (d *DataBase) readOnlyProperties() map[string]string {
	if d.protection != ProtectionReadOnly {
		return nil
	}
	return d.dialect.ReadOnlyProperties()
}

// Connect registers the pool for the identity after validating the server
// version with a trial connection. It is a no-op when already connected.
func (d *DataBase) Connect(ctx context.Context) error {
	d.connectMu.Lock()
	defer d.connectMu.Unlock()

	if d.Connected() {
		return nil
	}

	driver := d.driverName
	if driver == "" {
		driver = d.dialect.DriverName()
	}
	if driver == "" {
		return dberr.Connectivity(nil, "no Go driver bundled for %s; name one with WithDriverName", d.vendor)
	}
	dsn, err := d.dialect.BuildDSN(d.url, d.user, d.password, d.connectProperties())
	if err != nil {
		return dberr.Connectivity(err, "invalid connection url for %s", d)
	}

	p, err := pool.Open(driver, dsn, pool.Config{
		MaxConnections: 1,
		PollInterval:   d.pollInterval,
		WaitTimeout:    d.waitTimeout,
		ReadOnly:       d.protection == ProtectionReadOnly,
		ReadOnlySQL:    d.dialect.ReadOnlySessionSQL(),
	})
	if err != nil {
		return dberr.Connectivity(err, "cannot open %s", d)
	}

	trial, err := p.CheckOut(ctx)
	if err != nil {
		_ = p.Close()
		return dberr.Connectivity(err, "cannot connect to %s", d)
	}

	banner, err := queryString(ctx, trial, d.dialect.VersionQuery())
	if err != nil {
		p.Kill(trial)
		_ = p.Close()
		return dberr.Connectivity(err, "cannot read server version of %s", d)
	}
	if err := checkVersion(d.dialect, banner, d.dialect.MinimumVersion()); err != nil {
		p.Kill(trial)
		_ = p.Close()
		return err
	}

	p.SetMaxConnections(d.poolSize(ctx, trial))
	maxStatement := d.maxStatementLength(ctx, trial)
	if err := p.CheckIn(trial); err != nil {
		_ = p.Close()
		return err
	}

	reg := &registration{
		pool:               p,
		version:            dialect.ExtractVersion(banner),
		maxStatementLength: maxStatement,
	}
	registryMu.Lock()
	if _, ok := registry[d.ID()]; ok {
		// another value with this identity won the race
		registryMu.Unlock()
		_ = p.Close()
		return nil
	}
	registry[d.ID()] = reg
	registryMu.Unlock()

	debug.Info("database connected", "database", d.String(), "version", reg.version,
		"max_connections", p.MaxConnections())
	return nil
}

// poolSize picks the bound: an explicit override, then MAX_DBCONNECTIONS,
// then half the server limit capped at the default, always within
// [1,100] unless overridden.
func (d *DataBase) poolSize(ctx context.Context, trial *pool.Conn) int {
	if d.maxOverride > 0 {
		return d.maxOverride
	}
	n := defaultMaxConnections
	if d.cfg.MaxDBConnections > 0 {
		n = d.cfg.MaxDBConnections
	} else if q := d.dialect.MaxConnectionsQuery(); q != "" {
		if s, err := queryString(ctx, trial, q); err == nil {
			if server, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && server > 0 && server/2 < n {
				n = server / 2
			}
		} else {
			debug.Debug("cannot read server connection limit", "database", d.String(), "error", err)
		}
	}
	return min(max(n, minPoolSize), maxPoolSize)
}

// maxStatementLength is the server's statement limit where the dialect can
// read one, else the dialect default.
func (d *DataBase) maxStatementLength(ctx context.Context, trial *pool.Conn) int {
	n, err := d.dialect.ReadMaxStatementLength(ctx, trial.Raw())
	if err != nil {
		debug.Debug("cannot read server statement limit", "database", d.String(), "error", err)
	}
	if n > 0 {
		return n
	}
	return d.dialect.DefaultMaxStatementLength()
}

func queryString(ctx context.Context, c *pool.Conn, query string) (string, error) {
	var s string
	if err := c.Raw().QueryRowContext(ctx, query).Scan(&s); err != nil {
		return "", err
	}
	return s, nil
}

func checkVersion(d dialect.Dialect, banner, minimum string) error {
	if !dialect.AtLeast(banner, minimum) {
		return dberr.Version("%s server version %q is below the minimum %s", d.Vendor(), banner, minimum)
	}
	return nil
}

// CheckVersion fails with a version error when the connected server is
// older than minimum.
func (d *DataBase) CheckVersion(minimum string) error {
	r := d.registration()
	if r == nil {
		return dberr.Connectivity(nil, "%s is not connected", d)
	}
	return checkVersion(d.dialect, r.version, minimum)
}

// CheckOutConnection returns a pooled connection, connecting first when
// needed.
func (d *DataBase) CheckOutConnection(ctx context.Context) (*pool.Conn, error) {
	r := d.registration()
	if r == nil {
		if err := d.Connect(ctx); err != nil {
			return nil, err
		}
		if r = d.registration(); r == nil {
			return nil, dberr.Connectivity(nil, "%s was closed while connecting", d)
		}
	}
	return r.pool.CheckOut(ctx)
}

// CheckInConnection returns a connection to the pool. Invariant violations
// kill the connection and return an assertion error.
func (d *DataBase) CheckInConnection(c *pool.Conn) error {
	r := d.registration()
	if r == nil {
		return dberr.Assertion("check in to %s which is not connected", d)
	}
	return r.pool.CheckIn(c)
}

// KillConnection closes and discards a checked out connection.
func (d *DataBase) KillConnection(c *pool.Conn) {
	if r := d.registration(); r != nil {
		r.pool.Kill(c)
		return
	}
	if c != nil {
		_ = c.Raw().Close()
	}
}

// ShutDown runs the vendor shutdown statement, then closes the pool.
func (d *DataBase) ShutDown(ctx context.Context) error {
	r := d.registration()
	if r == nil {
		return nil
	}
	if stmt := d.dialect.ShutdownSQL(); stmt != "" {
		c, err := r.pool.CheckOut(ctx)
		if err != nil {
			_ = d.Close()
			return err
		}
		if _, err := c.Executor().ExecContext(ctx, stmt); err != nil {
			debug.Warn("shutdown statement failed", "database", d.String(), "sql", stmt, "error", err)
		}
		r.pool.Kill(c)
	}
	return d.Close()
}

// Close kills the pool without the vendor shutdown.
func (d *DataBase) Close() error {
	registryMu.Lock()
	r, ok := registry[d.ID()]
	delete(registry, d.ID())
	registryMu.Unlock()
	if !ok {
		return nil
	}
	return r.pool.Close()
}

// EncodeString quotes s as a SQL string literal.
func (d *DataBase) EncodeString(s string) string { return d.dialect.EncodeString(s) }

// AppendSQLString writes s as a SQL string literal to b.
func (d *DataBase) AppendSQLString(b *strings.Builder, s string) {
	b.WriteString(d.dialect.EncodeString(s))
}

// BatchSeparator separates statements in a script.
func (d *DataBase) BatchSeparator() string { return d.dialect.BatchSeparator() }

// HasSQLEscape reports whether backslash escapes in string literals.
func (d *DataBase) HasSQLEscape() bool { return d.dialect.HasSQLEscape() }
