// Package config loads the settings consumed when databases connect and
// statements execute.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// AppFs is the filesystem config and .env files are read from.
var AppFs = afero.NewOsFs()

// Keys understood in config files and the environment.
const (
	KeyMaxDBConnections    = "MAX_DBCONNECTIONS"
	KeyDefaultQueryTimeout = "DEFAULT_QUERY_TIMEOUT_SECONDS"
	KeySlowStackTraceTime  = "LOG_SLOW_STACK_TRACE_TIME"
	KeySQLReadTimeout      = "SQL_READ_TIMEOUT"
	KeyDebugShowStack      = "DEBUG_SHOW_STACK"
	KeyDebug               = "DEBUG"
	KeyDebugTiming         = "DEBUG_TIMING"
	KeyTimezone            = "TIMEZONE"
	KeyConnection          = "CONNECTION"
)

// Config holds the database layer configuration
type Config struct {
	// MaxDBConnections overrides the computed pool size when > 0.
	MaxDBConnections int
	// DefaultQueryTimeout applies when a CSQL has no explicit timeout.
	DefaultQueryTimeout time.Duration
	// SlowQueryThreshold attaches a stack trace to timing logs beyond it.
	SlowQueryThreshold time.Duration
	// SQLReadTimeout is passed to drivers that accept a socket read timeout.
	SQLReadTimeout time.Duration
	// DebugShowStack attaches a stack trace to every failed statement log.
	DebugShowStack bool
	// Debug enables the debug logger.
	Debug bool
	// DebugTiming enables the statement timing logger.
	DebugTiming bool
	// Location is the zone temporal values are converted into when loaded.
	Location *time.Location
	// Connection holds per-vendor connection property overrides.
	Connection map[string]map[string]string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DefaultQueryTimeout: 300 * time.Second,
		SlowQueryThreshold:  5 * time.Second,
		Location:            time.Local,
		Connection:          map[string]map[string]string{},
	}
}

// ConnectionProperties returns the overrides configured for a vendor.
func (c *Config) ConnectionProperties(vendor string) map[string]string {
	props := map[string]string{}
	for k, v := range c.Connection[strings.ToLower(vendor)] {
		props[k] = v
	}
	return props
}

func newViper() (*viper.Viper, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetFs(AppFs)
	v.SetConfigName(".dbcore")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(home)
	v.AddConfigPath(filepath.Join(home, ".config", "dbcore"))

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault(KeyMaxDBConnections, def.MaxDBConnections)
	v.SetDefault(KeyDefaultQueryTimeout, int(def.DefaultQueryTimeout/time.Second))
	v.SetDefault(KeySlowStackTraceTime, int(def.SlowQueryThreshold/time.Millisecond))
	v.SetDefault(KeySQLReadTimeout, 0)
	v.SetDefault(KeyDebugShowStack, false)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyDebugTiming, false)
	v.SetDefault(KeyTimezone, "Local")

	return v, nil
}

// loadDotEnv copies .env then .env.local into the process environment.
// .env never overrides variables that are already set, .env.local does.
func loadDotEnv() {
	for _, name := range []string{".env", ".env.local"} {
		f, err := AppFs.Open(name)
		if err != nil {
			continue
		}
		values, err := godotenv.Parse(f)
		f.Close()
		if err != nil {
			continue
		}
		for k, v := range values {
			if _, set := os.LookupEnv(k); set && name == ".env" {
				continue
			}
			os.Setenv(k, v)
		}
	}
}

func fromViper(v *viper.Viper) (*Config, error) {
	loc, err := time.LoadLocation(v.GetString(KeyTimezone))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyTimezone, err)
	}

	cfg := &Config{
		MaxDBConnections:    v.GetInt(KeyMaxDBConnections),
		DefaultQueryTimeout: time.Duration(v.GetInt(KeyDefaultQueryTimeout)) * time.Second,
		SlowQueryThreshold:  time.Duration(v.GetInt(KeySlowStackTraceTime)) * time.Millisecond,
		SQLReadTimeout:      time.Duration(v.GetInt(KeySQLReadTimeout)) * time.Second,
		DebugShowStack:      v.GetBool(KeyDebugShowStack),
		Debug:               v.GetBool(KeyDebug),
		DebugTiming:         v.GetBool(KeyDebugTiming),
		Location:            loc,
		Connection:          map[string]map[string]string{},
	}

	for vendor := range v.GetStringMap(KeyConnection) {
		props := v.GetStringMapString(KeyConnection + "." + vendor)
		cfg.Connection[strings.ToLower(vendor)] = props
	}

	return cfg, nil
}

// Load loads configuration from the config file, .env files and the
// environment, in increasing priority.
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return load(v)
}

// LoadFile is Load with an explicit config file instead of the search
// path. A missing file is an error.
func LoadFile(path string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(expanded)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	loadDotEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v)
}

var (
	current *Config
	mu      sync.RWMutex
)

// Get returns the process configuration, loading it on first use. A load
// failure falls back to Default.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		loaded, err := Load()
		if err != nil {
			loaded = Default()
		}
		current = loaded
	}
	return current
}

// Set replaces the process configuration.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

// Watch loads the configuration, installs it with Set, and re-installs it
// whenever the config file changes. onChange may be nil.
func Watch(onChange func(*Config)) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	Set(cfg)

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		reloaded, err := fromViper(v)
		if err != nil {
			return
		}
		Set(reloaded)
		if onChange != nil {
			onChange(reloaded)
		}
	})
	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
	}
	return cfg, nil
}
