// Package commands implements the dbcore CLI commands.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/config"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/debug"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/ui"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/tableutil"
)

// globalOptions are the connection flags shared by every command.
type globalOptions struct {
	vendor      string
	url         string
	user        string
	password    string
	askPassword bool
	protection  string
	configPath  string
	debug       bool
	timing      bool
	plain       bool
}

// NewRootCommand creates the dbcore command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "dbcore",
		Short: "Run SQL and inspect schemas across database vendors",
		Long: `dbcore connects to PostgreSQL, MySQL, Oracle, SQL Server, Sybase,
SQLite, HSQLDB or Derby through one dialect layer and runs statements,
inspects tables and hands out sequence numbers.

Connection flags default to DATABASE_VENDOR, DATABASE_URL, DATABASE_USER
and DATABASE_PASSWORD.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.plain {
				ui.DisableStyling()
			}
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.vendor, "vendor", os.Getenv("DATABASE_VENDOR"), "database vendor (postgresql, mysql, oracle, mssql, sybase, sqlite, hsqldb, derby)")
	f.StringVar(&opts.url, "url", os.Getenv("DATABASE_URL"), "connection URL")
	f.StringVar(&opts.user, "user", os.Getenv("DATABASE_USER"), "user name")
	f.StringVar(&opts.password, "password", os.Getenv("DATABASE_PASSWORD"), "password")
	f.BoolVar(&opts.askPassword, "ask-password", false, "prompt for the password (default when --user is set without one on a terminal)")
	f.StringVar(&opts.protection, "protection", "none", "none, read-only or select-read-only")
	f.StringVar(&opts.configPath, "config", "", "config file (default .dbcore.yaml in . or $HOME)")
	f.BoolVar(&opts.debug, "debug", false, "log debug messages to stderr")
	f.BoolVar(&opts.timing, "timing", false, "log every statement with its elapsed time")
	f.BoolVar(&opts.plain, "plain", false, "disable colors and decorations")

	cmd.AddCommand(newPingCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newBatchCommand(opts))
	cmd.AddCommand(newTablesCommand(opts))
	cmd.AddCommand(newDescribeCommand(opts))
	cmd.AddCommand(newTypesCommand(opts))
	cmd.AddCommand(newNextCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Watch(func(c *config.Config) { debug.Init(c.Debug || opts.debug) })
	}
	if err != nil {
		return nil, err
	}
	cfg.Debug = cfg.Debug || opts.debug
	cfg.DebugTiming = cfg.DebugTiming || opts.timing
	config.Set(cfg)

	debug.Init(cfg.Debug)
	debug.InitTiming(os.Stderr, cfg.DebugTiming)
	return cfg, nil
}

// openDatabase builds and connects the database named by the flags. The
// caller closes it.
func openDatabase(ctx context.Context, opts *globalOptions) (*database.DataBase, error) {
	if opts.vendor == "" || opts.url == "" {
		return nil, fmt.Errorf("--vendor and --url are required")
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	protection, err := database.ParseProtection(opts.protection)
	if err != nil {
		return nil, err
	}

	password := opts.password
	prompt := opts.askPassword || (opts.user != "" && password == "" && isatty.IsTerminal(os.Stdin.Fd()))
	if prompt {
		q := &survey.Password{Message: fmt.Sprintf("Password for %s:", opts.user)}
		if err := survey.AskOne(q, &password); err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
	}

	db, err := database.New(opts.user, password, opts.vendor, opts.url, protection, database.WithConfig(cfg))
	if err != nil {
		return nil, err
	}

	spinner := ui.StartSpinner("Connecting to " + db.String())
	err = db.Connect(ctx)
	ui.StopSpinner(spinner)
	if err != nil {
		return nil, err
	}
	database.SetCurrent(db)
	return db, nil
}

// withDatabase runs fn against a connected database and closes it after.
func withDatabase(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, db *database.DataBase) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openDatabase(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		tableutil.Forget(db)
		if err := db.Close(); err != nil {
			debug.Warn("close failed", "database", db.String(), "error", err)
		}
	}()
	return fn(ctx, db)
}
