package commands

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/ui"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/nextnumber"
)

func newNextCommand(opts *globalOptions) *cobra.Command {
	var (
		count int
		cache int
	)

	cmd := &cobra.Command{
		Use:   "next <code>",
		Short: "Allocate sequence numbers",
		Long: `Allocate numbers from the named sequence in the next_number table,
creating the table on first use.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			return withDatabase(cmd, opts, func(ctx context.Context, db *database.DataBase) error {
				for i := 0; i < count; i++ {
					n, err := nextnumber.Get(ctx, args[0], db, max(cache, count))
					if err != nil {
						return err
					}
					fmt.Fprintln(ui.Out, n)
				}
				st := nextnumber.Default().Stats()
				ui.PrintInfo("%d allocations, %d retries", st.Allocations, st.Retries)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many numbers to print")
	cmd.Flags().IntVar(&cache, "cache", 1, "numbers fetched per round trip")
	return cmd
}

func newPingCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect and report server details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, opts, func(ctx context.Context, db *database.DataBase) error {
				if err := db.Ping(ctx); err != nil {
					return err
				}
				st := db.Stats()
				ui.PrintHeader(db.String(), "connected")
				ui.PrintKeyValues([][2]string{
					{"vendor", string(db.Vendor())},
					{"version", db.Version()},
					{"protection", db.Protection().String()},
					{"max connections", strconv.Itoa(db.MaxConnections())},
					{"max statement", strconv.Itoa(db.MaxStatementLength())},
					{"open connections", strconv.Itoa(st.Open)},
					{"time zone", db.Location().String()},
				})
				return nil
			})
		},
	}
}

// Version information (set at build time).
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			ui.PrintKeyValues([][2]string{
				{"dbcore", Version},
				{"commit", GitCommit},
				{"go", runtime.Version()},
				{"os/arch", runtime.GOOS + "/" + runtime.GOARCH},
			})
		},
	}
}
