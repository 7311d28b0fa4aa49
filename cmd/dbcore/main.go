// Package main is the entry point for the dbcore CLI.
package main

import (
	"context"
	"os"
	"os/signal"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/sijms/go-ora/v2"
	_ "github.com/thda/tds"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/cmd/dbcore/commands"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := commands.NewRootCommand().ExecuteContext(ctx); err != nil {
		ui.PrintError("%v", err)
		stop()
		os.Exit(1)
	}
}
