package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/ui"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/csql"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
)

// readSQL takes the statement from args, --file or stdin, in that order.
func readSQL(cmd *cobra.Command, args []string, file string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(b), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", fmt.Errorf("no SQL given")
	}
	return string(b), nil
}

func newQueryCommand(opts *globalOptions) *cobra.Command {
	var (
		file     string
		maxRows  int
		timeout  int
		tsv      bool
		noHeader bool
		readOnly bool
	)

	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Run one statement and print its results",
		Long: `Run one SQL statement. Queries print every result set as a table,
or as tab separated values with --tsv; other statements print the number of
rows affected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stmt, err := readSQL(cmd, args, file)
			if err != nil {
				return err
			}
			return withDatabase(cmd, opts, func(ctx context.Context, db *database.DataBase) error {
				c := csql.New(db)
				c.SetMaxRow(maxRows)
				c.SetReadOnly(readOnly)
				if timeout > 0 {
					c.SetQueryTimeOutSeconds(timeout)
				}
				if err := c.Perform(ctx, stmt); err != nil {
					return err
				}
				if w := c.Warning(); w != nil {
					ui.PrintWarning("%v", w)
				}
				return printResults(c, tsv, !noHeader)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the statement from a file")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "fail when a query returns more rows (0 = no limit)")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "statement timeout in seconds")
	cmd.Flags().BoolVar(&tsv, "tsv", false, "print tab separated values")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "omit the header line with --tsv")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "run the query in a read-only transaction")
	return cmd
}

func printResults(c *csql.CSQL, tsv, header bool) error {
	if c.ColumnCount() == 0 {
		ui.PrintSuccess("%d rows affected", c.RowCount())
		return nil
	}
	for set := c; set != nil; set = set.NextResults() {
		if tsv {
			fmt.Fprint(ui.Out, set.EncodeTableData(header))
			continue
		}
		if err := printTable(set); err != nil {
			return err
		}
		ui.PrintInfo("%d rows", set.RowCount())
	}
	return nil
}

func printTable(c *csql.CSQL) error {
	headers := make([]string, c.ColumnCount())
	for i, col := range c.Columns() {
		headers[i] = col.Name
	}
	var rows [][]string
	c.Reset()
	for c.Next() {
		row := make([]string, len(headers))
		for i := range headers {
			if null, _ := c.IsNull(i); null {
				row[i] = "NULL"
				continue
			}
			v, err := c.GetString(i)
			if err != nil {
				return err
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	c.Reset()
	return ui.PrintTable(headers, rows)
}

func newBatchCommand(opts *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "batch [sql]",
		Short: "Run a script of statements in one transaction",
		Long: `Split a script on the vendor's batch separator and run every
statement as one batch inside a transaction. Nothing is committed unless
every statement succeeds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readSQL(cmd, args, file)
			if err != nil {
				return err
			}
			return withDatabase(cmd, opts, func(ctx context.Context, db *database.DataBase) error {
				stmts := splitScript(script, db.BatchSeparator())
				if len(stmts) == 0 {
					return fmt.Errorf("no statements in script")
				}
				var total int
				err := csql.Transact(ctx, db, 3, func(ctx context.Context, c *csql.CSQL) error {
					for _, stmt := range stmts {
						if err := c.AddBatch(ctx, stmt); err != nil {
							return err
						}
					}
					n, err := c.ExecuteBatch(ctx)
					total = n
					return err
				})
				if err != nil {
					return err
				}
				ui.PrintSuccess("%d statements, %d rows affected", len(stmts), total)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the script from a file")
	return cmd
}

// splitScript splits on sep, also accepting a separator at end of input,
// and drops empty statements.
func splitScript(script, sep string) []string {
	script = strings.ReplaceAll(script, "\r\n", "\n")
	trimmed := strings.TrimSpace(sep)
	var out []string
	for _, part := range strings.Split(script+"\n", sep) {
		part = strings.TrimSpace(part)
		part = strings.TrimSpace(strings.TrimSuffix(part, trimmed))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
