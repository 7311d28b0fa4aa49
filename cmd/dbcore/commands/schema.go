package commands

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stSoftwareAU/st-client-jdk7-sub004/internal/ui"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/columntype"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/database"
	"github.com/stSoftwareAU/st-client-jdk7-sub004/pkg/tableutil"
)

func newTablesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, opts, func(ctx context.Context, db *database.DataBase) error {
				tables, err := tableutil.Find(db).ListTables(ctx)
				if err != nil {
					return err
				}
				for _, t := range tables {
					ui.PrintInfo("%s", t)
				}
				return nil
			})
		},
	}
}

func newDescribeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Show the columns and indexes of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, opts, func(ctx context.Context, db *database.DataBase) error {
				tu := tableutil.Find(db)
				cols, err := tu.GetColumns(ctx, args[0])
				if err != nil {
					return err
				}
				indexes, err := tu.GetIndexes(ctx, args[0])
				if err != nil {
					return err
				}

				ui.PrintSection("Columns of " + args[0])
				rows := make([][]string, len(cols))
				for i, c := range cols {
					rows[i] = []string{c.Name, describeType(c), c.StdTypeName(), yesNo(c.Nullable), defaultText(c.Default)}
				}
				if err := ui.PrintTable([]string{"column", "type", "standard", "null", "default"}, rows); err != nil {
					return err
				}

				if len(indexes) == 0 {
					return nil
				}
				ui.PrintSection("Indexes")
				rows = make([][]string, len(indexes))
				for i, idx := range indexes {
					rows[i] = []string{idx.Name, yesNo(idx.Unique), idx.ColumnList()}
				}
				return ui.PrintTable([]string{"index", "unique", "columns"}, rows)
			})
		},
	}
}

func describeType(c columntype.ColumnInfo) string {
	switch {
	case c.Size > 0 && c.Scale > 0:
		return c.TypeName + "(" + strconv.Itoa(c.Size) + "," + strconv.Itoa(c.Scale) + ")"
	case c.Size > 0:
		return c.TypeName + "(" + strconv.Itoa(c.Size) + ")"
	}
	return c.TypeName
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func defaultText(def *string) string {
	if def == nil {
		return ""
	}
	return *def
}

func newTypesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the native types known for the vendor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, opts, func(ctx context.Context, db *database.DataBase) error {
				reg := db.ColumnTypes()
				var rows [][]string
				for _, name := range reg.Names() {
					t, ok := reg.FindType(name)
					if !ok {
						continue
					}
					var params []string
					if t.AcceptsLength {
						params = append(params, "length")
					}
					if t.AcceptsScale {
						params = append(params, "scale")
					}
					rows = append(rows, []string{
						t.Name, t.StdName(), strconv.Itoa(int(t.Code)), strings.Join(params, ","), t.Literal("x"),
					})
				}
				return ui.PrintTable([]string{"native", "standard", "code", "params", "literal"}, rows)
			})
		},
	}
}
