package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/cli/ui"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/codegen"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store/sqlstore"
)

// NewDDLCommand creates the ddl command
func NewDDLCommand(opts *globalOptions) *cobra.Command {
	var (
		dialect string
		drop    bool
		apply   bool
	)

	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Generate the relational schema for the entity model",
		Long: `Print CREATE TABLE, foreign key and index statements for every entity
type, in dependency-safe order.

With --apply the statements are executed against database.url instead.

Examples:
  northwind ddl --dialect postgres
  northwind ddl --dialect sqlite3 --drop
  NORTHWIND_DATABASE_URL=file:nw.db northwind ddl --dialect sqlite3 --apply`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg.Schema.File)
			if err != nil {
				return err
			}

			d, err := codegen.ParseDialect(dialect)
			if err != nil {
				return &configError{err}
			}
			gen := codegen.NewDDLGenerator(d)

			var stmts []string
			if drop {
				stmts = append(stmts, gen.GenerateDropSchema(reg)...)
			}
			create, err := gen.GenerateSchema(reg)
			if err != nil {
				return err
			}
			stmts = append(stmts, create...)

			if !apply {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(stmts, "\n\n"))
				return err
			}

			if cfg.Database.URL == "" {
				return &configError{fmt.Errorf("--apply needs database.url")}
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := sqlstore.Open(string(d), cfg.Database.URL, zap.NewNop())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Exec(ctx, stmts...); err != nil {
				return err
			}
			ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("applied %d statements", len(stmts)), opts.noColor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dialect, "dialect", "d", "postgres", "SQL dialect: postgres or sqlite3")
	cmd.Flags().BoolVar(&drop, "drop", false, "prefix the script with DROP TABLE statements")
	cmd.Flags().BoolVar(&apply, "apply", false, "execute against database.url instead of printing")
	return cmd
}
