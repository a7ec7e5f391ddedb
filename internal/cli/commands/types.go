package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/cli/ui"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// NewTypesCommand creates the types command
func NewTypesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the registered entity types",
		Long: `Print one line per entity type with its table, keys, key generation and
navigations, as loaded from schema.file.

Examples:
  northwind types
  northwind types --schema examples/northwind/schema.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg.Schema.File)
			if err != nil {
				return err
			}

			table := ui.NewTable(cmd.OutOrStdout(),
				[]string{"TYPE", "TABLE", "KEYS", "KEYGEN", "CONCURRENCY", "NAVIGATIONS"}, opts.noColor)
			for _, et := range reg.Types() {
				table.AddRow(et.Name, et.TableName(), strings.Join(et.Keys, ","),
					et.KeyGeneration.String(), dash(et.Concurrency), navigations(et))
			}
			table.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d entity types\n", table.Len())
			return nil
		},
	}
}

func navigations(et *schema.EntityType) string {
	if len(et.Relationships) == 0 {
		return "-"
	}
	parts := make([]string, len(et.Relationships))
	for i, rel := range et.Relationships {
		arrow := "->"
		if rel.Cardinality == schema.Many {
			arrow = "->*"
		}
		parts[i] = rel.Name + arrow + rel.Target
	}
	return strings.Join(parts, " ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
