package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/cli/ui"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/metadata"
)

// NewMetadataCommand creates the metadata command
func NewMetadataCommand(opts *globalOptions) *cobra.Command {
	var (
		format   string
		out      string
		typeName string
	)

	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Export the entity model description",
		Long: `Render the metadata document served at /metadata without starting the
server, for client-side type generators.

Examples:
  northwind metadata
  northwind metadata --format yaml --out northwind.meta.yaml
  northwind metadata --type Order`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg.Schema.File)
			if err != nil {
				return err
			}

			doc := metadata.Describe(reg)
			if typeName != "" {
				if _, err := lookupType(reg, typeName); err != nil {
					return err
				}
				doc = &metadata.Document{EntityTypes: []metadata.EntityType{*doc.Lookup(typeName)}}
			}

			var body []byte
			switch format {
			case "json":
				body, err = doc.JSON()
			case "yaml":
				body, err = doc.YAML()
			default:
				return &configError{fmt.Errorf("unsupported format %q, expected json or yaml", format)}
			}
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				return writeAll(cmd.OutOrStdout(), body)
			}
			if err := os.WriteFile(out, body, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			ui.WriteSuccess(cmd.ErrOrStderr(), fmt.Sprintf("wrote %d entity types to %s", len(doc.EntityTypes), out), opts.noColor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "describe a single entity type")
	return cmd
}

func writeAll(w io.Writer, body []byte) error {
	if _, err := w.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}
