package commands

import (
	"context"
	"errors"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/cli/ui"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configFile string
	schemaFile string
	debug      bool
	noColor    bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "northwind",
		Short: "Entity-graph persistence gateway for the Northwind model",
		Long: color.CyanString(`Northwind persistence gateway

Serves queries over the Northwind entity model and applies whole graphs of
client-side changes in one transaction, reconciling server-assigned keys.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default ./northwind.yml)")
	flags.StringVar(&opts.schemaFile, "schema", "", "entity model definition (overrides schema.file)")
	flags.BoolVar(&opts.debug, "debug", false, "development logging at debug level")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand(opts))
	rootCmd.AddCommand(NewMetadataCommand(opts))
	rootCmd.AddCommand(NewDDLCommand(opts))
	rootCmd.AddCommand(NewTypesCommand(opts))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			titleColor := color.New(color.FgCyan, color.Bold)
			valueColor := color.New(color.FgWhite)
			out := cmd.OutOrStdout()

			titleColor.Fprint(out, "Northwind gateway version: ")
			valueColor.Fprintln(out, Version)
			titleColor.Fprint(out, "Git commit: ")
			valueColor.Fprintln(out, GitCommit)
			titleColor.Fprint(out, "Build date: ")
			valueColor.Fprintln(out, BuildDate)
			titleColor.Fprint(out, "Go version: ")
			valueColor.Fprintln(out, goVer)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command; cancelling ctx stops serve
func ExecuteContext(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(rootCmd, err)
		return err
	}
	return nil
}

func reportError(cmd *cobra.Command, err error) {
	var se *schemaError
	var ce *configError
	var te *typeNotFoundError
	switch {
	case errors.As(err, &se):
		cmd.PrintErr(ui.SchemaError(se.file, se.err, color.NoColor))
	case errors.As(err, &ce):
		cmd.PrintErr(ui.ConfigError(ce.err.Error(), nil, color.NoColor))
	case errors.As(err, &te):
		cmd.PrintErr(ui.EntityTypeNotFoundError(te.name, te.suggestions, color.NoColor))
	default:
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
}
