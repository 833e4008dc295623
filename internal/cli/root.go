package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/picklr-io/stackr/internal/config"
	"github.com/picklr-io/stackr/internal/eval"
	"github.com/picklr-io/stackr/internal/logging"
	"github.com/picklr-io/stackr/internal/topology"
)

var (
	logLevel  string
	logFormat string
	noColor   bool

	params   = config.New()
	settings *config.Settings
	registry = topology.Default()
)

var rootCmd = &cobra.Command{
	Use:   "stackr",
	Short: "CloudFormation stacks for common AWS topologies",
	Long: `Stackr synthesizes CloudFormation templates for a fixed set of AWS
network and compute topologies and hands them to CloudFormation.

Every resource name embeds the deployment scope, so several copies of a
topology can live side by side in one account:
  • synth writes templates and a manifest to the assembly directory
  • diff compares a template with the deployed stack
  • deploy creates or updates the stack and streams its events`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

// ExecuteContext runs the root command. Cancelling ctx stops any wait on
// CloudFormation or log polling.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cobra.CheckErr(config.BindFlags(params, rootCmd.PersistentFlags()))

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadSettings(cmd *cobra.Command, args []string) error {
	logging.Init(logLevel, logFormat)
	if noColor {
		color.NoColor = true
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	s, err := config.Load(cmd.Context(), params, eval.NewEvaluator(wd))
	if err != nil {
		return err
	}
	settings = s
	logging.Debug("resolved settings", "topology", s.Topology, "scope", s.Props.Scope,
		"region", s.Props.Region, "config", params.ConfigFileUsed())
	return nil
}
