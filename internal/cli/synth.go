package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/picklr-io/stackr/internal/ir"
)

var synthStdout bool

var synthCmd = &cobra.Command{
	Use:   "synth [topology]",
	Short: "Synthesize a topology's CloudFormation template",
	Long: `Builds the template of a topology for the configured scope and region,
checks it and writes it to the assembly directory together with a manifest
entry recording its hash and endpoint output.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSynth,
}

func init() {
	synthCmd.Flags().BoolVar(&synthStdout, "stdout", false, "Print the template instead of writing the assembly")
}

func runSynth(cmd *cobra.Command, args []string) error {
	t, props, err := resolveTopology(args)
	if err != nil {
		return err
	}
	tmpl, err := synthesize(t, props)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if synthStdout {
		format, err := ir.ParseFormat(settings.Format)
		if err != nil {
			return err
		}
		body, err := ir.Render(tmpl, format)
		if err != nil {
			return err
		}
		_, err = out.Write(body)
		return err
	}

	entry, _, err := writeAssembly(t, props, tmpl)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s (%d resources)\n", createColor.Sprint("Synthesized"), props.StackName, entry.Resources)
	fmt.Fprintf(out, "  template: %s\n", filepath.Join(settings.OutDir, entry.TemplateFile))
	fmt.Fprintf(out, "  hash:     %s\n", entry.Hash)
	if entry.Export != "" {
		fmt.Fprintf(out, "  endpoint: %s (export %s)\n", entry.Endpoint, entry.Export)
	} else {
		fmt.Fprintf(out, "  endpoint: %s\n", entry.Endpoint)
	}
	return nil
}
