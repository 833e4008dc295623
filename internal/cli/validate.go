package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/picklr-io/stackr/internal/engine"
	"github.com/picklr-io/stackr/internal/ir"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate [topology]",
	Short: "Check a topology or a template file",
	Long: `Builds the topology and checks the resulting template: every reference
resolves, the graph has no cycle, resources are declared after what they
reference and the load balancing rules hold. With --file an existing
template is checked instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "Template file to check instead of a topology")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if validateFile != "" {
		data, err := os.ReadFile(validateFile)
		if err != nil {
			return fmt.Errorf("failed to read template: %w", err)
		}
		tmpl, err := ir.ParseTemplate(data)
		if err != nil {
			return err
		}
		if err := engine.Validate(tmpl); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s is valid (%d resources)\n", createColor.Sprint("✓"), validateFile, len(tmpl.Resources))
		return nil
	}

	t, props, err := resolveTopology(args)
	if err != nil {
		return err
	}
	tmpl, err := synthesize(t, props)
	if err != nil {
		return err
	}
	if findings := engine.CheckOrder(tmpl); len(findings) > 0 {
		errs := make([]error, len(findings))
		for i, f := range findings {
			errs[i] = f
		}
		return fmt.Errorf("%s: %w", t.Name, errors.Join(errs...))
	}
	fmt.Fprintf(out, "%s %s is valid (%d resources, endpoint %s)\n",
		createColor.Sprint("✓"), props.StackName, len(tmpl.Resources), t.Endpoint)
	return nil
}
