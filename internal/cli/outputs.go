package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var outputsJSON bool

var outputsCmd = &cobra.Command{
	Use:   "outputs [topology] [name]",
	Short: "Show the outputs of a deployed stack",
	Long: `Reads the outputs of the topology's deployed stack.

If no name is given, all outputs are displayed. If a name is given,
only that output's value is printed.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runOutputs,
}

func init() {
	outputsCmd.Flags().BoolVar(&outputsJSON, "json", false, "Output in JSON format")
}

func runOutputs(cmd *cobra.Command, args []string) error {
	_, props, err := resolveTopology(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := awsConfig(ctx, props)
	if err != nil {
		return err
	}
	d, err := newDeployer(cfg)
	if err != nil {
		return err
	}
	outputs, err := d.Outputs(ctx, props.StackName)
	if err != nil {
		return err
	}

	if len(args) > 1 {
		// Show specific output
		name := args[1]
		for _, o := range outputs {
			if o.Key != name {
				continue
			}
			if outputsJSON {
				data, _ := json.Marshal(o.Value)
				fmt.Fprintln(out, string(data))
			} else {
				fmt.Fprintln(out, o.Value)
			}
			return nil
		}
		return fmt.Errorf("output %q not found", name)
	}

	if len(outputs) == 0 {
		fmt.Fprintln(out, "No outputs defined.")
		return nil
	}

	if outputsJSON {
		values := make(map[string]string, len(outputs))
		for _, o := range outputs {
			values[o.Key] = o.Value
		}
		data, _ := json.MarshalIndent(values, "", "  ")
		fmt.Fprintln(out, string(data))
		return nil
	}
	printOutputs(out, outputs)
	return nil
}
