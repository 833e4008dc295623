package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/stackr/internal/assembly"
	"github.com/picklr-io/stackr/internal/deploy"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [topology]",
	Short: "Delete a topology's stack",
	Long: `Deletes the CloudFormation stack of the topology for the configured
scope and removes its template from the assembly directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	_, props, err := resolveTopology(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !destroyAutoApprove && !confirm(cmd.InOrStdin(), out, "Do you really want to destroy "+props.StackName+"?") {
		fmt.Fprintln(out, "Destroy cancelled.")
		return nil
	}

	cfg, err := awsConfig(ctx, props)
	if err != nil {
		return err
	}
	d, err := newDeployer(cfg)
	if err != nil {
		return err
	}
	d.OnEvent = func(e deploy.Event) { printEvent(out, e) }

	res, err := d.Destroy(ctx, props.StackName)
	if err != nil {
		return err
	}

	m := assembly.NewManager(settings.OutDir)
	if err := m.Lock(); err != nil {
		return err
	}
	defer m.Unlock()
	if err := m.Remove(props.StackName); err != nil {
		return err
	}

	if res.NoChanges {
		fmt.Fprintf(out, "%s does not exist. Nothing to destroy.\n", props.StackName)
		return nil
	}
	fmt.Fprintf(out, "\n%s %s\n", deleteColor.Sprint("Destroy complete!"), props.StackName)
	return nil
}
