package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/picklr-io/stackr/internal/deploy"
	"github.com/picklr-io/stackr/internal/engine"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/preflight"
	"github.com/picklr-io/stackr/internal/stack"
)

var (
	deployAutoApprove   bool
	deploySkipPreflight bool
	deployTimeout       time.Duration
)

var deployCmd = &cobra.Command{
	Use:   "deploy [topology]",
	Short: "Create or update a topology's stack",
	Long: `Synthesizes the topology, shows how it differs from the deployed stack
and, once approved, hands the template to CloudFormation. Stack events are
streamed until the stack settles. Failures are reported as CloudFormation
reports them; rollback is left to CloudFormation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployAutoApprove, "auto-approve", false, "Skip interactive approval before deploying")
	deployCmd.Flags().BoolVar(&deploySkipPreflight, "skip-preflight", false, "Skip the account lookups made before deploying")
	deployCmd.Flags().DurationVar(&deployTimeout, "timeout", engine.DefaultTimeout, "How long to wait for the stack to settle")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	t, props, err := resolveTopology(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// 1. Synthesize
	tmpl, err := synthesize(t, props)
	if err != nil {
		return err
	}
	entry, body, err := writeAssembly(t, props, tmpl)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Synthesized %s (%d resources, %s)\n", props.StackName, entry.Resources, entry.Hash[:12])

	cfg, err := awsConfig(ctx, props)
	if err != nil {
		return err
	}

	// 2. Preflight
	if !deploySkipPreflight {
		if err := runPreflight(ctx, out, preflight.NewClients(cfg), props, tmpl); err != nil {
			return err
		}
	}

	// 3. Diff against the deployed stack
	d, err := newDeployer(cfg)
	if err != nil {
		return err
	}
	status, err := d.Status(ctx, props.StackName)
	if err != nil {
		return err
	}
	if err := deploy.Deployable(props.StackName, status); err != nil {
		return err
	}
	if status != "" && !deploy.Succeeded(status) {
		fmt.Fprintf(out, "%s %s is in %s; its last operation did not take effect.\n", updateColor.Sprint("Warning:"), props.StackName, status)
	}
	prior, err := d.CurrentTemplate(ctx, props.StackName)
	if err != nil {
		return err
	}
	plan, err := engine.Diff(props.StackName, prior, tmpl)
	if err != nil {
		return fmt.Errorf("failed to diff %s: %w", props.StackName, err)
	}
	if !plan.HasChanges() {
		fmt.Fprintf(out, "No changes. %s is up-to-date.\n", props.StackName)
		return nil
	}

	fmt.Fprintln(out, "\nCloudFormation will perform the following actions:")
	renderPlanChanges(out, plan)
	renderPlanSummary(out, plan)

	if !deployAutoApprove && !confirm(cmd.InOrStdin(), out, "Do you want to deploy "+props.StackName+"?") {
		fmt.Fprintln(out, "Deploy cancelled.")
		return nil
	}

	// 4. Deploy
	d.Timeout = deployTimeout
	d.OnEvent = func(e deploy.Event) { printEvent(out, e) }
	fmt.Fprintf(out, "\nDeploying %s...\n", props.StackName)
	res, err := d.Deploy(ctx, deploy.Request{
		StackName: props.StackName,
		Body:      body,
		Tags:      stackTags(t.Name, props),
		Upload:    settings.TemplateBucket != "",
	})
	if err != nil {
		return err
	}

	if res.NoChanges {
		fmt.Fprintf(out, "\n%s is up-to-date.\n", props.StackName)
	} else {
		fmt.Fprintf(out, "\n%s %s: %s\n", createColor.Sprint("Deploy complete!"), props.StackName, res.Status)
	}
	printOutputs(out, res.Outputs)
	return nil
}

func stackTags(topologyName string, props stack.Props) map[string]string {
	return map[string]string{
		"stackr:topology": topologyName,
		"stackr:scope":    props.Scope,
	}
}

func runPreflight(ctx context.Context, out io.Writer, clients preflight.Clients, props stack.Props, tmpl *ir.Template) error {
	fmt.Fprintln(out, "Running preflight checks...")
	report, err := preflight.Run(ctx, clients, preflight.Target{
		Template: tmpl,
		Account:  props.Account,
		EcrArn:   props.EcrArn,
		ImageTag: props.ImageTag,
	})
	if err != nil {
		return err
	}
	for _, r := range report.Results {
		mark := createColor.Sprint("✓")
		if !r.OK {
			mark = deleteColor.Sprint("✗")
		}
		fmt.Fprintf(out, "  %s %-20s %s\n", mark, r.Name, r.Detail)
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}
	return nil
}

func printEvent(w io.Writer, e deploy.Event) {
	c := mutedColor
	switch {
	case e.Failed():
		c = deleteColor
	case strings.HasSuffix(e.Status, "_COMPLETE"):
		c = createColor
	case strings.HasSuffix(e.Status, "_IN_PROGRESS"):
		c = updateColor
	}
	line := fmt.Sprintf("  %s  %s %s %s",
		mutedColor.Sprint(e.Timestamp.Local().Format(time.TimeOnly)),
		c.Sprint(runewidth.FillRight(e.Status, 32)),
		runewidth.FillRight(e.LogicalID, 40),
		e.ResourceType)
	if e.Reason != "" {
		line += "  " + mutedColor.Sprint(e.Reason)
	}
	fmt.Fprintln(w, line)
}

func printOutputs(w io.Writer, outputs []deploy.Output) {
	if len(outputs) == 0 {
		return
	}
	rows := make([][]string, 0, len(outputs))
	for _, o := range outputs {
		rows = append(rows, []string{o.Key, o.Value, orDash(o.ExportName)})
	}
	fmt.Fprintln(w, "\nOutputs:")
	fmt.Fprintln(w, renderTable([]string{"OUTPUT", "VALUE", "EXPORT"}, rows))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
