package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/picklr-io/stackr/internal/assembly"
	"github.com/picklr-io/stackr/internal/engine"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/stack"
)

var (
	diffLocal   bool
	diffUnified bool
	diffContext int
)

var diffCmd = &cobra.Command{
	Use:   "diff [topology]",
	Short: "Compare a topology with what is deployed",
	Long: `Builds the topology and compares it with the template of the deployed
stack, or with the last synthesized template when --local is set.

The diff shows:
  • Resources to be created
  • Resources to be updated or replaced (with the properties that change)
  • Resources to be deleted`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().BoolVar(&diffLocal, "local", false, "Compare with the synthesized template in the assembly directory")
	diffCmd.Flags().BoolVarP(&diffUnified, "unified", "u", false, "Also print a unified diff of the rendered templates")
	diffCmd.Flags().IntVar(&diffContext, "context", 3, "Lines of context in the unified diff")
}

func runDiff(cmd *cobra.Command, args []string) error {
	t, props, err := resolveTopology(args)
	if err != nil {
		return err
	}
	desired, err := synthesize(t, props)
	if err != nil {
		return err
	}

	var prior *ir.Template
	from := "deployed"
	if diffLocal {
		from = "synthesized"
		prior, err = synthesizedTemplate(props.StackName)
	} else {
		prior, err = deployedTemplate(cmd.Context(), props)
	}
	if err != nil {
		return err
	}

	plan, err := engine.Diff(props.StackName, prior, desired)
	if err != nil {
		return fmt.Errorf("failed to diff %s: %w", props.StackName, err)
	}

	out := cmd.OutOrStdout()
	if !plan.HasChanges() {
		fmt.Fprintf(out, "No changes. %s matches the %s template.\n", props.StackName, from)
		return nil
	}
	fmt.Fprintf(out, "%s against the %s template:\n", boldColor.Sprint(props.StackName), from)
	renderPlanChanges(out, plan)
	renderPlanSummary(out, plan)

	if diffUnified {
		text, err := unifiedDiff(prior, desired, from, diffContext)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		writeColoredDiff(out, text)
	}
	return nil
}

// synthesizedTemplate returns the stack's template from the assembly, or nil
// when it was never synthesized.
func synthesizedTemplate(stackName string) (*ir.Template, error) {
	m := assembly.NewManager(settings.OutDir)
	manifest, err := m.ReadManifest()
	if err != nil {
		return nil, err
	}
	if _, ok := manifest.Stacks[stackName]; !ok {
		return nil, nil
	}
	_, body, err := m.Read(stackName)
	if err != nil {
		return nil, err
	}
	return ir.ParseTemplate(body)
}

// deployedTemplate returns the stack's deployed template, or nil when the
// stack does not exist.
func deployedTemplate(ctx context.Context, props stack.Props) (*ir.Template, error) {
	cfg, err := awsConfig(ctx, props)
	if err != nil {
		return nil, err
	}
	d, err := newDeployer(cfg)
	if err != nil {
		return nil, err
	}
	return d.CurrentTemplate(ctx, props.StackName)
}

// unifiedDiff renders both templates as JSON and diffs them line by line.
func unifiedDiff(prior, desired *ir.Template, from string, lines int) (string, error) {
	var before []byte
	if prior != nil {
		b, err := ir.RenderJSON(prior)
		if err != nil {
			return "", err
		}
		before = b
	}
	after, err := ir.RenderJSON(desired)
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: from,
		ToFile:   "desired",
		Context:  lines,
	})
}

func writeColoredDiff(w io.Writer, text string) {
	for _, line := range strings.SplitAfter(text, "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			boldColor.Fprint(w, line)
		case strings.HasPrefix(line, "@@"):
			mutedColor.Fprint(w, line)
		case strings.HasPrefix(line, "+"):
			createColor.Fprint(w, line)
		case strings.HasPrefix(line, "-"):
			deleteColor.Fprint(w, line)
		default:
			fmt.Fprint(w, line)
		}
	}
}
