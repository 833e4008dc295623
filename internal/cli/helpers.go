package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fatih/color"

	"github.com/picklr-io/stackr/internal/assembly"
	"github.com/picklr-io/stackr/internal/deploy"
	"github.com/picklr-io/stackr/internal/engine"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/stack"
	"github.com/picklr-io/stackr/internal/topology"
)

var (
	createColor  = color.New(color.FgGreen)
	deleteColor  = color.New(color.FgRed)
	updateColor  = color.New(color.FgYellow)
	replaceColor = color.New(color.FgMagenta)
	mutedColor   = color.New(color.FgHiBlack)
	boldColor    = color.New(color.Bold)
	nameColor    = color.New(color.FgCyan)
)

// resolveTopology picks the topology from the first argument or the
// configured one, and returns it with the resolved construction parameters.
func resolveTopology(args []string) (*topology.Topology, stack.Props, error) {
	name := settings.Topology
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return nil, stack.Props{}, fmt.Errorf("no topology given; run 'stackr list' to see the available ones")
	}
	t, err := registry.Get(name)
	if err != nil {
		return nil, stack.Props{}, err
	}
	props := settings.Props
	props.StackName = t.StackName(props)
	return t, props, nil
}

// synthesize builds the topology's template and checks it.
func synthesize(t *topology.Topology, props stack.Props) (*ir.Template, error) {
	tmpl, err := t.Build(props)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", t.Name, err)
	}
	if err := engine.Validate(tmpl); err != nil {
		return nil, fmt.Errorf("%s produced an invalid template: %w", t.Name, err)
	}
	return tmpl, nil
}

// writeAssembly stores the template in the assembly directory under its lock.
func writeAssembly(t *topology.Topology, props stack.Props, tmpl *ir.Template) (*assembly.Entry, []byte, error) {
	format, err := ir.ParseFormat(settings.Format)
	if err != nil {
		return nil, nil, err
	}
	m := assembly.NewManager(settings.OutDir)
	if err := m.Lock(); err != nil {
		return nil, nil, err
	}
	defer m.Unlock()

	entry, err := m.Write(&assembly.Artifact{
		Topology:  t.Name,
		StackName: props.StackName,
		Scope:     props.Scope,
		Region:    props.Region,
		Format:    format,
		Template:  tmpl,
	})
	if err != nil {
		return nil, nil, err
	}
	_, body, err := m.Read(props.StackName)
	if err != nil {
		return nil, nil, err
	}
	return entry, body, nil
}

// awsConfig loads credentials for the configured region and profile.
var awsConfig = func(ctx context.Context, props stack.Props) (aws.Config, error) {
	return deploy.LoadAWSConfig(ctx, props.Region, settings.Profile)
}

var newCloudFormation = func(cfg aws.Config) deploy.CloudFormationAPI {
	return cloudformation.NewFromConfig(cfg)
}

// newDeployer wires a deployer to CloudFormation and, when a template bucket
// is configured, to S3.
func newDeployer(cfg aws.Config) (*deploy.Deployer, error) {
	var publisher deploy.TemplatePublisher
	if settings.TemplateBucket != "" {
		p, err := assembly.NewPublisher(s3.NewFromConfig(cfg), settings.TemplateBucket, "stackr", cfg.Region)
		if err != nil {
			return nil, err
		}
		publisher = p
	}
	return deploy.NewDeployer(newCloudFormation(cfg), publisher), nil
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "\n%s (y/n): ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func actionColor(action string) *color.Color {
	switch action {
	case ir.ActionCreate:
		return createColor
	case ir.ActionDelete:
		return deleteColor
	case ir.ActionReplace:
		return replaceColor
	case ir.ActionUpdate:
		return updateColor
	}
	return mutedColor
}

func actionSymbol(action string) string {
	switch action {
	case ir.ActionCreate:
		return "+"
	case ir.ActionDelete:
		return "-"
	case ir.ActionReplace:
		return "-/+"
	case ir.ActionNoop:
		return " "
	}
	return "~"
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(w io.Writer, plan *ir.Plan) {
	for _, change := range plan.Changes {
		c := actionColor(change.Action)
		fmt.Fprintf(w, "\n  # %s will be %s\n", change.Address, c.Sprint(strings.ToLower(change.Action)))
		fmt.Fprintln(w, c.Sprintf("  %s %s %q {", actionSymbol(change.Action), change.Type, change.Address))

		keys := make([]string, 0, len(change.Diff))
		for k := range change.Diff {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			renderPropertyDiff(w, key, change.Diff[key])
		}
		fmt.Fprintln(w, c.Sprint("    }"))
	}

	for _, out := range plan.Outputs {
		c := actionColor(out.Action)
		fmt.Fprintf(w, "\n  %s output %q\n", c.Sprint(actionSymbol(out.Action)), out.Name)
	}
}

// renderPropertyDiff prints one structured property diff.
func renderPropertyDiff(w io.Writer, key string, diff *ir.PropertyDiff) {
	suffix := ""
	if diff.ForcesReplacement {
		suffix = replaceColor.Sprint(" # forces replacement")
	}
	switch diff.Action {
	case "create":
		fmt.Fprintf(w, "      %s%s\n", createColor.Sprintf("+ %s = %s", key, formatValue(diff.After)), suffix)
	case "delete":
		fmt.Fprintf(w, "      %s%s\n", deleteColor.Sprintf("- %s = %s", key, formatValue(diff.Before)), suffix)
	case "update":
		fmt.Fprintf(w, "      %s%s\n", updateColor.Sprintf("~ %s = %s -> %s", key, formatValue(diff.Before), formatValue(diff.After)), suffix)
	default:
		fmt.Fprintf(w, "        %s = %s\n", key, formatValue(diff.After))
	}
}

// formatValue returns a compact representation of a property value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(w io.Writer, plan *ir.Plan) {
	s := plan.Summary
	fmt.Fprintf(w, "\n%s %s to add, %s to change, %s to replace, %s to destroy.\n",
		boldColor.Sprint("Plan:"),
		createColor.Sprint(s.Create), updateColor.Sprint(s.Update),
		replaceColor.Sprint(s.Replace), deleteColor.Sprint(s.Delete))
}
