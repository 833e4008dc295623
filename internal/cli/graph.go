package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/picklr-io/stackr/internal/engine"
	"github.com/picklr-io/stackr/internal/ir"
)

var graphCmd = &cobra.Command{
	Use:   "graph [topology]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Explicit DependsOn edges are drawn dashed. Pipe the
output to 'dot' to generate an image:

  stackr graph nlb-alb --scope dev --region eu-west-1 | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	t, props, err := resolveTopology(args)
	if err != nil {
		return err
	}
	tmpl, err := t.Build(props)
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", t.Name, err)
	}
	return writeDOT(cmd.OutOrStdout(), props.StackName, tmpl)
}

func writeDOT(w io.Writer, name string, tmpl *ir.Template) error {
	dag, err := engine.BuildDAG(tmpl)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Fprintf(w, "digraph %q {\n", name)
	fmt.Fprintln(w, "  rankdir = \"BT\";")
	fmt.Fprintln(w, "  node [shape = rect];")
	fmt.Fprintln(w)

	for _, res := range tmpl.Resources {
		fmt.Fprintf(w, "  %q [label = \"%s\\n%s\"];\n", res.LogicalID, res.LogicalID, res.Type)
	}
	fmt.Fprintln(w)

	for _, res := range tmpl.Resources {
		for _, dep := range dag.Dependencies(res.LogicalID) {
			if dag.IsExplicit(res.LogicalID, dep) {
				fmt.Fprintf(w, "  %q -> %q [style = dashed];\n", res.LogicalID, dep)
			} else {
				fmt.Fprintf(w, "  %q -> %q;\n", res.LogicalID, dep)
			}
		}
	}

	fmt.Fprintln(w, "}")
	return nil
}
