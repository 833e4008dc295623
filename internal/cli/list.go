package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/stackr/internal/stack"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available topologies",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	scope := settings.Props.Scope
	if scope == "" {
		scope = "<scope>"
	}
	props := stack.Props{Scope: scope}

	var rows [][]string
	for _, t := range registry.List() {
		rows = append(rows, []string{t.Name, t.StackName(props), t.Endpoint, t.Description})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"TOPOLOGY", "STACK", "ENDPOINT", "DESCRIPTION"}, rows))
	return nil
}
