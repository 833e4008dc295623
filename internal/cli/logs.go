package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/spf13/cobra"

	"github.com/picklr-io/stackr/internal/deploy"
)

var (
	logsFollow bool
	logsSince  time.Duration
)

var logsCmd = &cobra.Command{
	Use:   "logs [topology]",
	Short: "Print the logs of a deployed stack",
	Long: `Reads every CloudWatch log group the topology's stack created, such as
the Lambda function or Fargate task logs, and prints their events in time
order. With --follow new events are printed as they arrive.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Keep printing new events")
	logsCmd.Flags().DurationVar(&logsSince, "since", 10*time.Minute, "Print events newer than this")
}

func runLogs(cmd *cobra.Command, args []string) error {
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
	ids, err := d.Resources(ctx, props.StackName, "AWS::Logs::LogGroup")
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintf(out, "%s has no log groups.\n", props.StackName)
		return nil
	}
	groups := make([]string, 0, len(ids))
	for _, g := range ids {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	tailer := deploy.NewTailer(cloudwatchlogs.NewFromConfig(cfg))
	return tailer.Tail(ctx, groups, time.Now().Add(-logsSince), logsFollow, func(e deploy.LogEvent) {
		fmt.Fprintf(out, "%s %s %s\n",
			mutedColor.Sprint(e.Timestamp.Local().Format(time.DateTime)),
			nameColor.Sprint(e.Group),
			e.Message)
	})
}
