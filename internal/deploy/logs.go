package deploy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

// LogsAPI is the part of the CloudWatch Logs client used to tail log groups.
type LogsAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// LogEvent is one log line.
type LogEvent struct {
	Group     string
	Stream    string
	Timestamp time.Time
	Message   string
}

// Tailer reads log events from a stack's log groups.
type Tailer struct {
	logs         LogsAPI
	PollInterval time.Duration
	sleep        func(context.Context, time.Duration) error
}

func NewTailer(logs LogsAPI) *Tailer {
	return &Tailer{logs: logs, PollInterval: DefaultPollInterval, sleep: sleepCtx}
}

// Tail emits events of groups newer than since in timestamp order. With
// follow it keeps polling until ctx is done.
func (t *Tailer) Tail(ctx context.Context, groups []string, since time.Time, follow bool, fn func(LogEvent)) error {
	cursor := make(map[string]int64, len(groups))
	for _, g := range groups {
		cursor[g] = since.UnixMilli()
	}
	seen := make(map[string]bool)

	for {
		var batch []LogEvent
		for _, g := range groups {
			events, last, err := t.fetch(ctx, g, cursor[g], seen)
			if err != nil {
				return err
			}
			batch = append(batch, events...)
			if last > cursor[g] {
				cursor[g] = last
			}
		}
		sort.SliceStable(batch, func(i, j int) bool { return batch[i].Timestamp.Before(batch[j].Timestamp) })
		for _, e := range batch {
			fn(e)
		}

		if !follow {
			return nil
		}
		if err := t.sleep(ctx, t.PollInterval); err != nil {
			return nil
		}
	}
}

func (t *Tailer) fetch(ctx context.Context, group string, start int64, seen map[string]bool) ([]LogEvent, int64, error) {
	var events []LogEvent
	last := start
	var token *string
	for {
		out, err := t.logs.FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
			LogGroupName: aws.String(group),
			StartTime:    aws.Int64(start),
			NextToken:    token,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read log group %s: %w", group, err)
		}
		for _, e := range out.Events {
			id := aws.ToString(e.EventId)
			if seen[id] {
				continue
			}
			seen[id] = true
			ts := aws.ToInt64(e.Timestamp)
			if ts > last {
				last = ts
			}
			events = append(events, LogEvent{
				Group:     group,
				Stream:    aws.ToString(e.LogStreamName),
				Timestamp: time.UnixMilli(ts).UTC(),
				Message:   aws.ToString(e.Message),
			})
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return events, last, nil
}
