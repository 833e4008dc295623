package deploy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
)

// Event is one stack event.
type Event struct {
	ID           string
	Timestamp    time.Time
	LogicalID    string
	ResourceType string
	Status       string
	Reason       string
}

// Failed reports whether the event records a failed operation.
func (e Event) Failed() bool {
	return strings.HasSuffix(e.Status, "_FAILED")
}

// streamEvents emits the stack's events newer than the event with ID after
// that are not in seen, oldest first, and returns them. An empty after
// streams the whole history.
func (d *Deployer) streamEvents(ctx context.Context, stackID, after string, seen map[string]bool) ([]Event, error) {
	var fresh []Event
	var token *string
	for {
		out, err := d.cfn.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
			StackName: aws.String(stackID),
			NextToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe events of %s: %w", stackID, err)
		}

		older := false
		for _, e := range out.StackEvents {
			id := aws.ToString(e.EventId)
			// Events come newest first.
			if after != "" && id == after {
				older = true
				break
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			fresh = append(fresh, Event{
				ID:           id,
				Timestamp:    aws.ToTime(e.Timestamp),
				LogicalID:    aws.ToString(e.LogicalResourceId),
				ResourceType: aws.ToString(e.ResourceType),
				Status:       string(e.ResourceStatus),
				Reason:       aws.ToString(e.ResourceStatusReason),
			})
		}
		if older || out.NextToken == nil {
			break
		}
		token = out.NextToken
	}

	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Timestamp.Before(fresh[j].Timestamp) })
	if d.OnEvent != nil {
		for _, e := range fresh {
			d.OnEvent(e)
		}
	}
	return fresh, nil
}

// lastEventID returns the ID of the stack's newest event, or "" when the
// stack has none or does not exist.
func (d *Deployer) lastEventID(ctx context.Context, stackName string) (string, error) {
	out, err := d.cfn.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{StackName: aws.String(stackName)})
	if isNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to describe events of %s: %w", stackName, err)
	}
	if len(out.StackEvents) == 0 {
		return "", nil
	}
	return aws.ToString(out.StackEvents[0].EventId), nil
}
