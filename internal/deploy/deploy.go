// Package deploy hands synthesized templates to CloudFormation and reports
// what it does with them. Failures are passed through as CloudFormation
// reports them; nothing is retried or rolled back here.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/picklr-io/stackr/internal/assembly"
	"github.com/picklr-io/stackr/internal/engine"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/logging"
)

// DefaultPollInterval is how often stack status and events are polled.
const DefaultPollInterval = 5 * time.Second

// CloudFormationAPI is the part of the CloudFormation client the deployer uses.
type CloudFormationAPI interface {
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	DescribeStackEvents(ctx context.Context, params *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
	DescribeStackResources(ctx context.Context, params *cloudformation.DescribeStackResourcesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackResourcesOutput, error)
	GetTemplate(ctx context.Context, params *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error)
}

// TemplatePublisher uploads template bodies too large to pass inline.
type TemplatePublisher interface {
	Publish(ctx context.Context, stackName string, body []byte) (string, error)
}

// Request is one deploy.
type Request struct {
	StackName string
	Body      []byte
	Tags      map[string]string
	// Upload passes the template by URL even when it fits inline.
	Upload bool
}

// Output is a stack output as CloudFormation reports it.
type Output struct {
	Key         string
	Value       string
	ExportName  string
	Description string
}

// Result describes a finished deploy or destroy.
type Result struct {
	StackName string
	StackID   string
	Status    string
	// NoChanges is set when the deployed template already matched.
	NoChanges bool
	Outputs   []Output
}

// Deployer drives CloudFormation.
type Deployer struct {
	cfn       CloudFormationAPI
	publisher TemplatePublisher

	PollInterval time.Duration
	Timeout      time.Duration
	// OnEvent receives every new stack event in chronological order.
	OnEvent func(Event)

	sleep func(context.Context, time.Duration) error
}

// NewDeployer returns a deployer. publisher may be nil, in which case
// templates over the inline limit are rejected.
func NewDeployer(cfn CloudFormationAPI, publisher TemplatePublisher) *Deployer {
	return &Deployer{
		cfn:          cfn,
		publisher:    publisher,
		PollInterval: DefaultPollInterval,
		Timeout:      engine.DefaultTimeout,
		sleep:        sleepCtx,
	}
}

// Deploy creates the stack or updates it in place and waits for it to settle.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := engine.WithTimeout(ctx, d.Timeout)
	defer cancel()

	body, url, err := d.templateSource(ctx, req)
	if err != nil {
		return nil, err
	}
	tags := make([]types.Tag, 0, len(req.Tags))
	for k, v := range req.Tags {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	sort.Slice(tags, func(i, j int) bool { return aws.ToString(tags[i].Key) < aws.ToString(tags[j].Key) })
	capabilities := []types.Capability{types.CapabilityCapabilityIam, types.CapabilityCapabilityNamedIam}

	existing, err := d.describe(ctx, req.StackName)
	if err != nil {
		return nil, err
	}

	// A new stack ID carries only its own events.
	var after, stackID string
	if existing == nil {
		logging.Info("creating stack", "stack", req.StackName)
		out, err := d.cfn.CreateStack(ctx, &cloudformation.CreateStackInput{
			StackName:    aws.String(req.StackName),
			TemplateBody: body,
			TemplateURL:  url,
			Capabilities: capabilities,
			Tags:         tags,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stack %s: %w", req.StackName, err)
		}
		stackID = aws.ToString(out.StackId)
	} else {
		if err := Deployable(req.StackName, existing.StackStatus); err != nil {
			return nil, err
		}
		if after, err = d.lastEventID(ctx, aws.ToString(existing.StackId)); err != nil {
			return nil, err
		}
		logging.Info("updating stack", "stack", req.StackName, "status", existing.StackStatus)
		out, err := d.cfn.UpdateStack(ctx, &cloudformation.UpdateStackInput{
			StackName:    aws.String(req.StackName),
			TemplateBody: body,
			TemplateURL:  url,
			Capabilities: capabilities,
			Tags:         tags,
		})
		if isNoUpdates(err) {
			logging.Info("stack is up to date", "stack", req.StackName)
			return &Result{
				StackName: req.StackName,
				StackID:   aws.ToString(existing.StackId),
				Status:    string(existing.StackStatus),
				NoChanges: true,
				Outputs:   outputs(existing),
			}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update stack %s: %w", req.StackName, err)
		}
		stackID = aws.ToString(out.StackId)
	}

	stack, reason, err := d.wait(ctx, stackID, after)
	if err != nil {
		return nil, err
	}
	res := &Result{
		StackName: req.StackName,
		StackID:   stackID,
		Status:    string(stack.StackStatus),
		Outputs:   outputs(stack),
	}
	if !Succeeded(stack.StackStatus) {
		return res, &StackError{StackName: req.StackName, Status: string(stack.StackStatus), Reason: reason}
	}
	return res, nil
}

// Destroy deletes the stack and waits until it is gone. A stack that does not
// exist is already destroyed.
func (d *Deployer) Destroy(ctx context.Context, stackName string) (*Result, error) {
	ctx, cancel := engine.WithTimeout(ctx, d.Timeout)
	defer cancel()

	existing, err := d.describe(ctx, stackName)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return &Result{StackName: stackName, Status: string(types.StackStatusDeleteComplete), NoChanges: true}, nil
	}

	stackID := aws.ToString(existing.StackId)
	after, err := d.lastEventID(ctx, stackID)
	if err != nil {
		return nil, err
	}
	logging.Info("deleting stack", "stack", stackName)
	if _, err := d.cfn.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(stackID)}); err != nil {
		return nil, fmt.Errorf("failed to delete stack %s: %w", stackName, err)
	}

	stack, reason, err := d.wait(ctx, stackID, after)
	if err != nil {
		return nil, err
	}
	res := &Result{StackName: stackName, StackID: stackID, Status: string(stack.StackStatus)}
	if stack.StackStatus != types.StackStatusDeleteComplete {
		return res, &StackError{StackName: stackName, Status: string(stack.StackStatus), Reason: reason}
	}
	return res, nil
}

// Outputs returns the outputs of a deployed stack.
func (d *Deployer) Outputs(ctx context.Context, stackName string) ([]Output, error) {
	stack, err := d.describe(ctx, stackName)
	if err != nil {
		return nil, err
	}
	if stack == nil {
		return nil, fmt.Errorf("stack %s: %w", stackName, ErrStackNotFound)
	}
	return outputs(stack), nil
}

// CurrentTemplate returns the template the stack was last deployed with, or
// nil when the stack does not exist.
func (d *Deployer) CurrentTemplate(ctx context.Context, stackName string) (*ir.Template, error) {
	out, err := d.cfn.GetTemplate(ctx, &cloudformation.GetTemplateInput{
		StackName:     aws.String(stackName),
		TemplateStage: types.TemplateStageOriginal,
	})
	if isNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template of %s: %w", stackName, err)
	}
	return ir.ParseTemplate([]byte(aws.ToString(out.TemplateBody)))
}

// Resources returns the physical IDs of the stack's resources of type typ,
// keyed by logical ID.
func (d *Deployer) Resources(ctx context.Context, stackName, typ string) (map[string]string, error) {
	out, err := d.cfn.DescribeStackResources(ctx, &cloudformation.DescribeStackResourcesInput{
		StackName: aws.String(stackName),
	})
	if isNotExist(err) {
		return nil, fmt.Errorf("stack %s: %w", stackName, ErrStackNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe resources of %s: %w", stackName, err)
	}
	ids := make(map[string]string)
	for _, r := range out.StackResources {
		if aws.ToString(r.ResourceType) == typ && r.PhysicalResourceId != nil {
			ids[aws.ToString(r.LogicalResourceId)] = aws.ToString(r.PhysicalResourceId)
		}
	}
	return ids, nil
}

func (d *Deployer) templateSource(ctx context.Context, req Request) (body, url *string, err error) {
	if !req.Upload && !assembly.NeedsUpload(req.Body) {
		return aws.String(string(req.Body)), nil, nil
	}
	if d.publisher == nil {
		return nil, nil, fmt.Errorf("template for %s is %d bytes, over the %d byte inline limit; set a template bucket",
			req.StackName, len(req.Body), assembly.MaxInlineTemplateSize)
	}
	u, err := d.publisher.Publish(ctx, req.StackName, req.Body)
	if err != nil {
		return nil, nil, err
	}
	return nil, aws.String(u), nil
}

// describe returns the stack, or nil if it does not exist.
func (d *Deployer) describe(ctx context.Context, stackName string) (*types.Stack, error) {
	out, err := d.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)})
	if isNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, nil
	}
	stack := out.Stacks[0]
	if stack.StackStatus == types.StackStatusDeleteComplete {
		return nil, nil
	}
	return &stack, nil
}

// wait polls the stack until it leaves every in-progress state, streaming
// events newer than the event with ID after. The returned reason is the
// first resource failure seen, if any.
func (d *Deployer) wait(ctx context.Context, stackID, after string) (*types.Stack, string, error) {
	seen := make(map[string]bool)
	var reason string
	collect := func() error {
		events, err := d.streamEvents(ctx, stackID, after, seen)
		if err != nil {
			return err
		}
		for _, e := range events {
			if reason == "" && e.Failed() && e.Reason != "" {
				reason = fmt.Sprintf("%s (%s): %s", e.LogicalID, e.ResourceType, e.Reason)
			}
		}
		return nil
	}

	for {
		if err := collect(); err != nil {
			return nil, "", err
		}

		out, err := d.cfn.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackID)})
		if err != nil {
			return nil, "", fmt.Errorf("failed to describe stack %s: %w", stackID, err)
		}
		if len(out.Stacks) == 0 {
			return nil, "", fmt.Errorf("stack %s: %w", stackID, ErrStackNotFound)
		}
		stack := out.Stacks[0]
		if Terminal(stack.StackStatus) {
			if err := collect(); err != nil {
				return nil, "", err
			}
			logging.Info("stack settled", "stack", aws.ToString(stack.StackName), "status", stack.StackStatus)
			if reason == "" {
				reason = aws.ToString(stack.StackStatusReason)
			}
			return &stack, reason, nil
		}

		if err := d.sleep(ctx, d.PollInterval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, "", fmt.Errorf("timed out waiting for stack %s (last status %s): %w", stackID, stack.StackStatus, err)
			}
			return nil, "", err
		}
	}
}

func outputs(stack *types.Stack) []Output {
	out := make([]Output, 0, len(stack.Outputs))
	for _, o := range stack.Outputs {
		out = append(out, Output{
			Key:         aws.ToString(o.OutputKey),
			Value:       aws.ToString(o.OutputValue),
			ExportName:  aws.ToString(o.ExportName),
			Description: aws.ToString(o.Description),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
