// Package preflight checks that the target account can host a synthesized
// template before it is handed to CloudFormation.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/sync/errgroup"

	"github.com/picklr-io/stackr/internal/compute"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/logging"
)

// Check names.
const (
	CheckAccount = "account"
	CheckZones   = "availability-zones"
	CheckAMI     = "ami"
	CheckImage   = "image"
)

type EC2API interface {
	DescribeAvailabilityZones(ctx context.Context, params *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error)
}

type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type ECRAPI interface {
	DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
}

type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Clients bundles the lookups preflight performs.
type Clients struct {
	EC2 EC2API
	SSM SSMAPI
	ECR ECRAPI
	STS STSAPI
}

// NewClients creates the service clients from a loaded AWS config.
func NewClients(cfg aws.Config) Clients {
	return Clients{
		EC2: ec2.NewFromConfig(cfg),
		SSM: ssm.NewFromConfig(cfg),
		ECR: ecr.NewFromConfig(cfg),
		STS: sts.NewFromConfig(cfg),
	}
}

// Target describes what is about to be deployed.
type Target struct {
	Template *ir.Template
	// Account, when set, must match the caller's account.
	Account  string
	EcrArn   string
	ImageTag string
}

// Result is the outcome of a single check.
type Result struct {
	Name   string
	OK     bool
	Detail string
}

// Report collects the results of every check that applied to the target.
type Report struct {
	Account string
	Results []Result
}

// Err joins the failed checks, or returns nil when all passed.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if !res.OK {
			errs = append(errs, fmt.Errorf("%s: %s", res.Name, res.Detail))
		}
	}
	return errors.Join(errs...)
}

// Run performs the checks that apply to the target in parallel. Lookup
// failures are reported as failed checks; only a cancelled context aborts.
func Run(ctx context.Context, c Clients, t Target) (*Report, error) {
	report := &Report{}
	var mu sync.Mutex
	record := func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		report.Results = append(report.Results, r)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		account, r := checkAccount(ctx, c.STS, t.Account)
		mu.Lock()
		report.Account = account
		mu.Unlock()
		record(r)
		return ctx.Err()
	})
	if zones := RequiredZones(t.Template); len(zones) > 0 {
		g.Go(func() error {
			record(checkZones(ctx, c.EC2, zones))
			return ctx.Err()
		})
	}
	if path, ok := amiParameter(t.Template); ok {
		g.Go(func() error {
			record(checkAMI(ctx, c.SSM, path))
			return ctx.Err()
		})
	}
	if t.EcrArn != "" && len(t.Template.ResourcesOfType("AWS::ECS::TaskDefinition")) > 0 {
		g.Go(func() error {
			record(checkImage(ctx, c.ECR, t.EcrArn, t.ImageTag))
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].Name < report.Results[j].Name })
	return report, nil
}

// RequiredZones returns the distinct availability zones the template's subnets use.
func RequiredZones(t *ir.Template) []string {
	var zones []string
	for _, r := range t.ResourcesOfType("AWS::EC2::Subnet") {
		if z, ok := r.Property("AvailabilityZone").(string); ok && !slices.Contains(zones, z) {
			zones = append(zones, z)
		}
	}
	sort.Strings(zones)
	return zones
}

func amiParameter(t *ir.Template) (string, bool) {
	for _, p := range t.Parameters {
		if p.Default == compute.AmiSSMPath {
			return p.Default, true
		}
	}
	return "", false
}

func checkAccount(ctx context.Context, client STSAPI, want string) (string, Result) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", Result{Name: CheckAccount, Detail: fmt.Sprintf("unable to resolve caller identity: %v", err)}
	}
	got := aws.ToString(out.Account)
	logging.Debug("resolved caller identity", "account", got, "arn", aws.ToString(out.Arn))
	if want != "" && want != got {
		return got, Result{Name: CheckAccount, Detail: fmt.Sprintf("credentials belong to %s, expected %s", got, want)}
	}
	return got, Result{Name: CheckAccount, OK: true, Detail: got}
}

func checkZones(ctx context.Context, client EC2API, zones []string) Result {
	out, err := client.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{
		ZoneNames: zones,
		Filters:   []ec2types.Filter{{Name: aws.String("state"), Values: []string{"available"}}},
	})
	if err != nil {
		return Result{Name: CheckZones, Detail: fmt.Sprintf("unable to describe %v: %v", zones, err)}
	}
	available := make(map[string]bool)
	for _, z := range out.AvailabilityZones {
		available[aws.ToString(z.ZoneName)] = true
	}
	var missing []string
	for _, z := range zones {
		if !available[z] {
			missing = append(missing, z)
		}
	}
	if len(missing) > 0 {
		return Result{Name: CheckZones, Detail: fmt.Sprintf("not available: %v", missing)}
	}
	return Result{Name: CheckZones, OK: true, Detail: fmt.Sprint(zones)}
}

func checkAMI(ctx context.Context, client SSMAPI, path string) Result {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(path)})
	if err != nil {
		return Result{Name: CheckAMI, Detail: fmt.Sprintf("unable to resolve %s: %v", path, err)}
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return Result{Name: CheckAMI, Detail: fmt.Sprintf("%s has no value", path)}
	}
	return Result{Name: CheckAMI, OK: true, Detail: aws.ToString(out.Parameter.Value)}
}

func checkImage(ctx context.Context, client ECRAPI, repositoryArn, tag string) Result {
	img, err := compute.ParseEcrImage(repositoryArn, tag)
	if err != nil {
		return Result{Name: CheckImage, Detail: err.Error()}
	}
	out, err := client.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(img.RepositoryName),
		RegistryId:     aws.String(img.Account),
		ImageIds:       []ecrtypes.ImageIdentifier{{ImageTag: aws.String(img.Tag)}},
	})
	if err != nil {
		return Result{Name: CheckImage, Detail: fmt.Sprintf("unable to find %s: %v", img.URI(), err)}
	}
	if len(out.ImageDetails) == 0 {
		return Result{Name: CheckImage, Detail: fmt.Sprintf("%s does not exist", img.URI())}
	}
	return Result{Name: CheckImage, OK: true, Detail: img.URI()}
}
