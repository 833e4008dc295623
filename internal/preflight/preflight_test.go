package preflight

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/stackr/internal/compute"
	"github.com/picklr-io/stackr/internal/ir"
)

type fakeEC2 struct {
	zones []string
	in    *ec2.DescribeAvailabilityZonesInput
}

func (f *fakeEC2) DescribeAvailabilityZones(_ context.Context, in *ec2.DescribeAvailabilityZonesInput, _ ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error) {
	f.in = in
	out := &ec2.DescribeAvailabilityZonesOutput{}
	for _, z := range f.zones {
		out.AvailabilityZones = append(out.AvailabilityZones, ec2types.AvailabilityZone{ZoneName: aws.String(z)})
	}
	return out, nil
}

type fakeSSM struct {
	value string
	err   error
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(f.value)}}, nil
}

type fakeECR struct {
	tags []string
	in   *ecr.DescribeImagesInput
}

func (f *fakeECR) DescribeImages(_ context.Context, in *ecr.DescribeImagesInput, _ ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
	f.in = in
	tag := aws.ToString(in.ImageIds[0].ImageTag)
	for _, t := range f.tags {
		if t == tag {
			return &ecr.DescribeImagesOutput{ImageDetails: []ecrtypes.ImageDetail{{ImageTags: []string{t}}}}, nil
		}
	}
	return nil, errors.New("ImageNotFoundException")
}

type fakeSTS struct {
	account string
}

func (f *fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account), Arn: aws.String("arn:aws:iam::" + f.account + ":user/ci")}, nil
}

const repo = "arn:aws:ecr:eu-west-1:123456789012:repository/api"

func ec2Template() *ir.Template {
	return &ir.Template{
		Parameters: map[string]*ir.Parameter{
			"AmiParameter": {Type: "AWS::SSM::Parameter::Value<AWS::EC2::Image::Id>", Default: compute.AmiSSMPath},
		},
		Resources: []*ir.Resource{
			{LogicalID: "SubnetA", Type: "AWS::EC2::Subnet", Properties: map[string]any{"AvailabilityZone": "eu-west-1b"}},
			{LogicalID: "SubnetB", Type: "AWS::EC2::Subnet", Properties: map[string]any{"AvailabilityZone": "eu-west-1a"}},
			{LogicalID: "SubnetC", Type: "AWS::EC2::Subnet", Properties: map[string]any{"AvailabilityZone": "eu-west-1a"}},
		},
	}
}

func fargateTemplate() *ir.Template {
	return &ir.Template{Resources: []*ir.Resource{
		{LogicalID: "Subnet", Type: "AWS::EC2::Subnet", Properties: map[string]any{"AvailabilityZone": "eu-west-1a"}},
		{LogicalID: "TaskDefinition", Type: "AWS::ECS::TaskDefinition"},
	}}
}

func TestRequiredZones(t *testing.T) {
	assert.Equal(t, []string{"eu-west-1a", "eu-west-1b"}, RequiredZones(ec2Template()))
	assert.Empty(t, RequiredZones(&ir.Template{}))
}

func TestRun_EC2(t *testing.T) {
	ec2c := &fakeEC2{zones: []string{"eu-west-1a", "eu-west-1b"}}
	ecrc := &fakeECR{}
	clients := Clients{EC2: ec2c, SSM: &fakeSSM{value: "ami-0123"}, ECR: ecrc, STS: &fakeSTS{account: "123456789012"}}

	report, err := Run(context.Background(), clients, Target{Template: ec2Template(), Account: "123456789012"})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, "123456789012", report.Account)

	var names []string
	for _, r := range report.Results {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{CheckAccount, CheckAMI, CheckZones}, names)
	assert.Equal(t, "ami-0123", report.Results[1].Detail)
	assert.Equal(t, []string{"eu-west-1a", "eu-west-1b"}, ec2c.in.ZoneNames)
	assert.Nil(t, ecrc.in, "no image lookup without a task definition")
}

func TestRun_Failures(t *testing.T) {
	clients := Clients{
		EC2: &fakeEC2{zones: []string{"eu-west-1a"}},
		SSM: &fakeSSM{err: errors.New("ParameterNotFound")},
		STS: &fakeSTS{account: "999999999999"},
	}

	report, err := Run(context.Background(), clients, Target{Template: ec2Template(), Account: "123456789012"})
	require.NoError(t, err)
	failed := report.Err()
	require.Error(t, failed)
	assert.Contains(t, failed.Error(), "expected 123456789012")
	assert.Contains(t, failed.Error(), "ParameterNotFound")
	assert.Contains(t, failed.Error(), "not available: [eu-west-1b]")
}

func TestRun_Image(t *testing.T) {
	ecrc := &fakeECR{tags: []string{"v1"}}
	clients := Clients{EC2: &fakeEC2{zones: []string{"eu-west-1a"}}, ECR: ecrc, STS: &fakeSTS{account: "123456789012"}}

	report, err := Run(context.Background(), clients, Target{Template: fargateTemplate(), EcrArn: repo, ImageTag: "v1"})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, "api", aws.ToString(ecrc.in.RepositoryName))
	assert.Equal(t, "123456789012", aws.ToString(ecrc.in.RegistryId))

	report, err = Run(context.Background(), clients, Target{Template: fargateTemplate(), EcrArn: repo})
	require.NoError(t, err)
	require.Error(t, report.Err())
	assert.Contains(t, report.Err().Error(), "api:latest")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	clients := Clients{STS: &fakeSTS{account: "123456789012"}}

	_, err := Run(ctx, clients, Target{Template: &ir.Template{}})
	assert.ErrorIs(t, err, context.Canceled)
}
