package compute

import (
	"encoding/json"
	"testing"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/apigatewayv2"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publicOnly(b *stack.Builder) *network.Network {
	return network.Build(b, network.Config{
		Zones:        b.Props().AvailabilityZones(1),
		SubnetGroups: []network.SubnetGroup{{Name: "public", Type: network.Public, CidrMask: 16}},
	})
}

func TestPlace(t *testing.T) {
	props := stack.Props{Scope: "dev", Region: "us-east-1"}

	t.Run("private with NAT", func(t *testing.T) {
		b := stack.NewBuilder(props, "t")
		n := network.Build(b, network.DefaultConfig(props.AvailabilityZones(2)))
		p, err := Place(n, true, false)
		require.NoError(t, err)
		assert.Equal(t, Placement{SubnetType: network.Private}, p)
	})

	t.Run("no NAT needs explicit opt in", func(t *testing.T) {
		b := stack.NewBuilder(props, "t")
		n := publicOnly(b)
		_, err := Place(n, true, false)
		assert.ErrorIs(t, err, stack.ErrConfig)

		p, err := Place(n, true, true)
		require.NoError(t, err)
		assert.Equal(t, network.Public, p.SubnetType)
		assert.True(t, p.AssignPublicIP)
	})

	t.Run("isolated private without egress need", func(t *testing.T) {
		b := stack.NewBuilder(props, "t")
		cfg := network.DefaultConfig(props.AvailabilityZones(2))
		cfg.NatGateways = 0
		n := network.Build(b, cfg)

		p, err := Place(n, false, false)
		require.NoError(t, err)
		assert.Equal(t, network.Private, p.SubnetType)

		_, err = Place(n, true, false)
		assert.ErrorIs(t, err, stack.ErrConfig)
	})
}

func TestParseEcrImage(t *testing.T) {
	img, err := ParseEcrImage("arn:aws:ecr:us-east-1:123:repository/app", "")
	require.NoError(t, err)
	assert.Equal(t, "123.dkr.ecr.us-east-1.amazonaws.com/app:latest", img.URI())
	assert.Equal(t, "app", img.RepositoryName)

	img, err = ParseEcrImage("arn:aws-cn:ecr:cn-north-1:123:repository/team/app", "v2")
	require.NoError(t, err)
	assert.Equal(t, "123.dkr.ecr.cn-north-1.amazonaws.com.cn/team/app:v2", img.URI())

	for _, bad := range []string{
		"",
		"not-an-arn",
		"arn:aws:s3:::bucket",
		"arn:aws:ecr:us-east-1:123:image/app",
		"arn:aws:ecr::123:repository/app",
	} {
		_, err := ParseEcrImage(bad, "latest")
		assert.ErrorIs(t, err, stack.ErrConfig, bad)
	}
}

func TestValidateTaskSize(t *testing.T) {
	assert.NoError(t, ValidateTaskSize(256, 512))
	assert.NoError(t, ValidateTaskSize(1024, 8192))
	assert.NoError(t, ValidateTaskSize(8192, 20480))
	assert.Error(t, ValidateTaskSize(256, 4096))
	assert.Error(t, ValidateTaskSize(300, 512))
	assert.Error(t, ValidateTaskSize(8192, 18432))
}

func TestInstance(t *testing.T) {
	b := stack.NewBuilder(stack.Props{Scope: "dev", Region: "us-east-1"}, "t")
	n := network.Build(b, network.DefaultConfig(b.Props().AvailabilityZones(2)))
	g := security.NewGraph(b, n.Vpc())
	sg := g.Group("Ec2SecurityGroup", "ec2-dev", "EC2")

	p, err := Place(n, true, false)
	require.NoError(t, err)
	for i, id := range []string{"Ec2Instance1", "Ec2Instance2"} {
		Instance(b, n, InstanceSpec{ID: id, Name: id, SecurityGroup: sg, Placement: p, Zone: i, UserData: WebServerUserData()})
	}
	b.Output("Id", &ir.Output{Value: cloudformation.Ref("Ec2Instance1"), Endpoint: true})
	tmpl, err := b.Build()
	require.NoError(t, err)

	require.Len(t, tmpl.Parameters, 1)
	assert.Equal(t, AmiSSMPath, tmpl.Parameters[AmiParameter].Default)

	first := tmpl.Resource("Ec2Instance1")
	second := tmpl.Resource("Ec2Instance2")
	assert.Equal(t, "t2.micro", first.Property("InstanceType"))
	assert.Equal(t, map[string]any{"Ref": "VpcPrivateSubnet1"}, first.Property("SubnetId"))
	assert.Equal(t, map[string]any{"Ref": "VpcPrivateSubnet2"}, second.Property("SubnetId"))
	assert.Equal(t, map[string]any{"Ref": AmiParameter}, first.Property("ImageId"))
	assert.Equal(t, []any{map[string]any{"Fn::GetAtt": []any{"Ec2SecurityGroup", "GroupId"}}}, first.Property("SecurityGroupIds"))
	assert.Equal(t, []string{"VpcPrivateSubnet1DefaultRoute"}, first.DependsOn)
	assert.Equal(t, first.Property("UserData"), second.Property("UserData"))

	userData := first.Property("UserData").(map[string]any)["Fn::Base64"].(string)
	assert.Contains(t, userData, "yum install -y httpd")
	assert.Contains(t, userData, "Hello world from $(hostname -f)")
	assert.Contains(t, userData, "#!/bin/bash\nyum update -y\n")
}

func TestAddFargate(t *testing.T) {
	b := stack.NewBuilder(stack.Props{Scope: "dev", Region: "us-east-1"}, "t")
	n := publicOnly(b)
	g := security.NewGraph(b, n.Vpc())
	sg := g.Group("ServiceSecurityGroup", "security-group-dev", "Allow all traffic")
	img, err := ParseEcrImage("arn:aws:ecr:us-east-1:123:repository/app", "")
	require.NoError(t, err)
	p, err := Place(n, true, true)
	require.NoError(t, err)

	f := AddFargate(b, n, FargateSpec{
		ClusterName:   "cluster-dev",
		Family:        "fargate-family-dev",
		ServiceName:   "api-service-dev",
		LogGroupName:  "/api/dev",
		StreamPrefix:  "api-logs-dev",
		Image:         img,
		CPU:           256,
		Memory:        512,
		ContainerPort: 8080,
		DesiredCount:  1,
		SecurityGroup: sg,
		Placement:     p,
	})
	b.Output("ClusterArn", &ir.Output{Value: f.ClusterArn(), Endpoint: true})
	tmpl, err := b.Build()
	require.NoError(t, err)

	svc := tmpl.Resource(f.ServiceID)
	require.NotNil(t, svc)
	assert.Equal(t, "api-service-dev", svc.Property("ServiceName"))
	assert.Equal(t, 1.0, svc.Property("DesiredCount"))
	assert.Equal(t, "1.4.0", svc.Property("PlatformVersion"))
	awsvpc := svc.Property("NetworkConfiguration").(map[string]any)["AwsvpcConfiguration"].(map[string]any)
	assert.Equal(t, "ENABLED", awsvpc["AssignPublicIp"])
	assert.Equal(t, []string{"ClusterCapacityProviders"}, svc.DependsOn)

	providers := tmpl.Resource("ClusterCapacityProviders")
	assert.Equal(t, []any{}, providers.Property("DefaultCapacityProviderStrategy"))

	logs := tmpl.Resource(f.LogGroupID)
	assert.Equal(t, 1.0, logs.Property("RetentionInDays"))
	assert.Equal(t, ir.PolicyDelete, logs.DeletionPolicy)
	assert.Equal(t, ir.PolicyDelete, logs.UpdateReplacePolicy)

	task := tmpl.Resource(f.TaskDefinitionID)
	assert.Equal(t, "256", task.Property("Cpu"))
	assert.Equal(t, "512", task.Property("Memory"))
	raw, err := json.Marshal(task.Properties)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Image":"123.dkr.ecr.us-east-1.amazonaws.com/app:latest"`)
	assert.Contains(t, string(raw), `"ContainerPort":8080`)
	assert.Contains(t, string(raw), `"awslogs-group":{"Ref":"LogGroup"}`)
	assert.Contains(t, string(raw), `"awslogs-region":{"Ref":"AWS::Region"}`)

	exec, err := json.Marshal(tmpl.Resource("ExecutionRole").Properties)
	require.NoError(t, err)
	assert.Contains(t, string(exec), `"Resource":{"Fn::GetAtt":["LogGroup","Arn"]}`)
}

func TestAddFargate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*FargateSpec)
	}{
		{"task size", func(s *FargateSpec) { s.Memory = 4096 }},
		{"negative count", func(s *FargateSpec) { s.DesiredCount = -1 }},
		{"no image", func(s *FargateSpec) { s.Image = nil }},
		{"no security group", func(s *FargateSpec) { s.SecurityGroup = nil }},
		{"no private subnets", func(s *FargateSpec) { s.Placement = Placement{SubnetType: network.Private} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := stack.NewBuilder(stack.Props{Scope: "dev", Region: "us-east-1"}, "t")
			n := publicOnly(b)
			sg := security.NewGraph(b, n.Vpc()).Group("Sg", "sg-dev", "sg")
			img, _ := ParseEcrImage("arn:aws:ecr:us-east-1:123:repository/app", "")
			spec := FargateSpec{
				Image: img, CPU: 256, Memory: 512, DesiredCount: 1, SecurityGroup: sg,
				Placement: Placement{SubnetType: network.Public, AssignPublicIP: true},
			}
			tt.mutate(&spec)
			AddFargate(b, n, spec)
			assert.ErrorIs(t, b.Err(), stack.ErrConfig)
		})
	}
}

func TestAddFunction(t *testing.T) {
	b := stack.NewBuilder(stack.Props{Scope: "dev", Region: "us-east-1"}, "t")
	fn := AddFunction(b, FunctionSpec{ID: "Handler", Name: "handler-dev"})
	b.Add("Api", &apigatewayv2.Api{Name: cloudformation.String("api")})
	AllowInvoke(b, fn, "HandlerPermission", "Api")
	b.Output("Arn", &ir.Output{Value: fn.Arn(), Endpoint: true})
	tmpl, err := b.Build()
	require.NoError(t, err)

	f := tmpl.Resource("Handler")
	assert.Equal(t, "nodejs20.x", f.Property("Runtime"))
	assert.Equal(t, 3.0, f.Property("Timeout"))
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"HandlerRole", "Arn"}}, f.Property("Role"))
	assert.Equal(t, []string{"HandlerLogGroup"}, f.DependsOn)
	code := f.Property("Code").(map[string]any)["ZipFile"].(string)
	assert.Contains(t, code, "statusCode: 200")
	assert.Contains(t, code, SuccessBody)

	assert.Equal(t, 0.0, tmpl.Resource("HandlerEventInvokeConfig").Property("MaximumRetryAttempts"))
	assert.Equal(t, 1.0, tmpl.Resource("HandlerLogGroup").Property("RetentionInDays"))
	assert.Equal(t, []string{"Api"}, ir.References(tmpl.Resource("HandlerPermission").Properties["SourceArn"]))

	b2 := stack.NewBuilder(stack.Props{Scope: "dev", Region: "us-east-1"}, "t")
	AddFunction(b2, FunctionSpec{ID: "Handler", Name: "h", RetryAttempts: 5})
	assert.ErrorIs(t, b2.Err(), stack.ErrConfig)
}
