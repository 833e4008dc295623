package topology

import (
	"testing"

	"github.com/picklr-io/stackr/internal/engine"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEcrArn = "arn:aws:ecr:eu-west-1:123456789012:repository/api"

func props(scope string) stack.Props {
	return stack.Props{
		Scope:   scope,
		Account: "123456789012",
		Region:  "eu-west-1",
		EcrArn:  testEcrArn,
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	var names []string
	for _, topo := range r.List() {
		names = append(names, topo.Name)
	}
	assert.Equal(t, []string{
		"alb-ec2", "ecs-fargate", "http-api-alb", "http-api-lambda", "nlb-alb", "vpc-fargate", "websocket-lambda",
	}, names)

	topo, err := r.Get("vpc-fargate")
	require.NoError(t, err)
	assert.True(t, topo.NeedsImage)
	assert.Equal(t, "deploy-ecr-dev", topo.StackName(props("dev")))

	p := props("dev")
	p.StackName = "custom"
	assert.Equal(t, "custom", topo.StackName(p))

	_, err = r.Get("vpc-to-vpc")
	assert.ErrorContains(t, err, "unknown topology")
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	topo := &Topology{Name: "x", Build: ALBWithEC2}
	require.NoError(t, r.Register(topo))
	assert.Error(t, r.Register(topo))
	assert.Error(t, r.Register(&Topology{Name: "y"}))
}

func TestAllTopologies(t *testing.T) {
	for _, topo := range Default().List() {
		t.Run(topo.Name, func(t *testing.T) {
			tmpl, err := topo.Build(props("dev"))
			require.NoError(t, err)

			assert.Equal(t, []string{topo.Endpoint}, tmpl.Endpoints())
			out := tmpl.Outputs[topo.Endpoint]
			if out.ExportName != "" {
				assert.Regexp(t, `-dev$`, out.ExportName)
			}

			require.NoError(t, engine.Validate(tmpl))
			assert.Empty(t, engine.CheckOrder(tmpl))

			first, err := ir.RenderJSON(tmpl)
			require.NoError(t, err)
			again, err := topo.Build(props("dev"))
			require.NoError(t, err)
			second, err := ir.RenderJSON(again)
			require.NoError(t, err)
			assert.Equal(t, string(first), string(second))

			other, err := topo.Build(props("prod"))
			require.NoError(t, err)
			third, err := ir.RenderJSON(other)
			require.NoError(t, err)
			assert.NotEqual(t, string(first), string(third))
		})
	}
}

func TestAllTopologies_RejectInvalidProps(t *testing.T) {
	for _, topo := range Default().List() {
		t.Run(topo.Name, func(t *testing.T) {
			p := props("dev")
			p.Region = ""
			tmpl, err := topo.Build(p)
			assert.Nil(t, tmpl)
			assert.ErrorIs(t, err, stack.ErrConfig)
		})
	}
}

func groupID(id string) map[string]any {
	return map[string]any{"Fn::GetAtt": []any{id, "GroupId"}}
}

func TestLoadBalancedTopologies_DNSHostnamesOff(t *testing.T) {
	for _, build := range []BuildFunc{ALBWithEC2, HTTPAPIWithALB, NLBWithALB} {
		tmpl, err := build(props("dev"))
		require.NoError(t, err)
		vpc := tmpl.Resource("Vpc")
		require.NotNil(t, vpc)
		assert.Equal(t, false, vpc.Property("EnableDnsHostnames"))
		assert.Equal(t, true, vpc.Property("EnableDnsSupport"))
	}
}

func TestVPCWithFargate_Dev(t *testing.T) {
	tmpl, err := VPCWithFargate(props("dev"))
	require.NoError(t, err)

	assert.Len(t, tmpl.ResourcesOfType("AWS::EC2::VPC"), 1)
	assert.Empty(t, tmpl.ResourcesOfType("AWS::EC2::NatGateway"))
	assert.Equal(t, true, tmpl.Resource("Vpc").Property("EnableDnsHostnames"))

	subnets := tmpl.ResourcesOfType("AWS::EC2::Subnet")
	require.Len(t, subnets, 1)
	assert.Contains(t, subnets[0].Property("Tags"),
		map[string]any{"Key": stack.TagSubnetGroup, "Value": "subnet-group-dev"})
	assert.Equal(t, "10.0.0.0/16", subnets[0].Property("CidrBlock"))

	svc := tmpl.Resource("Service")
	require.NotNil(t, svc)
	assert.Equal(t, "api-service-dev", svc.Property("ServiceName"))
	assert.Equal(t, 1.0, svc.Property("DesiredCount"))

	task := tmpl.Resource("TaskDefinition")
	assert.Equal(t, "fargate-family-dev", task.Property("Family"))
	containers := task.Property("ContainerDefinitions").([]any)
	require.Len(t, containers, 1)
	assert.Equal(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com/api:latest",
		containers[0].(map[string]any)["Image"])

	assert.Equal(t, "clusterArn-dev", tmpl.Outputs["clusterArn"].ExportName)
}

func TestFargate_RequiresEcrArn(t *testing.T) {
	p := props("dev")
	p.EcrArn = "not-an-arn"
	_, err := ECSWithFargate(p)
	var cfgErr *stack.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ecrArn", cfgErr.Field)
}

func TestALBWithEC2_ScopedProd(t *testing.T) {
	tmpl, err := ALBWithEC2(props("prod"))
	require.NoError(t, err)

	groups := tmpl.ResourcesOfType("AWS::EC2::SecurityGroup")
	require.Len(t, groups, 2)

	var ec2Rules []*ir.Resource
	for _, r := range tmpl.ResourcesOfType("AWS::EC2::SecurityGroupIngress") {
		if assert.ObjectsAreEqual(groupID("Ec2SecurityGroup"), r.Property("GroupId")) {
			ec2Rules = append(ec2Rules, r)
		}
	}
	require.Len(t, ec2Rules, 1)
	assert.Equal(t, groupID("AlbSecurityGroup"), ec2Rules[0].Property("SourceSecurityGroupId"))
	assert.Equal(t, 80.0, ec2Rules[0].Property("FromPort"))
	assert.Nil(t, ec2Rules[0].Property("CidrIp"))

	assert.Len(t, tmpl.ResourcesOfType("AWS::EC2::Instance"), 2)
	assert.Empty(t, tmpl.Outputs[albDNSOutput].ExportName)
}

func TestALBWithEC2_OpenExported(t *testing.T) {
	p := props("dev")
	p.IngressPolicy = "open"
	p.ExportEndpoint = true
	tmpl, err := ALBWithEC2(p)
	require.NoError(t, err)

	groups := tmpl.ResourcesOfType("AWS::EC2::SecurityGroup")
	require.Len(t, groups, 1)
	assert.Equal(t, "albEc2InstanceSecurityGroup-dev", groups[0].Property("GroupName"))
	rules := tmpl.ResourcesOfType("AWS::EC2::SecurityGroupIngress")
	require.Len(t, rules, 1)
	assert.Equal(t, "0.0.0.0/0", rules[0].Property("CidrIp"))
	assert.Equal(t, "albDnsName-dev", tmpl.Outputs[albDNSOutput].ExportName)
}

func TestNLBWithALB_LintCatchesMissingDependency(t *testing.T) {
	tmpl, err := NLBWithALB(props("dev"))
	require.NoError(t, err)
	require.NoError(t, engine.Validate(tmpl))

	tg := tmpl.Resource("NlbTargetGroup")
	require.NotNil(t, tg)
	require.True(t, tg.HasDependency("AlbListener"))

	tg.DependsOn = nil
	err = engine.Validate(tmpl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), engine.RuleAlbTargetDependency)
}

func TestWebSocketWithLambda(t *testing.T) {
	tmpl, err := WebSocketWithLambda(props("dev"))
	require.NoError(t, err)

	assert.Len(t, tmpl.ResourcesOfType("AWS::ApiGatewayV2::Route"), 3)
	assert.Len(t, tmpl.ResourcesOfType("AWS::ApiGatewayV2::Integration"), 1)
	fn := tmpl.ResourcesOfType("AWS::Lambda::Function")
	require.Len(t, fn, 1)
	code := fn[0].Property("Code").(map[string]any)
	assert.Contains(t, code["ZipFile"], "Lambda Successfully executed. Check logs for additional info.")
	assert.Equal(t, "webSocketUrl-dev", tmpl.Outputs[webSocketOutput].ExportName)
	require.NotNil(t, tmpl.Outputs["callbackUrl"])
	assert.Equal(t, map[string]any{"Fn::Join": []any{"", []any{
		"wss://", map[string]any{"Ref": "WebSocketApi"}, ".execute-api.",
		map[string]any{"Ref": "AWS::Region"}, ".", map[string]any{"Ref": "AWS::URLSuffix"}, "/", "test",
	}}}, tmpl.Outputs[webSocketOutput].Value)
}

func TestHTTPAPIWithALB_PathRewrite(t *testing.T) {
	tmpl, err := HTTPAPIWithALB(props("dev"))
	require.NoError(t, err)

	integrations := tmpl.ResourcesOfType("AWS::ApiGatewayV2::Integration")
	require.Len(t, integrations, 1)
	assert.Equal(t, map[string]any{"overwrite:path": "/"}, integrations[0].Property("RequestParameters"))
	assert.Len(t, tmpl.ResourcesOfType("AWS::ApiGatewayV2::VpcLink"), 1)

	var schemes []any
	for _, lb := range tmpl.ResourcesOfType("AWS::ElasticLoadBalancingV2::LoadBalancer") {
		schemes = append(schemes, lb.Property("Scheme"))
	}
	assert.Equal(t, []any{"internal"}, schemes)
}
