package exposure

import (
	"testing"

	"github.com/picklr-io/stackr/internal/compute"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	b   *stack.Builder
	n   *network.Network
	g   *security.Graph
	sg  *security.Group
	ec2 string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := stack.NewBuilder(stack.Props{Scope: "dev", Region: "eu-west-1"}, "exposure test")
	n := network.Build(b, network.DefaultConfig(b.Props().AvailabilityZones(2)))
	g := security.NewGraph(b, n.Vpc())
	sg := g.Group("AlbSecurityGroup", "alb-dev", "ALB")
	p, err := compute.Place(n, true, false)
	require.NoError(t, err)
	inst := compute.Instance(b, n, compute.InstanceSpec{ID: "Instance", Name: "instance-dev", SecurityGroup: sg, Placement: p})
	return &fixture{b: b, n: n, g: g, sg: sg, ec2: inst}
}

func (f *fixture) alb(internal bool) *ALB {
	subnets := network.Public
	if internal {
		subnets = network.Private
	}
	return AddALB(f.b, f.n, ALBSpec{
		Prefix:          "Alb",
		Name:            "alb-dev",
		Internal:        internal,
		SecurityGroup:   f.sg,
		Subnets:         subnets,
		Port:            80,
		TargetGroupName: "albTargets-dev",
		Instances:       []string{f.ec2},
		HealthCheck:     DefaultHealthCheck(),
	})
}

func TestAddALB(t *testing.T) {
	f := newFixture(t)
	alb := f.alb(false)
	Endpoint(f.b, "albDnsName", "ALB DNS name", alb.DNSName(), "albDnsName")
	tmpl, err := f.b.Build()
	require.NoError(t, err)

	assert.Less(t, tmpl.Index(alb.TargetGroupID), tmpl.Index(alb.ID))
	assert.Less(t, tmpl.Index(alb.ID), tmpl.Index(alb.ListenerID))

	tg := tmpl.Resource(alb.TargetGroupID)
	assert.Equal(t, true, tg.Property("HealthCheckEnabled"))
	assert.Equal(t, 2.0, tg.Property("HealthyThresholdCount"))

	lb := tmpl.Resource(alb.ID)
	assert.Equal(t, "internet-facing", lb.Property("Scheme"))
	assert.ElementsMatch(t, []string{"VpcPublicSubnet1DefaultRoute", "VpcPublicSubnet2DefaultRoute"}, lb.DependsOn)

	listener := tmpl.Resource(alb.ListenerID)
	assert.Equal(t, map[string]any{"Ref": alb.ID}, listener.Property("LoadBalancerArn"))
	assert.Equal(t, []any{map[string]any{
		"Type":           "forward",
		"TargetGroupArn": map[string]any{"Ref": alb.TargetGroupID},
	}}, listener.Property("DefaultActions"))

	out := tmpl.Outputs["albDnsName"]
	require.NotNil(t, out)
	assert.Equal(t, "albDnsName-dev", out.ExportName)
	assert.True(t, out.Endpoint)
}

func TestAddALB_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ALBSpec)
	}{
		{"zero threshold", func(s *ALBSpec) { s.HealthCheck.HealthyThreshold = 0 }},
		{"threshold too high", func(s *ALBSpec) { s.HealthCheck.HealthyThreshold = 11 }},
		{"long name", func(s *ALBSpec) { s.Name = "albEc2Instance-a-very-long-scope-name" }},
		{"no targets", func(s *ALBSpec) { s.Instances = nil }},
		{"no security group", func(s *ALBSpec) { s.SecurityGroup = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			spec := ALBSpec{
				Prefix: "Alb", Name: "alb-dev", SecurityGroup: f.sg, Subnets: network.Public, Port: 80,
				TargetGroupName: "tg-dev", Instances: []string{f.ec2}, HealthCheck: DefaultHealthCheck(),
			}
			tt.mutate(&spec)
			AddALB(f.b, f.n, spec)
			assert.ErrorIs(t, f.b.Err(), stack.ErrConfig)
		})
	}
}

func TestAddNLB_DependsOnAlbListener(t *testing.T) {
	f := newFixture(t)
	alb := f.alb(true)
	nlb := AddNLB(f.b, f.n, NLBSpec{
		Prefix:          "Nlb",
		Name:            "nlbEc2Instance-dev",
		Subnets:         network.Public,
		CrossZone:       true,
		Port:            80,
		TargetGroupName: "nlbTargetsAlb-dev",
		Target:          alb,
		HealthCheck:     DefaultHealthCheck(),
	})
	Endpoint(f.b, "nlbDnsName", "The DNS name of the NLB", nlb.DNSName(), "nlbDnsName")
	tmpl, err := f.b.Build()
	require.NoError(t, err)

	tg := tmpl.Resource(nlb.TargetGroupID)
	assert.Equal(t, "alb", tg.Property("TargetType"))
	assert.Equal(t, "TCP", tg.Property("Protocol"))
	assert.True(t, tg.HasDependency(alb.ListenerID))
	assert.Contains(t, tmpl.Resource(nlb.ID).Property("LoadBalancerAttributes"),
		map[string]any{"Key": "load_balancing.cross_zone.enabled", "Value": "true"})
	assert.Equal(t, "internal", tmpl.Resource(alb.ID).Property("Scheme"))
}

func TestAddNLB_PortMismatch(t *testing.T) {
	f := newFixture(t)
	alb := f.alb(true)
	AddNLB(f.b, f.n, NLBSpec{
		Prefix: "Nlb", Name: "nlb-dev", Subnets: network.Public, Port: 8080,
		TargetGroupName: "nlb-dev", Target: alb, HealthCheck: DefaultHealthCheck(),
	})
	assert.ErrorIs(t, f.b.Err(), stack.ErrConfig)
}

func TestHTTPAPI_ALBRoute(t *testing.T) {
	f := newFixture(t)
	link := f.g.Group("VpcLinkSecurityGroup", "vpcLink-dev", "VPC link")
	alb := f.alb(true)
	vpcLink := AddVpcLink(f.b, f.n, "VpcLink", "apiGatewayToAlb-dev", link, network.Private)
	api := AddHTTPAPI(f.b, "HttpApi", "albHttpApi-dev", "HTTP API with ALB Integration")
	route := api.ALBRoute("GET /alb", vpcLink, alb, "/")
	api.DefaultStage()
	Endpoint(f.b, "apiGatewayEndpoint", "API endpoint", api.Endpoint(), "apiGatewayEndpoint")
	tmpl, err := f.b.Build()
	require.NoError(t, err)

	r := tmpl.Resource(route)
	assert.Equal(t, "GET /alb", r.Property("RouteKey"))
	integration := tmpl.Resource("HttpApiIntegration1")
	require.NotNil(t, integration)
	assert.Equal(t, map[string]any{"overwrite:path": "/"}, integration.Property("RequestParameters"))
	assert.Equal(t, map[string]any{"Ref": alb.ListenerID}, integration.Property("IntegrationUri"))
	assert.Equal(t, map[string]any{"Ref": "VpcLink"}, integration.Property("ConnectionId"))
	assert.Equal(t, "VPC_LINK", integration.Property("ConnectionType"))
	assert.Equal(t, "$default", tmpl.Resource("HttpApiDefaultStage").Property("StageName"))
}

func TestHTTPAPI_LambdaRoute(t *testing.T) {
	b := stack.NewBuilder(stack.Props{Scope: "dev", Region: "eu-west-1"}, "t")
	fn := compute.AddFunction(b, compute.FunctionSpec{ID: "Handler", Name: "handler-dev"})
	api := AddHTTPAPI(b, "HttpApi", "lambdaHttpApi-dev", "HTTP API with Lambda Integration")
	api.LambdaRoute("GET /lambda", fn)
	api.DefaultStage()
	Endpoint(b, "lambdaApiEndpoint", "API endpoint", api.Endpoint(), "lambdaApiEndpoint")
	tmpl, err := b.Build()
	require.NoError(t, err)

	integration := tmpl.Resource("HttpApiIntegration1")
	assert.Equal(t, "AWS_PROXY", integration.Property("IntegrationType"))
	assert.Equal(t, "2.0", integration.Property("PayloadFormatVersion"))
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"Handler", "Arn"}}, integration.Property("IntegrationUri"))
	assert.NotNil(t, tmpl.Resource("HttpApiInvokePermission"))
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"HttpApi", "ApiEndpoint"}}, tmpl.Outputs["lambdaApiEndpoint"].Value)
}

func TestWebSocketAPI_SharedIntegration(t *testing.T) {
	b := stack.NewBuilder(stack.Props{Scope: "dev", Region: "eu-west-1"}, "t")
	fn := compute.AddFunction(b, compute.FunctionSpec{ID: "Handler", Name: "handler-dev"})
	ws := AddWebSocketAPI(b, WebSocketSpec{
		ID:        "WebSocketApi",
		Name:      "mockWebsocketApi-dev",
		StageName: "test",
		Handler:   fn,
		Routes:    []string{RouteConnect, RouteDisconnect, RouteDefault},
	})
	Endpoint(b, "webSocketUrl", "WebSocket URL", ws.URL(), "webSocketUrl")
	b.Output("callbackUrl", &ir.Output{Value: ws.CallbackURL()})
	tmpl, err := b.Build()
	require.NoError(t, err)

	assert.Len(t, tmpl.ResourcesOfType("AWS::ApiGatewayV2::Integration"), 1)
	routes := tmpl.ResourcesOfType("AWS::ApiGatewayV2::Route")
	require.Len(t, routes, 3)
	var keys []any
	for _, r := range routes {
		keys = append(keys, r.Property("RouteKey"))
		assert.Equal(t, map[string]any{
			"Fn::Join": []any{"/", []any{"integrations", map[string]any{"Ref": ws.IntegrationID}}},
		}, r.Property("Target"))
		assert.Equal(t, "$default", r.Property("RouteResponseSelectionExpression"))
	}
	assert.Equal(t, []any{"$connect", "$disconnect", "$default"}, keys)
	assert.Len(t, tmpl.ResourcesOfType("AWS::ApiGatewayV2::RouteResponse"), 3)
	assert.Equal(t, []string{"webSocketUrl"}, tmpl.Endpoints())
}

func TestWebSocketAPI_Invalid(t *testing.T) {
	b := stack.NewBuilder(stack.Props{Scope: "dev", Region: "eu-west-1"}, "t")
	AddWebSocketAPI(b, WebSocketSpec{ID: "Ws", StageName: "test", Routes: []string{RouteDefault}})
	assert.ErrorIs(t, b.Err(), stack.ErrConfig)
}
