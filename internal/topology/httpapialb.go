package topology

import (
	"github.com/picklr-io/stackr/internal/exposure"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
)

const httpAPIALBOutput = "apiEndpoint"

// HTTPAPIWithALB builds API Gateway -> VPC link -> internal ALB -> two web
// servers. GET /alb is forwarded with its path rewritten to /. The VPC link
// tier is open; the ALB and instance tiers follow IngressPolicy (default scoped).
func HTTPAPIWithALB(p stack.Props) (*ir.Template, error) {
	b := stack.NewBuilder(p, "HTTP API with ALB integration")
	policy, err := security.ParsePolicy(p.IngressPolicy, security.Scoped)
	b.Fail(err)

	n := network.Build(b, network.DefaultConfig(p.AvailabilityZones(2)))
	g := security.NewGraph(b, n.Vpc())

	linkSG := g.Group("VpcLinkSecurityGroup", b.Name("vpcLinkSecurityGroup"), "Allow all TCP")
	g.AllowTier(linkSG, security.Open, nil, webPort)
	albSG := g.Group("AlbSecurityGroup", b.Name("albSecurityGroup"), "Allow TCP connection from VPC Link on port 80")
	g.AllowTier(albSG, policy, linkSG, webPort)
	ec2SG := g.Group("Ec2SecurityGroup", b.Name("ec2InstanceSecurityGroup"), "Allow TCP connection from ALB on port 80")
	g.AllowTier(ec2SG, policy, albSG, webPort)

	instances := webServers(b, n, ec2SG, 2)
	alb := exposure.AddALB(b, n, exposure.ALBSpec{
		Prefix:          "Alb",
		Name:            b.Name("albEc2Instance"),
		Internal:        true,
		SecurityGroup:   albSG,
		Subnets:         network.Private,
		Port:            webPort,
		TargetGroupName: b.Name("albEc2Instance"),
		Instances:       instances,
		HealthCheck:     exposure.DefaultHealthCheck(),
	})

	link := exposure.AddVpcLink(b, n, "VpcLink", b.Name("apiGatewayToAlb"), linkSG, network.Private)
	api := exposure.AddHTTPAPI(b, "HttpApi", b.Name("albHttpApi"), "HTTP API with ALB Integration")
	api.ALBRoute("GET /alb", link, alb, "/")
	api.DefaultStage()

	exposure.Endpoint(b, httpAPIALBOutput, "The endpoint of the HTTP API", api.Endpoint(), "apiGatewayEndpoint")
	return b.Build()
}
