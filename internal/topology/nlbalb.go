package topology

import (
	"github.com/picklr-io/stackr/internal/exposure"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
)

const nlbDNSOutput = "nlbDnsName"

// NLBWithALB builds an internet-facing NLB forwarding TCP 80 to an internal
// ALB in front of one web server. With the default scoped policy the
// instance only admits the ALB's security group.
func NLBWithALB(p stack.Props) (*ir.Template, error) {
	b := stack.NewBuilder(p, "Network load balancer with ALB target")
	policy, err := security.ParsePolicy(p.IngressPolicy, security.Scoped)
	b.Fail(err)

	n := network.Build(b, network.DefaultConfig(p.AvailabilityZones(2)))
	g := security.NewGraph(b, n.Vpc())

	albSG := g.Group("AlbSecurityGroup", b.Name("alb"), "Allow HTTP from the network load balancer")
	if policy == security.Open {
		g.AllowTier(albSG, security.Open, nil, webPort)
	} else {
		g.Ingress(albSG, security.AnyIPv4(), security.TCP(webPort), "Allow HTTP from the network load balancer")
	}
	ec2SG := g.Group("Ec2SecurityGroup", b.Name("ec2Instance"), "EC2 Security Group")
	g.AllowTier(ec2SG, policy, albSG, webPort)

	instances := webServers(b, n, ec2SG, 1)
	alb := exposure.AddALB(b, n, exposure.ALBSpec{
		Prefix:          "Alb",
		Name:            b.Name("albEc2Instance"),
		Internal:        true,
		SecurityGroup:   albSG,
		Subnets:         network.Private,
		Port:            webPort,
		TargetGroupName: b.Name("albTargets"),
		Instances:       instances,
		HealthCheck:     exposure.DefaultHealthCheck(),
	})
	nlb := exposure.AddNLB(b, n, exposure.NLBSpec{
		Prefix:          "Nlb",
		Name:            b.Name("nlbEc2Instance"),
		Subnets:         network.Public,
		CrossZone:       true,
		Port:            webPort,
		TargetGroupName: b.Name("nlbTargetsAlb"),
		Target:          alb,
		HealthCheck:     exposure.DefaultHealthCheck(),
	})

	exposure.Endpoint(b, nlbDNSOutput, "The DNS name of the NLB", nlb.DNSName(), "nlbDnsName")
	return b.Build()
}
