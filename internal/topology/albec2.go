package topology

import (
	"github.com/picklr-io/stackr/internal/exposure"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
)

const albDNSOutput = "albDnsName"

// ALBWithEC2 builds an internet-facing ALB in front of two web servers.
//
// IngressPolicy open shares one security group between the load balancer and
// the instances and admits all TCP from anywhere. scoped (the default) gives
// the load balancer its own group open on port 80 and admits traffic to the
// instances only from that group. ExportEndpoint exports the DNS name.
func ALBWithEC2(p stack.Props) (*ir.Template, error) {
	b := stack.NewBuilder(p, "Application load balancer with EC2 instances")
	policy, err := security.ParsePolicy(p.IngressPolicy, security.Scoped)
	b.Fail(err)

	n := network.Build(b, network.DefaultConfig(p.AvailabilityZones(2)))
	g := security.NewGraph(b, n.Vpc())

	var albSG, ec2SG *security.Group
	if policy == security.Open {
		shared := g.Group("SecurityGroup", b.Name("albEc2InstanceSecurityGroup"), "Allow all traffic")
		g.AllowTier(shared, security.Open, nil, webPort)
		albSG, ec2SG = shared, shared
	} else {
		albSG = g.Group("AlbSecurityGroup", b.Name("alb"), "Allow HTTP from anywhere")
		g.Ingress(albSG, security.AnyIPv4(), security.TCP(webPort), "Allow HTTP from anywhere")
		ec2SG = g.Group("Ec2SecurityGroup", b.Name("ec2Instance"), "Allow HTTP from the load balancer")
		g.AllowTier(ec2SG, security.Scoped, albSG, webPort)
	}

	instances := webServers(b, n, ec2SG, 2)
	alb := exposure.AddALB(b, n, exposure.ALBSpec{
		Prefix:          "Alb",
		Name:            b.Name("albEc2Instance"),
		SecurityGroup:   albSG,
		Subnets:         network.Public,
		Port:            webPort,
		TargetGroupName: b.Name("albEc2Instance"),
		Instances:       instances,
		HealthCheck:     exposure.DefaultHealthCheck(),
	})

	export := ""
	if p.ExportEndpoint {
		export = albDNSOutput
	}
	exposure.Endpoint(b, albDNSOutput, "The DNS name of the ALB", alb.DNSName(), export)
	return b.Build()
}
