package topology

import (
	"github.com/picklr-io/stackr/internal/compute"
	"github.com/picklr-io/stackr/internal/exposure"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
)

const (
	ecsFargateOutput = "clusterArn"
	vpcFargateOutput = "clusterArn"
)

// fargateNames are the scoped names of one Fargate topology.
type fargateNames struct {
	subnetGroup   string
	cluster       string
	family        string
	container     string
	logGroup      string
	streamPrefix  string
	securityGroup string
	service       string
	export        string
}

// fargateStack is a single-zone VPC with one public subnet group and no NAT
// gateway running one Fargate task. Pulling the image needs egress, so the
// service is placed in the public subnet with a public IP.
func fargateStack(b *stack.Builder, names fargateNames, dnsHostnames bool) {
	p := b.Props()
	img, err := compute.ParseEcrImage(p.EcrArn, p.ImageTag)
	b.Fail(err)

	n := network.Build(b, network.Config{
		CIDR:               network.DefaultCIDR,
		Zones:              p.AvailabilityZones(1),
		NatGateways:        0,
		SubnetGroups:       []network.SubnetGroup{{Name: names.subnetGroup, Type: network.Public, CidrMask: 16}},
		EnableDNSHostnames: dnsHostnames,
		EnableDNSSupport:   true,
	})

	g := security.NewGraph(b, n.Vpc())
	sg := g.Group("ServiceSecurityGroup", names.securityGroup, "Allow all traffic")
	g.AllowTier(sg, security.Open, nil, 0)

	placement, err := compute.Place(n, true, true)
	b.Fail(err)

	f := compute.AddFargate(b, n, compute.FargateSpec{
		ClusterName:   names.cluster,
		Family:        names.family,
		ServiceName:   names.service,
		ContainerName: names.container,
		LogGroupName:  names.logGroup,
		StreamPrefix:  names.streamPrefix,
		Image:         img,
		CPU:           256,
		Memory:        512,
		ContainerPort: 8080,
		DesiredCount:  1,
		SecurityGroup: sg,
		Placement:     placement,
	})
	exposure.Endpoint(b, ecsFargateOutput, "The ARN of the Fargate Cluster", f.ClusterArn(), names.export)
}

// ECSWithFargate runs the configured image tag of the EcrArn repository on Fargate.
func ECSWithFargate(p stack.Props) (*ir.Template, error) {
	b := stack.NewBuilder(p, "ECS cluster with a Fargate service")
	fargateStack(b, fargateNames{
		subnetGroup:   b.Name("ecsWithFargateSubnetGroup"),
		cluster:       b.Name("ecsWithFargateCluster"),
		family:        b.Name("ecsWithFargateFamily"),
		container:     "apiContainer",
		logGroup:      "/ecs-with-fargate-api/" + p.Scope,
		streamPrefix:  b.Name("ecsWithFargateApiLogs"),
		securityGroup: b.Name("ecsWithFargate"),
		service:       b.Name("fargateService"),
		export:        "fargateClusterArn",
	}, false)
	return b.Build()
}

// VPCWithFargate runs the EcrArn repository image (tag latest unless set) on
// Fargate in a VPC with DNS hostnames enabled.
func VPCWithFargate(p stack.Props) (*ir.Template, error) {
	b := stack.NewBuilder(p, "VPC with a Fargate service")
	fargateStack(b, fargateNames{
		subnetGroup:   b.Name("subnet-group"),
		cluster:       b.Name("cluster"),
		family:        b.Name("fargate-family"),
		container:     "api-container",
		logGroup:      "/api/" + p.Scope,
		streamPrefix:  b.Name("api-logs"),
		securityGroup: b.Name("security-group"),
		service:       b.Name("api-service"),
		export:        "clusterArn",
	}, true)
	return b.Build()
}
