// Package network declares the VPC layer of a stack: the address space, one
// subnet per availability zone for every subnet group, the internet gateway,
// NAT gateways and route tables.
package network

import (
	"fmt"
	"net/netip"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/ec2"
	"github.com/picklr-io/stackr/internal/stack"
)

// SubnetType selects how a subnet group reaches the internet.
type SubnetType string

const (
	// Public subnets route through the internet gateway and map public IPs on launch.
	Public SubnetType = "public"
	// Private subnets route outbound traffic through a NAT gateway when one exists.
	Private SubnetType = "private"
)

// DefaultCIDR is the address space used when none is configured.
const DefaultCIDR = "10.0.0.0/16"

// SubnetGroup allocates one subnet of CidrMask bits per availability zone.
type SubnetGroup struct {
	Name     string
	Type     SubnetType
	CidrMask int
}

// Config describes the network to declare.
type Config struct {
	CIDR               string
	Zones              []string
	NatGateways        int
	SubnetGroups       []SubnetGroup
	EnableDNSHostnames bool
	EnableDNSSupport   bool
}

// DefaultConfig is one public and one private /18 per zone with a NAT gateway
// in each zone. DNS hostnames stay off; instances are reached through load balancers.
func DefaultConfig(zones []string) Config {
	return Config{
		CIDR:        DefaultCIDR,
		Zones:       zones,
		NatGateways: len(zones),
		SubnetGroups: []SubnetGroup{
			{Name: "public", Type: Public, CidrMask: 18},
			{Name: "private", Type: Private, CidrMask: 18},
		},
		EnableDNSHostnames: false,
		EnableDNSSupport:   true,
	}
}

// Subnet is one declared subnet.
type Subnet struct {
	ID    string
	Group string
	Type  SubnetType
	Zone  string
	CIDR  netip.Prefix
	// RouteID is the default route of the subnet's route table, empty for isolated subnets.
	RouteID string
}

// Network is the result of Build.
type Network struct {
	VpcID        string
	CIDR         netip.Prefix
	Zones        []string
	Subnets      []*Subnet
	NatGateways  int
	AttachmentID string
}

// Vpc returns a reference to the VPC ID.
func (n *Network) Vpc() string {
	return cloudformation.Ref(n.VpcID)
}

// SubnetsOf returns the subnets of the given type in allocation order.
func (n *Network) SubnetsOf(t SubnetType) []*Subnet {
	var out []*Subnet
	for _, s := range n.Subnets {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// SubnetRefs returns references to every subnet of type t.
func (n *Network) SubnetRefs(t SubnetType) []string {
	subnets := n.SubnetsOf(t)
	refs := make([]string, 0, len(subnets))
	for _, s := range subnets {
		refs = append(refs, cloudformation.Ref(s.ID))
	}
	return refs
}

// HasEgress reports whether subnets of type t can reach the internet.
func (n *Network) HasEgress(t SubnetType) bool {
	if len(n.SubnetsOf(t)) == 0 {
		return false
	}
	return t == Public || n.NatGateways > 0
}

// Build declares the network described by c.
func Build(b *stack.Builder, c Config) *Network {
	n := &Network{VpcID: "Vpc", Zones: c.Zones}
	if b.Err() != nil {
		return n
	}

	cidr := c.CIDR
	if cidr == "" {
		cidr = DefaultCIDR
	}
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil || !prefix.Addr().Is4() || prefix.Masked() != prefix {
		b.Fail(stack.Errorf("cidr", "%q is not an IPv4 network address", cidr))
		return n
	}
	n.CIDR = prefix
	if len(c.Zones) == 0 {
		b.Fail(stack.Errorf("zones", "at least one availability zone is required"))
		return n
	}
	if c.NatGateways < 0 || c.NatGateways > len(c.Zones) {
		b.Fail(stack.Errorf("natGateways", "%d must be between 0 and %d", c.NatGateways, len(c.Zones)))
		return n
	}

	subnets, err := allocate(prefix, c.Zones, c.SubnetGroups)
	if err != nil {
		b.Fail(err)
		return n
	}

	b.Add(n.VpcID, &ec2.VPC{
		CidrBlock:          cloudformation.String(prefix.String()),
		EnableDnsHostnames: cloudformation.Bool(c.EnableDNSHostnames),
		EnableDnsSupport:   cloudformation.Bool(c.EnableDNSSupport),
		InstanceTenancy:    cloudformation.String("default"),
		Tags:               stack.Tags("Name", b.Name("vpc")),
	})

	hasPublic := false
	for _, s := range subnets {
		if s.Type == Public {
			hasPublic = true
		}
	}
	if hasPublic {
		b.Add("VpcInternetGateway", &ec2.InternetGateway{
			Tags: stack.Tags("Name", b.Name("igw")),
		})
		n.AttachmentID = b.Add("VpcGatewayAttachment", &ec2.VPCGatewayAttachment{
			VpcId:             cloudformation.Ref(n.VpcID),
			InternetGatewayId: cloudformation.RefPtr("VpcInternetGateway"),
		})
	}

	var nats []string
	for _, s := range subnets {
		n.addSubnet(b, s)
		if s.Type == Public && len(nats) < c.NatGateways {
			nats = append(nats, n.addNatGateway(b, s))
		}
	}
	if c.NatGateways > 0 && len(nats) < c.NatGateways {
		b.Fail(stack.Errorf("natGateways", "%d NAT gateways need as many public subnets", c.NatGateways))
		return n
	}
	n.NatGateways = len(nats)

	i := 0
	for _, s := range n.Subnets {
		if s.Type != Private || len(nats) == 0 {
			continue
		}
		s.RouteID = b.Add(s.ID+"DefaultRoute", &ec2.Route{
			RouteTableId:         cloudformation.Ref(s.ID + "RouteTable"),
			DestinationCidrBlock: cloudformation.String("0.0.0.0/0"),
			NatGatewayId:         cloudformation.RefPtr(nats[i%len(nats)]),
		})
		i++
	}
	return n
}

func (n *Network) addSubnet(b *stack.Builder, s *Subnet) {
	name := fmt.Sprintf("%s-%s", s.Group, s.Zone)
	b.Add(s.ID, &ec2.Subnet{
		VpcId:               cloudformation.Ref(n.VpcID),
		AvailabilityZone:    cloudformation.String(s.Zone),
		CidrBlock:           cloudformation.String(s.CIDR.String()),
		MapPublicIpOnLaunch: cloudformation.Bool(s.Type == Public),
		Tags: stack.Tags(
			"Name", name,
			stack.TagSubnetGroup, s.Group,
			stack.TagSubnetType, string(s.Type),
		),
	})
	table := b.Add(s.ID+"RouteTable", &ec2.RouteTable{
		VpcId: cloudformation.Ref(n.VpcID),
		Tags:  stack.Tags("Name", name),
	})
	b.Add(s.ID+"RouteTableAssociation", &ec2.SubnetRouteTableAssociation{
		RouteTableId: cloudformation.Ref(table),
		SubnetId:     cloudformation.Ref(s.ID),
	})
	if s.Type == Public {
		s.RouteID = b.Add(s.ID+"DefaultRoute", &ec2.Route{
			RouteTableId:         cloudformation.Ref(table),
			DestinationCidrBlock: cloudformation.String("0.0.0.0/0"),
			GatewayId:            cloudformation.RefPtr("VpcInternetGateway"),
		}, stack.DependsOn(n.AttachmentID))
	}
	n.Subnets = append(n.Subnets, s)
}

func (n *Network) addNatGateway(b *stack.Builder, s *Subnet) string {
	name := fmt.Sprintf("%s-%s", s.Group, s.Zone)
	eip := b.Add(s.ID+"Eip", &ec2.EIP{
		Domain: cloudformation.String("vpc"),
		Tags:   stack.Tags("Name", name),
	})
	return b.Add(s.ID+"NatGateway", &ec2.NatGateway{
		SubnetId:     cloudformation.Ref(s.ID),
		AllocationId: cloudformation.GetAttPtr(eip, "AllocationId"),
		Tags:         stack.Tags("Name", name),
	}, stack.DependsOn(s.RouteID))
}
