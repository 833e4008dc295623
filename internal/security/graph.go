// Package security builds the permission graph between tiers: security groups
// and the ingress rules that connect them.
package security

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/ec2"
	"github.com/picklr-io/stackr/internal/stack"
)

// Policy decides how a tier admits traffic from the tier in front of it.
type Policy string

const (
	// Open admits all TCP from any IPv4 address.
	Open Policy = "open"
	// Scoped admits only the upstream tier's security group on the tier port.
	Scoped Policy = "scoped"
)

// ParsePolicy parses s, returning def when s is empty.
func ParsePolicy(s string, def Policy) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case "":
		return def, nil
	case Open:
		return Open, nil
	case Scoped:
		return Scoped, nil
	}
	return "", stack.Errorf("ingressPolicy", "%q must be %q or %q", s, Open, Scoped)
}

// Group is a declared security group.
type Group struct {
	ID   string
	Name string
	// rules counts ingress rules attached so far, for logical ID numbering.
	rules int
}

// GroupID returns the template value of the group's ID.
func (g *Group) GroupID() string {
	return cloudformation.GetAtt(g.ID, "GroupId")
}

// Source is where permitted traffic comes from.
type Source struct {
	cidr  string
	group *Group
}

// AnyIPv4 permits every IPv4 address.
func AnyIPv4() Source {
	return Source{cidr: "0.0.0.0/0"}
}

// CIDR permits an address range.
func CIDR(cidr string) Source {
	return Source{cidr: cidr}
}

// Peer permits members of another security group.
func Peer(g *Group) Source {
	return Source{group: g}
}

func (s Source) String() string {
	if s.group != nil {
		return s.group.Name
	}
	return s.cidr
}

// Port is a protocol and port range.
type Port struct {
	Protocol string
	From     int
	To       int
}

// TCP is a single TCP port.
func TCP(port int) Port {
	return Port{Protocol: "tcp", From: port, To: port}
}

// AllTCP is the full TCP port range.
func AllTCP() Port {
	return Port{Protocol: "tcp", From: 0, To: 65535}
}

func (p Port) String() string {
	if p.From == p.To {
		return fmt.Sprintf("%s %d", p.Protocol, p.From)
	}
	return fmt.Sprintf("%s %d-%d", p.Protocol, p.From, p.To)
}

// Graph declares groups and rules into a Builder. Every rule references its
// groups, so a rule naming a group that does not exist yet fails construction.
type Graph struct {
	b   *stack.Builder
	vpc string
}

// NewGraph returns a graph whose groups belong to vpc.
func NewGraph(b *stack.Builder, vpc string) *Graph {
	return &Graph{b: b, vpc: vpc}
}

// Group declares a security group that allows all outbound traffic.
func (g *Graph) Group(id, name, description string) *Group {
	g.b.Add(id, &ec2.SecurityGroup{
		GroupName:        cloudformation.String(name),
		GroupDescription: description,
		VpcId:            cloudformation.String(g.vpc),
		SecurityGroupEgress: []ec2.SecurityGroup_Egress{{
			CidrIp:      cloudformation.String("0.0.0.0/0"),
			IpProtocol:  "-1",
			Description: cloudformation.String("Allow all outbound traffic by default"),
		}},
		Tags: stack.Tags("Name", name),
	})
	return &Group{ID: id, Name: name}
}

// Ingress attaches one rule to group and returns the rule's logical ID.
func (g *Graph) Ingress(group *Group, src Source, port Port, description string) string {
	if group == nil {
		g.b.Fail(stack.Errorf("ingress", "rule %q has no owning security group", description))
		return ""
	}
	if port.From < 0 || port.To > 65535 || port.From > port.To {
		g.b.Fail(stack.Errorf(group.ID, "invalid port range %s", port))
		return ""
	}

	rule := &ec2.SecurityGroupIngress{
		GroupId:     cloudformation.String(group.GroupID()),
		IpProtocol:  port.Protocol,
		FromPort:    cloudformation.Int(port.From),
		ToPort:      cloudformation.Int(port.To),
		Description: cloudformation.String(description),
	}
	switch {
	case src.group != nil:
		rule.SourceSecurityGroupId = cloudformation.String(src.group.GroupID())
	case src.cidr != "":
		prefix, err := netip.ParsePrefix(src.cidr)
		if err != nil || !prefix.Addr().Is4() {
			g.b.Fail(stack.Errorf(group.ID, "ingress source %q is not an IPv4 CIDR", src.cidr))
			return ""
		}
		rule.CidrIp = cloudformation.String(prefix.String())
	default:
		g.b.Fail(stack.Errorf(group.ID, "ingress rule %q has no source", description))
		return ""
	}

	group.rules++
	return g.b.Add(fmt.Sprintf("%sIngress%d", group.ID, group.rules), rule)
}

// AllowTier admits traffic into group according to policy. Open ignores
// upstream; Scoped requires it and admits it on port only.
func (g *Graph) AllowTier(group *Group, policy Policy, upstream *Group, port int) string {
	switch policy {
	case Open:
		return g.Ingress(group, AnyIPv4(), AllTCP(), "Allow all TCP")
	case Scoped:
		if upstream == nil {
			name := "<nil>"
			if group != nil {
				name = group.ID
			}
			g.b.Fail(stack.Errorf(name, "scoped ingress needs an upstream security group"))
			return ""
		}
		return g.Ingress(group, Peer(upstream), TCP(port), fmt.Sprintf("Allow %s from %s", TCP(port), upstream.Name))
	}
	g.b.Fail(stack.Errorf("ingressPolicy", "unknown policy %q", policy))
	return ""
}
