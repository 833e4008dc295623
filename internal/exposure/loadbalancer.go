// Package exposure declares how traffic reaches a stack: load balancers with
// their listeners and target groups, API Gateway HTTP and WebSocket APIs, and
// the endpoint output every stack exports.
package exposure

import (
	"strconv"

	"github.com/awslabs/goformation/v7/cloudformation"
	elbv2 "github.com/awslabs/goformation/v7/cloudformation/elasticloadbalancingv2"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
)

// MaxNameLength bounds load balancer and target group names.
const MaxNameLength = 32

// HealthCheck is the target group health check policy.
type HealthCheck struct {
	Enabled          bool
	HealthyThreshold int
}

// DefaultHealthCheck marks a target healthy after two consecutive successes.
func DefaultHealthCheck() HealthCheck {
	return HealthCheck{Enabled: true, HealthyThreshold: 2}
}

func (h HealthCheck) validate(field string) error {
	if h.HealthyThreshold < 2 || h.HealthyThreshold > 10 {
		return stack.Errorf(field, "healthy threshold %d must be between 2 and 10", h.HealthyThreshold)
	}
	return nil
}

func (h HealthCheck) apply(tg *elbv2.TargetGroup) {
	tg.HealthCheckEnabled = cloudformation.Bool(h.Enabled)
	tg.HealthyThresholdCount = cloudformation.Int(h.HealthyThreshold)
}

func checkName(field, name string) error {
	if name == "" {
		return stack.Errorf(field, "name is required")
	}
	if len(name) > MaxNameLength {
		return stack.Errorf(field, "%q exceeds %d characters", name, MaxNameLength)
	}
	return nil
}

// ALBSpec describes an application load balancer forwarding one HTTP listener
// to a target group of EC2 instances.
type ALBSpec struct {
	// Prefix is prepended to every logical ID.
	Prefix          string
	Name            string
	Internal        bool
	SecurityGroup   *security.Group
	Subnets         network.SubnetType
	Port            int
	TargetGroupName string
	Instances       []string
	HealthCheck     HealthCheck
}

// ALB holds the logical IDs of a declared application load balancer.
type ALB struct {
	ID            string
	ListenerID    string
	TargetGroupID string
	Port          int
}

// DNSName returns the load balancer's DNS name as a template value.
func (a *ALB) DNSName() string {
	return cloudformation.GetAtt(a.ID, "DNSName")
}

// ListenerArn returns the listener ARN as a template value.
func (a *ALB) ListenerArn() string {
	return cloudformation.Ref(a.ListenerID)
}

// AddALB declares the target group, load balancer and listener in that order.
func AddALB(b *stack.Builder, n *network.Network, spec ALBSpec) *ALB {
	a := &ALB{
		ID:            spec.Prefix + "LoadBalancer",
		ListenerID:    spec.Prefix + "Listener",
		TargetGroupID: spec.Prefix + "TargetGroup",
		Port:          spec.Port,
	}
	for _, err := range []error{
		checkName("loadBalancerName", spec.Name),
		checkName("targetGroupName", spec.TargetGroupName),
		spec.HealthCheck.validate(a.TargetGroupID),
	} {
		if err != nil {
			b.Fail(err)
			return a
		}
	}
	if spec.SecurityGroup == nil {
		b.Fail(stack.Errorf(a.ID, "application load balancer needs a security group"))
		return a
	}
	if len(spec.Instances) == 0 {
		b.Fail(stack.Errorf(a.TargetGroupID, "target group has no targets"))
		return a
	}
	subnets := n.SubnetRefs(spec.Subnets)
	if len(subnets) < 2 {
		b.Fail(stack.Errorf(a.ID, "application load balancer needs %s subnets in at least two zones", spec.Subnets))
		return a
	}

	targets := make([]elbv2.TargetGroup_TargetDescription, 0, len(spec.Instances))
	for _, id := range spec.Instances {
		targets = append(targets, elbv2.TargetGroup_TargetDescription{Id: cloudformation.Ref(id), Port: cloudformation.Int(spec.Port)})
	}
	tg := &elbv2.TargetGroup{
		Name:       cloudformation.String(spec.TargetGroupName),
		Port:       cloudformation.Int(spec.Port),
		Protocol:   cloudformation.String("HTTP"),
		TargetType: cloudformation.String("instance"),
		VpcId:      cloudformation.String(n.Vpc()),
		Targets:    targets,
	}
	spec.HealthCheck.apply(tg)
	b.Add(a.TargetGroupID, tg)

	b.Add(a.ID, &elbv2.LoadBalancer{
		Name:           cloudformation.String(spec.Name),
		Type:           cloudformation.String("application"),
		Scheme:         cloudformation.String(scheme(spec.Internal)),
		SecurityGroups: []string{spec.SecurityGroup.GroupID()},
		Subnets:        subnets,
		LoadBalancerAttributes: []elbv2.LoadBalancer_LoadBalancerAttribute{
			attribute("deletion_protection.enabled", "false"),
		},
	}, publicRouteDeps(n, spec.Subnets)...)

	b.Add(a.ListenerID, forward(a.ID, a.TargetGroupID, spec.Port, "HTTP"))
	return a
}

// NLBSpec describes an internet-facing network load balancer whose single TCP
// listener forwards to an application load balancer.
type NLBSpec struct {
	Prefix          string
	Name            string
	Subnets         network.SubnetType
	CrossZone       bool
	Port            int
	TargetGroupName string
	Target          *ALB
	HealthCheck     HealthCheck
}

// NLB holds the logical IDs of a declared network load balancer.
type NLB struct {
	ID            string
	ListenerID    string
	TargetGroupID string
}

// DNSName returns the load balancer's DNS name as a template value.
func (l *NLB) DNSName() string {
	return cloudformation.GetAtt(l.ID, "DNSName")
}

// AddNLB declares the ALB-type target group, the load balancer and its listener.
// The target group depends on the ALB's listener, so it is created after it
// and deleted before it.
func AddNLB(b *stack.Builder, n *network.Network, spec NLBSpec) *NLB {
	l := &NLB{
		ID:            spec.Prefix + "LoadBalancer",
		ListenerID:    spec.Prefix + "Listener",
		TargetGroupID: spec.Prefix + "TargetGroup",
	}
	for _, err := range []error{
		checkName("loadBalancerName", spec.Name),
		checkName("targetGroupName", spec.TargetGroupName),
		spec.HealthCheck.validate(l.TargetGroupID),
	} {
		if err != nil {
			b.Fail(err)
			return l
		}
	}
	if spec.Target == nil {
		b.Fail(stack.Errorf(l.TargetGroupID, "network load balancer needs an application load balancer target"))
		return l
	}
	if spec.Target.Port != spec.Port {
		b.Fail(stack.Errorf(l.TargetGroupID, "target port %d has no listener on the application load balancer (listening on %d)",
			spec.Port, spec.Target.Port))
		return l
	}
	subnets := n.SubnetRefs(spec.Subnets)
	if len(subnets) == 0 {
		b.Fail(stack.Errorf(l.ID, "no %s subnets for the network load balancer", spec.Subnets))
		return l
	}

	tg := &elbv2.TargetGroup{
		Name:       cloudformation.String(spec.TargetGroupName),
		Port:       cloudformation.Int(spec.Port),
		Protocol:   cloudformation.String("TCP"),
		TargetType: cloudformation.String("alb"),
		VpcId:      cloudformation.String(n.Vpc()),
		Targets: []elbv2.TargetGroup_TargetDescription{{
			Id:   cloudformation.Ref(spec.Target.ID),
			Port: cloudformation.Int(spec.Port),
		}},
	}
	spec.HealthCheck.apply(tg)
	b.Add(l.TargetGroupID, tg, stack.DependsOn(spec.Target.ListenerID))

	b.Add(l.ID, &elbv2.LoadBalancer{
		Name:    cloudformation.String(spec.Name),
		Type:    cloudformation.String("network"),
		Scheme:  cloudformation.String("internet-facing"),
		Subnets: subnets,
		LoadBalancerAttributes: []elbv2.LoadBalancer_LoadBalancerAttribute{
			attribute("deletion_protection.enabled", "false"),
			attribute("load_balancing.cross_zone.enabled", strconv.FormatBool(spec.CrossZone)),
		},
	}, publicRouteDeps(n, spec.Subnets)...)

	b.Add(l.ListenerID, forward(l.ID, l.TargetGroupID, spec.Port, "TCP"))
	return l
}

// forward is a listener sending everything on port to one target group.
func forward(lb, targetGroup string, port int, protocol string) *elbv2.Listener {
	return &elbv2.Listener{
		LoadBalancerArn: cloudformation.Ref(lb),
		Port:            cloudformation.Int(port),
		Protocol:        cloudformation.String(protocol),
		DefaultActions: []elbv2.Listener_Action{{
			Type:           "forward",
			TargetGroupArn: cloudformation.RefPtr(targetGroup),
		}},
	}
}

func attribute(key, value string) elbv2.LoadBalancer_LoadBalancerAttribute {
	return elbv2.LoadBalancer_LoadBalancerAttribute{Key: cloudformation.String(key), Value: cloudformation.String(value)}
}

func scheme(internal bool) string {
	if internal {
		return "internal"
	}
	return "internet-facing"
}

// publicRouteDeps makes an internet-facing load balancer wait for the routes
// to the internet gateway of its subnets.
func publicRouteDeps(n *network.Network, t network.SubnetType) []stack.Option {
	if t != network.Public {
		return nil
	}
	var deps []string
	for _, s := range n.SubnetsOf(t) {
		if s.RouteID != "" {
			deps = append(deps, s.RouteID)
		}
	}
	if len(deps) == 0 {
		return nil
	}
	return []stack.Option{stack.DependsOn(deps...)}
}
