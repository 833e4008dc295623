// Package topology holds the stack builders, one per supported topology, and
// the registry the CLI resolves them from.
package topology

import (
	"fmt"
	"sort"
	"sync"

	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/stack"
)

// BuildFunc turns construction parameters into a complete template.
type BuildFunc func(stack.Props) (*ir.Template, error)

// Topology is a registered stack builder.
type Topology struct {
	Name        string
	Description string
	// StackPrefix names the deployed stack: <StackPrefix>-<scope>.
	StackPrefix string
	// Endpoint is the name of the output every build marks as the endpoint.
	Endpoint string
	// NeedsImage is set for topologies that run a container image from ECR.
	NeedsImage bool
	Build      BuildFunc
}

// StackName returns the CloudFormation stack name for p.
func (t *Topology) StackName(p stack.Props) string {
	if p.StackName != "" {
		return p.StackName
	}
	return p.Name(t.StackPrefix)
}

// Registry maps topology names to builders.
type Registry struct {
	mu         sync.RWMutex
	topologies map[string]*Topology
}

func NewRegistry() *Registry {
	return &Registry{
		topologies: make(map[string]*Topology),
	}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t *Topology) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.Name == "" || t.Build == nil {
		return fmt.Errorf("topology must have a name and a builder")
	}
	if _, exists := r.topologies[t.Name]; exists {
		return fmt.Errorf("topology already registered: %s", t.Name)
	}
	r.topologies[t.Name] = t
	return nil
}

// Get returns a registered topology.
func (r *Registry) Get(name string) (*Topology, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.topologies[name]
	if !ok {
		return nil, fmt.Errorf("unknown topology: %s (available: %v)", name, r.namesLocked())
	}
	return t, nil
}

// List returns every topology sorted by name.
func (r *Registry) List() []*Topology {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Topology, 0, len(r.topologies))
	for _, name := range r.namesLocked() {
		out = append(out, r.topologies[name])
	}
	return out
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.topologies))
	for name := range r.topologies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a registry holding every built-in topology.
func Default() *Registry {
	r := NewRegistry()
	for _, t := range builtins() {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

func builtins() []*Topology {
	return []*Topology{
		{
			Name:        "alb-ec2",
			Description: "Application load balancer in front of two EC2 web servers",
			StackPrefix: "albWithEc2Instance",
			Endpoint:    albDNSOutput,
			Build:       ALBWithEC2,
		},
		{
			Name:        "http-api-alb",
			Description: "HTTP API through a VPC link to an internal ALB and two EC2 web servers",
			StackPrefix: "httpApiGatewayWithAlb",
			Endpoint:    httpAPIALBOutput,
			Build:       HTTPAPIWithALB,
		},
		{
			Name:        "http-api-lambda",
			Description: "HTTP API with a Lambda proxy integration",
			StackPrefix: "apiGatewayRestApiAwsInt",
			Endpoint:    httpAPILambdaOutput,
			Build:       HTTPAPIWithLambda,
		},
		{
			Name:        "websocket-lambda",
			Description: "WebSocket API whose connect, disconnect and default routes share one Lambda",
			StackPrefix: "webSocketApi",
			Endpoint:    webSocketOutput,
			Build:       WebSocketWithLambda,
		},
		{
			Name:        "ecs-fargate",
			Description: "Fargate service running an ECR image in a single public subnet",
			StackPrefix: "ecsWithFargate",
			Endpoint:    ecsFargateOutput,
			NeedsImage:  true,
			Build:       ECSWithFargate,
		},
		{
			Name:        "vpc-fargate",
			Description: "VPC with a Fargate service running the latest image of an ECR repository",
			StackPrefix: "deploy-ecr",
			Endpoint:    vpcFargateOutput,
			NeedsImage:  true,
			Build:       VPCWithFargate,
		},
		{
			Name:        "nlb-alb",
			Description: "Network load balancer forwarding to an internal ALB and an EC2 web server",
			StackPrefix: "nlbWithAlb",
			Endpoint:    nlbDNSOutput,
			Build:       NLBWithALB,
		},
	}
}
