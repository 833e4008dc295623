// Package compute declares the workloads of a stack: EC2 web servers, Fargate
// services and Lambda functions, together with their roles and log groups.
package compute

import (
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/stack"
)

// Placement is where a compute tier runs.
type Placement struct {
	SubnetType     network.SubnetType
	AssignPublicIP bool
}

// Place picks the subnets for a compute tier. Private subnets are preferred.
// When the network has no NAT gateway and the tier needs outbound access, it
// lands in public subnets with a public IP, and only if allowPublic opts into it.
func Place(n *network.Network, needsEgress, allowPublic bool) (Placement, error) {
	private := len(n.SubnetsOf(network.Private)) > 0
	if private && (!needsEgress || n.HasEgress(network.Private)) {
		return Placement{SubnetType: network.Private}, nil
	}
	if len(n.SubnetsOf(network.Public)) == 0 {
		return Placement{}, stack.Errorf("placement", "network has no subnet that can reach the internet")
	}
	if !allowPublic {
		return Placement{}, stack.Errorf("placement",
			"no NAT gateway provides egress for private subnets; public placement must be requested explicitly")
	}
	return Placement{SubnetType: network.Public, AssignPublicIP: true}, nil
}
