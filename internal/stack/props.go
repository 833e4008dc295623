package stack

import (
	"fmt"
	"regexp"
)

var (
	scopePattern  = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?$`)
	regionPattern = regexp.MustCompile(`^[a-z]{2}(-gov|-iso[a-z]*)?-[a-z]+-[0-9]+$`)
)

// Props are the construction parameters shared by every topology.
// Scope is embedded in every resource name so parallel deployments do not collide.
type Props struct {
	Scope     string `json:"scope"`
	Account   string `json:"account,omitempty"`
	Region    string `json:"region"`
	StackName string `json:"stackName,omitempty"`

	// EcrArn and ImageTag select the container image for Fargate topologies.
	EcrArn   string `json:"ecrArn,omitempty"`
	ImageTag string `json:"imageTag,omitempty"`

	// IngressPolicy is "open" or "scoped"; empty selects the topology default.
	IngressPolicy  string `json:"ingressPolicy,omitempty"`
	ExportEndpoint bool   `json:"exportEndpoint,omitempty"`
}

// Validate checks the parameters every topology requires.
func (p Props) Validate() error {
	if p.Scope == "" {
		return Errorf("scope", "is required")
	}
	if !scopePattern.MatchString(p.Scope) {
		return Errorf("scope", "%q must contain only letters, digits and inner hyphens", p.Scope)
	}
	if p.Region == "" {
		return Errorf("region", "is required to resolve availability zones")
	}
	if !regionPattern.MatchString(p.Region) {
		return Errorf("region", "%q is not a region name", p.Region)
	}
	return nil
}

// AvailabilityZones returns the first n zone names of the region (<region>a, <region>b, ...).
func (p Props) AvailabilityZones(n int) []string {
	zones := make([]string, 0, n)
	for i := 0; i < n && i < 26; i++ {
		zones = append(zones, fmt.Sprintf("%s%c", p.Region, 'a'+i))
	}
	return zones
}

// Name embeds the scope into a resource name: Name("alb") == "alb-<scope>".
func (p Props) Name(prefix string) string {
	return prefix + "-" + p.Scope
}
