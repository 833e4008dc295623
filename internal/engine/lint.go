package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/stackr/internal/ir"
)

// Lint rule names.
const (
	RuleAlbTargetDependency = "alb-target-listener-dependency"
	RuleHealthThreshold     = "health-check-threshold"
	RuleIngressOwner        = "ingress-owner"
	RuleConstructionOrder   = "construction-order"
	RuleNameLength          = "name-length"
)

// LintError is one construction defect found in a template.
type LintError struct {
	Rule     string
	Resource string
	Message  string
}

func (e *LintError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Rule, e.Resource, e.Message)
}

// Lint checks structural rules the provisioning engine cannot infer or would
// only report at deploy time. Findings are sorted by resource and rule.
func Lint(t *ir.Template) []*LintError {
	var findings []*LintError
	for _, res := range t.Resources {
		switch res.Type {
		case "AWS::ElasticLoadBalancingV2::TargetGroup":
			findings = append(findings, lintTargetGroup(t, res)...)
		case "AWS::EC2::SecurityGroupIngress":
			findings = append(findings, lintIngress(t, res)...)
		case "AWS::ElasticLoadBalancingV2::LoadBalancer":
			findings = append(findings, lintName(res)...)
		}
	}
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Resource != findings[j].Resource {
			return findings[i].Resource < findings[j].Resource
		}
		return findings[i].Rule < findings[j].Rule
	})
	return findings
}

// lintTargetGroup requires a target group whose target is an ALB to depend on
// a listener of that ALB. Without the edge the target group can be deleted
// after the listener, which fails the teardown.
func lintTargetGroup(t *ir.Template, res *ir.Resource) []*LintError {
	var findings []*LintError
	findings = append(findings, lintName(res)...)

	if n, ok := asInt(res.Property("HealthyThresholdCount")); ok && (n < 2 || n > 10) {
		findings = append(findings, &LintError{
			Rule:     RuleHealthThreshold,
			Resource: res.LogicalID,
			Message:  fmt.Sprintf("healthy threshold %d must be between 2 and 10", n),
		})
	}

	if res.Property("TargetType") != "alb" {
		return findings
	}
	targets, _ := res.Property("Targets").([]any)
	for _, target := range targets {
		m, _ := target.(map[string]any)
		albID := refTarget(m["Id"])
		if albID == "" {
			continue
		}
		listeners := listenersOf(t, albID)
		satisfied := false
		for _, l := range listeners {
			if res.HasDependency(l) {
				satisfied = true
			}
		}
		if !satisfied {
			findings = append(findings, &LintError{
				Rule:     RuleAlbTargetDependency,
				Resource: res.LogicalID,
				Message:  fmt.Sprintf("targets load balancer %s but does not depend on any of its listeners %v", albID, listeners),
			})
		}
	}
	return findings
}

// lintIngress requires every ingress rule to name an owning security group
// and at most one source.
func lintIngress(t *ir.Template, res *ir.Resource) []*LintError {
	owner := refTarget(res.Property("GroupId"))
	if owner == "" || t.Resource(owner) == nil || t.Resource(owner).Type != "AWS::EC2::SecurityGroup" {
		return []*LintError{{
			Rule:     RuleIngressOwner,
			Resource: res.LogicalID,
			Message:  "ingress rule must belong to exactly one security group declared in the template",
		}}
	}
	sources := 0
	for _, key := range []string{"CidrIp", "CidrIpv6", "SourceSecurityGroupId", "SourcePrefixListId"} {
		if res.Property(key) != nil {
			sources++
		}
	}
	if sources != 1 {
		return []*LintError{{
			Rule:     RuleIngressOwner,
			Resource: res.LogicalID,
			Message:  fmt.Sprintf("ingress rule must have exactly one source, found %d", sources),
		}}
	}
	return nil
}

func lintName(res *ir.Resource) []*LintError {
	name, _ := res.Property("Name").(string)
	if len(name) > 32 {
		return []*LintError{{
			Rule:     RuleNameLength,
			Resource: res.LogicalID,
			Message:  fmt.Sprintf("name %q exceeds 32 characters", name),
		}}
	}
	return nil
}

// CheckOrder verifies that every resource only references resources declared
// before it. It applies to templates in construction order, not to parsed ones.
func CheckOrder(t *ir.Template) []*LintError {
	var findings []*LintError
	for i, res := range t.Resources {
		refs := append(ir.References(res.Properties), res.DependsOn...)
		for _, ref := range refs {
			if j := t.Index(ref); j >= i {
				findings = append(findings, &LintError{
					Rule:     RuleConstructionOrder,
					Resource: res.LogicalID,
					Message:  fmt.Sprintf("references %s which is declared later", ref),
				})
			}
		}
	}
	return findings
}

// Validate builds the dependency graph and lints t, returning every problem
// as one error. A nil error means the template can be handed to CloudFormation.
func Validate(t *ir.Template) error {
	if _, err := BuildDAG(t); err != nil {
		return err
	}
	findings := Lint(t)
	if len(findings) == 0 {
		return nil
	}
	errs := make([]error, 0, len(findings))
	for _, f := range findings {
		errs = append(errs, f)
	}
	return fmt.Errorf("template has %d defect(s): %w", len(findings), errors.Join(errs...))
}

func listenersOf(t *ir.Template, lbID string) []string {
	var ids []string
	for _, l := range t.ResourcesOfType("AWS::ElasticLoadBalancingV2::Listener") {
		if refTarget(l.Property("LoadBalancerArn")) == lbID {
			ids = append(ids, l.LogicalID)
		}
	}
	return ids
}

// refTarget returns the logical ID named by a Ref or Fn::GetAtt value.
func refTarget(v any) string {
	refs := ir.References(v)
	if len(refs) != 1 {
		return ""
	}
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		if _, ok := m["Ref"]; ok {
			return refs[0]
		}
		if _, ok := m["Fn::GetAtt"]; ok {
			return refs[0]
		}
	}
	return ""
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case string:
		var i int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}
