package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/logging"
)

// replacementProperties lists, per resource type, the properties whose change
// makes CloudFormation replace the resource instead of updating it in place.
var replacementProperties = map[string]map[string]bool{
	"AWS::EC2::VPC":                             set("CidrBlock", "InstanceTenancy"),
	"AWS::EC2::Subnet":                          set("AvailabilityZone", "CidrBlock", "VpcId"),
	"AWS::EC2::RouteTable":                      set("VpcId"),
	"AWS::EC2::Route":                           set("DestinationCidrBlock", "RouteTableId"),
	"AWS::EC2::NatGateway":                      set("AllocationId", "SubnetId"),
	"AWS::EC2::EIP":                             set("Domain"),
	"AWS::EC2::SecurityGroup":                   set("GroupDescription", "GroupName", "VpcId"),
	"AWS::EC2::SecurityGroupIngress":            set("CidrIp", "FromPort", "GroupId", "IpProtocol", "SourceSecurityGroupId", "ToPort"),
	"AWS::EC2::Instance":                        set("AvailabilityZone", "ImageId", "SubnetId"),
	"AWS::ElasticLoadBalancingV2::LoadBalancer": set("Name", "Scheme", "Type"),
	"AWS::ElasticLoadBalancingV2::TargetGroup":  set("Name", "Port", "Protocol", "TargetType", "VpcId"),
	"AWS::ElasticLoadBalancingV2::Listener":     set("LoadBalancerArn"),
	"AWS::ECS::Cluster":                         set("ClusterName"),
	"AWS::ECS::TaskDefinition":                  set("ContainerDefinitions", "Cpu", "Family", "Memory", "NetworkMode", "ExecutionRoleArn", "TaskRoleArn"),
	"AWS::ECS::Service":                         set("Cluster", "LaunchType", "ServiceName"),
	"AWS::Logs::LogGroup":                       set("LogGroupName"),
	"AWS::IAM::Role":                            set("RoleName", "Path"),
	"AWS::Lambda::Function":                     set("FunctionName"),
	"AWS::ApiGatewayV2::Api":                    set("ProtocolType"),
	"AWS::ApiGatewayV2::Stage":                  set("ApiId", "StageName"),
	"AWS::ApiGatewayV2::Route":                  set("ApiId"),
	"AWS::ApiGatewayV2::Integration":            set("ApiId"),
	"AWS::ApiGatewayV2::VpcLink":                set("SecurityGroupIds", "SubnetIds"),
}

func set(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// Diff computes the change set that turns prior into desired. A nil prior
// means nothing is deployed yet. Creates, updates and replacements follow the
// creation order of desired; deletions follow the destruction order of prior.
func Diff(stackName string, prior, desired *ir.Template) (*ir.Plan, error) {
	desiredDAG, err := BuildDAG(desired)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}
	if prior == nil {
		prior = &ir.Template{}
	}
	priorDAG, err := BuildDAG(prior)
	if err != nil {
		return nil, fmt.Errorf("failed to build prior dependency graph: %w", err)
	}

	desiredHash, err := Hash(desired)
	if err != nil {
		return nil, err
	}
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{StackName: stackName, DesiredHash: desiredHash},
		Changes:  []*ir.ResourceChange{},
		Summary:  &ir.PlanSummary{},
	}
	if len(prior.Resources) > 0 {
		if plan.Metadata.PriorHash, err = Hash(prior); err != nil {
			return nil, err
		}
	}
	logging.Debug("diffing templates", "stack", stackName, "prior", len(prior.Resources), "desired", len(desired.Resources))

	for _, id := range desiredDAG.CreationOrder() {
		res := desired.Resource(id)
		old := prior.Resource(id)

		if old == nil {
			plan.Changes = append(plan.Changes, &ir.ResourceChange{
				Address: id,
				Type:    res.Type,
				Action:  ir.ActionCreate,
				Desired: res,
				Diff:    buildCreateDiff(res.Properties),
			})
			plan.Summary.Create++
			continue
		}

		if old.Type != res.Type {
			plan.Changes = append(plan.Changes, &ir.ResourceChange{
				Address: id,
				Type:    res.Type,
				Action:  ir.ActionReplace,
				Desired: res,
				Prior:   old,
				Diff:    buildPropertyDiff(res.Type, old.Properties, res.Properties),
			})
			plan.Summary.Replace++
			continue
		}

		diff := buildPropertyDiff(res.Type, old.Properties, res.Properties)
		attrsChanged := !equalJSON(sortedDeps(old), sortedDeps(res)) ||
			old.DeletionPolicy != res.DeletionPolicy ||
			old.UpdateReplacePolicy != res.UpdateReplacePolicy
		if len(diff) == 0 && !attrsChanged {
			plan.Summary.NoOp++
			continue
		}

		action := ir.ActionUpdate
		for _, d := range diff {
			if d.ForcesReplacement {
				action = ir.ActionReplace
			}
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: id,
			Type:    res.Type,
			Action:  action,
			Desired: res,
			Prior:   old,
			Diff:    diff,
		})
		if action == ir.ActionReplace {
			plan.Summary.Replace++
		} else {
			plan.Summary.Update++
		}
	}

	for _, id := range priorDAG.DestructionOrder() {
		if desired.Resource(id) != nil {
			continue
		}
		old := prior.Resource(id)
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: id,
			Type:    old.Type,
			Action:  ir.ActionDelete,
			Prior:   old,
			Diff:    buildDeleteDiff(old.Properties),
		})
		plan.Summary.Delete++
	}

	plan.Outputs = diffOutputs(prior.Outputs, desired.Outputs)
	return plan, nil
}

// Hash returns the sha256 of the rendered JSON form of t.
func Hash(t *ir.Template) (string, error) {
	data, err := ir.RenderJSON(t)
	if err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func diffOutputs(prior, desired map[string]*ir.Output) []*ir.OutputChange {
	var changes []*ir.OutputChange
	for name, out := range desired {
		old, ok := prior[name]
		switch {
		case !ok:
			changes = append(changes, &ir.OutputChange{Name: name, Action: ir.ActionCreate})
		case !equalJSON(old.Value, out.Value) || old.ExportName != out.ExportName:
			changes = append(changes, &ir.OutputChange{Name: name, Action: ir.ActionUpdate})
		}
	}
	for name := range prior {
		if _, ok := desired[name]; !ok {
			changes = append(changes, &ir.OutputChange{Name: name, Action: ir.ActionDelete})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes
}

// buildPropertyDiff compares prior and desired properties and returns a diff map.
func buildPropertyDiff(typ string, prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	replaces := replacementProperties[typ]

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{
				After:             desiredVal,
				Action:            "create",
				ForcesReplacement: replaces[k],
			}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{
				Before:            priorVal,
				Action:            "delete",
				ForcesReplacement: replaces[k],
			}
		case !equalJSON(priorVal, desiredVal):
			diff[k] = &ir.PropertyDiff{
				Before:            priorVal,
				After:             desiredVal,
				Action:            "update",
				ForcesReplacement: replaces[k],
			}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}

func sortedDeps(r *ir.Resource) []string {
	deps := append([]string(nil), r.DependsOn...)
	sort.Strings(deps)
	return deps
}

// equalJSON compares two values by their JSON form, so a template built in
// memory (ints, []string) equals the same template parsed back (float64, []any).
func equalJSON(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		if len(val) == 0 {
			return nil
		}
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return val
		}
		if s, ok := out.([]any); ok {
			return normalizeValue(s)
		}
		return out
	}
}
