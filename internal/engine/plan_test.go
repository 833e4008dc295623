package engine

import (
	"testing"

	"github.com/picklr-io/stackr/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vpcTemplate(cidr string, groups ...string) *ir.Template {
	t := &ir.Template{
		Resources: []*ir.Resource{
			res("Vpc", "AWS::EC2::VPC", map[string]any{"CidrBlock": cidr, "EnableDnsSupport": true}),
		},
		Outputs: map[string]*ir.Output{
			"vpcId": {Value: ref("Vpc"), ExportName: "vpcId-dev", Endpoint: true},
		},
	}
	for _, g := range groups {
		t.Resources = append(t.Resources, res(g, "AWS::EC2::SecurityGroup", map[string]any{
			"VpcId":            ref("Vpc"),
			"GroupDescription": g,
		}))
	}
	return t
}

func TestDiff_InitialDeploy(t *testing.T) {
	plan, err := Diff("stack-dev", nil, vpcTemplate("10.0.0.0/16", "Web"))
	require.NoError(t, err)

	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "Vpc", plan.Changes[0].Address)
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)
	assert.Equal(t, "Web", plan.Changes[1].Address)
	assert.Equal(t, 2, plan.Summary.Create)
	assert.Empty(t, plan.Metadata.PriorHash)
	assert.Len(t, plan.Metadata.DesiredHash, 64)
	require.Len(t, plan.Outputs, 1)
	assert.Equal(t, ir.ActionCreate, plan.Outputs[0].Action)
	assert.True(t, plan.HasChanges())
}

func TestDiff_NoChangesAfterRoundTrip(t *testing.T) {
	desired := vpcTemplate("10.0.0.0/16", "Web")
	body, err := ir.RenderJSON(desired)
	require.NoError(t, err)
	prior, err := ir.ParseTemplate(body)
	require.NoError(t, err)

	plan, err := Diff("stack-dev", prior, desired)
	require.NoError(t, err)
	assert.False(t, plan.HasChanges())
	assert.Equal(t, 2, plan.Summary.NoOp)
	assert.Equal(t, plan.Metadata.PriorHash, plan.Metadata.DesiredHash)
}

func TestDiff_UpdateReplaceDelete(t *testing.T) {
	prior := vpcTemplate("10.0.0.0/16", "Web", "Old")
	desired := vpcTemplate("10.1.0.0/16", "Web")
	desired.Resources[0].Properties["EnableDnsSupport"] = false
	desired.Resources[1].Properties["Tags"] = []any{map[string]any{"Key": "Name", "Value": "web"}}

	plan, err := Diff("stack-dev", prior, desired)
	require.NoError(t, err)

	actions := map[string]string{}
	for _, c := range plan.Changes {
		actions[c.Address] = c.Action
	}
	assert.Equal(t, map[string]string{
		"Vpc": ir.ActionReplace,
		"Web": ir.ActionUpdate,
		"Old": ir.ActionDelete,
	}, actions)

	vpc := plan.Changes[0]
	assert.True(t, vpc.Diff["CidrBlock"].ForcesReplacement)
	assert.False(t, vpc.Diff["EnableDnsSupport"].ForcesReplacement)
	assert.Equal(t, "update", vpc.Diff["CidrBlock"].Action)

	assert.Equal(t, ir.ActionDelete, plan.Changes[len(plan.Changes)-1].Action)
	assert.Equal(t, 1, plan.Summary.Replace)
	assert.Equal(t, 1, plan.Summary.Update)
	assert.Equal(t, 1, plan.Summary.Delete)
	assert.Empty(t, plan.Outputs)
}

func TestDiff_Outputs(t *testing.T) {
	prior := vpcTemplate("10.0.0.0/16")
	prior.Outputs["legacy"] = &ir.Output{Value: "x"}
	desired := vpcTemplate("10.0.0.0/16")
	desired.Outputs["vpcId"].ExportName = "vpcId-prod"

	plan, err := Diff("stack-dev", prior, desired)
	require.NoError(t, err)
	assert.Equal(t, []*ir.OutputChange{
		{Name: "legacy", Action: ir.ActionDelete},
		{Name: "vpcId", Action: ir.ActionUpdate},
	}, plan.Outputs)
}

func TestDiff_InvalidDesired(t *testing.T) {
	desired := &ir.Template{Resources: []*ir.Resource{res("A", "AWS::SNS::Topic", nil, "Missing")}}
	_, err := Diff("stack-dev", nil, desired)
	assert.ErrorIs(t, err, ErrUnresolvedRef)
}
