package ir

import (
	"testing"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/ec2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTemplate() *Template {
	return &Template{
		Description: "sample",
		Parameters: map[string]*Parameter{
			"LatestAmiId": {Type: "AWS::SSM::Parameter::Value<AWS::EC2::Image::Id>", Default: "/aws/service/ami"},
		},
		Resources: []*Resource{
			{LogicalID: "Vpc", Type: "AWS::EC2::VPC", Properties: map[string]any{"CidrBlock": "10.0.0.0/16"}},
			{
				LogicalID: "SecurityGroup",
				Type:      "AWS::EC2::SecurityGroup",
				Properties: map[string]any{
					"VpcId":            map[string]any{"Ref": "Vpc"},
					"GroupDescription": "test",
				},
				DependsOn:      []string{"Vpc"},
				DeletionPolicy: PolicyDelete,
			},
		},
		Outputs: map[string]*Output{
			"GroupId": {Value: map[string]any{"Fn::GetAtt": []any{"SecurityGroup", "GroupId"}}, ExportName: "groupId-dev", Endpoint: true},
		},
	}
}

func TestReferences(t *testing.T) {
	props, err := Resolve(map[string]any{
		"VpcId":  cloudformation.Ref("Vpc"),
		"Region": cloudformation.Ref("AWS::Region"),
		"Groups": []string{cloudformation.GetAtt("Sg", "GroupId"), cloudformation.GetAtt("Sg", "GroupId")},
		"Uri":    cloudformation.Sub("arn:${AWS::Partition}:apigateway:${AWS::Region}:lambda:path/functions/${Fn.Arn}/invocations"),
		"Nested": map[string]any{"Target": cloudformation.Join("", []string{"integrations/", cloudformation.Ref("Integration")})},
		"Mapped": cloudformation.SubVars("${Api}/${Local}", map[string]any{"Local": cloudformation.Ref("Stage")}),
		"Escape": cloudformation.Sub("${!Literal}"),
		"Plain":  "Ref",
	})
	require.NoError(t, err)

	refs := References(props)
	assert.Equal(t, []string{"Api", "Fn", "Integration", "Sg", "Stage", "Vpc"}, refs)
}

func TestReferences_GetAttShortForm(t *testing.T) {
	refs := References(map[string]any{"Fn::GetAtt": "Alb.DNSName"})
	assert.Equal(t, []string{"Alb"}, refs)
}

func TestRenderJSON_Deterministic(t *testing.T) {
	first, err := RenderJSON(sampleTemplate())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := RenderJSON(sampleTemplate())
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
	assert.Contains(t, string(first), `"AWSTemplateFormatVersion": "2010-09-09"`)
	assert.Contains(t, string(first), `"Name": "groupId-dev"`)
	assert.NotContains(t, string(first), "Endpoint")
}

func TestRenderYAML(t *testing.T) {
	out, err := RenderYAML(sampleTemplate())
	require.NoError(t, err)
	assert.Contains(t, string(out), "AWSTemplateFormatVersion:")
	assert.Contains(t, string(out), "2010-09-09")
	assert.Contains(t, string(out), "Ref: Vpc")
}

func TestParseTemplate_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Render(sampleTemplate(), format)
			require.NoError(t, err)

			parsed, err := ParseTemplate(data)
			require.NoError(t, err)

			require.Len(t, parsed.Resources, 2)
			// Parsed resources are ordered by logical ID.
			assert.Equal(t, "SecurityGroup", parsed.Resources[0].LogicalID)
			assert.Equal(t, []string{"Vpc"}, parsed.Resources[0].DependsOn)
			assert.Equal(t, PolicyDelete, parsed.Resources[0].DeletionPolicy)
			assert.Equal(t, "groupId-dev", parsed.Outputs["GroupId"].ExportName)
			assert.Equal(t, "10.0.0.0/16", parsed.Resource("Vpc").Property("CidrBlock"))
		})
	}
}

func TestParseTemplate_Invalid(t *testing.T) {
	_, err := ParseTemplate([]byte("{not: [valid"))
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("toml")
	assert.Error(t, err)
}

func TestTemplateLookups(t *testing.T) {
	tmpl := sampleTemplate()
	assert.Equal(t, 1, tmpl.Index("SecurityGroup"))
	assert.Equal(t, -1, tmpl.Index("Missing"))
	assert.Nil(t, tmpl.Resource("Missing"))
	assert.Len(t, tmpl.ResourcesOfType("AWS::EC2::VPC"), 1)
	assert.Equal(t, []string{"GroupId"}, tmpl.Endpoints())
	assert.True(t, tmpl.Resources[1].HasDependency("Vpc"))
}

func TestFromModel(t *testing.T) {
	res, err := FromModel("Subnet", &ec2.Subnet{
		VpcId:                      cloudformation.Ref("Vpc"),
		CidrBlock:                  cloudformation.String("10.0.0.0/24"),
		MapPublicIpOnLaunch:        cloudformation.Bool(false),
		AWSCloudFormationDependsOn: []string{"Vpc"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Subnet", res.LogicalID)
	assert.Equal(t, "AWS::EC2::Subnet", res.Type)
	assert.Equal(t, []string{"Vpc"}, res.DependsOn)
	assert.Equal(t, map[string]any{
		"VpcId":               map[string]any{"Ref": "Vpc"},
		"CidrBlock":           "10.0.0.0/24",
		"MapPublicIpOnLaunch": false,
	}, res.Properties)
}

func TestFromModel_EmptyProperties(t *testing.T) {
	res, err := FromModel("Gateway", &ec2.InternetGateway{})
	require.NoError(t, err)
	assert.Equal(t, "AWS::EC2::InternetGateway", res.Type)
	assert.NotNil(t, res.Properties)
	assert.Empty(t, res.Properties)
}

func TestResolve(t *testing.T) {
	v, err := Resolve(cloudformation.Base64(cloudformation.Join("\n", []string{"#!/bin/bash", "echo ok"})))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"Fn::Base64": map[string]any{"Fn::Join": []any{"\n", []any{"#!/bin/bash", "echo ok"}}},
	}, v)

	plain, err := Resolve("internet-facing")
	require.NoError(t, err)
	assert.Equal(t, "internet-facing", plain)
}
