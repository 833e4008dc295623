package compute

import (
	"strings"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/ec2"
	"github.com/awslabs/goformation/v7/cloudformation/iam"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
)

const (
	// AmiParameter is the template parameter holding the Amazon Linux 2023 image ID.
	AmiParameter = "LatestAmiId"
	// AmiSSMPath is the public SSM parameter resolved into AmiParameter.
	AmiSSMPath = "/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64"

	// DefaultInstanceType is used when an InstanceSpec leaves it empty.
	DefaultInstanceType = "t2.micro"
)

// AmazonLinux2023 declares the AMI parameter once and returns a reference to it.
func AmazonLinux2023(b *stack.Builder) string {
	if !b.Exists(AmiParameter) {
		b.Parameter(AmiParameter, &ir.Parameter{
			Type:        "AWS::SSM::Parameter::Value<AWS::EC2::Image::Id>",
			Default:     AmiSSMPath,
			Description: "Latest Amazon Linux 2023 AMI",
		})
	}
	return cloudformation.Ref(AmiParameter)
}

// WebServerUserData installs httpd and serves a page naming the host.
func WebServerUserData() []string {
	return []string{
		"#!/bin/bash",
		"yum update -y",
		"yum install -y httpd",
		"systemctl start httpd",
		"systemctl enable httpd",
		`echo "<h1>Hello world from $(hostname -f)</h1>" > /var/www/html/index.html`,
	}
}

// InstanceSpec describes one EC2 instance.
type InstanceSpec struct {
	ID            string
	Name          string
	InstanceType  string
	SecurityGroup *security.Group
	Placement     Placement
	// Zone indexes the subnets of the placement's type.
	Zone     int
	UserData []string
}

// Instance declares an instance and returns its logical ID. Instances in a
// subnet with a default route depend on it so they can bootstrap.
func Instance(b *stack.Builder, n *network.Network, spec InstanceSpec) string {
	subnets := n.SubnetsOf(spec.Placement.SubnetType)
	if len(subnets) == 0 {
		b.Fail(stack.Errorf(spec.ID, "no %s subnets to place the instance in", spec.Placement.SubnetType))
		return spec.ID
	}
	if spec.SecurityGroup == nil {
		b.Fail(stack.Errorf(spec.ID, "instance needs a security group"))
		return spec.ID
	}
	subnet := subnets[spec.Zone%len(subnets)]

	instanceType := spec.InstanceType
	if instanceType == "" {
		instanceType = DefaultInstanceType
	}

	role := b.Add(spec.ID+"Role", &iam.Role{
		AssumeRolePolicyDocument: assumeRolePolicy("ec2.amazonaws.com"),
		Tags:                     stack.Tags("Name", spec.Name),
	})
	profile := b.Add(spec.ID+"InstanceProfile", &iam.InstanceProfile{
		Roles: []string{cloudformation.Ref(role)},
	})

	instance := &ec2.Instance{
		ImageId:            cloudformation.String(AmazonLinux2023(b)),
		InstanceType:       cloudformation.String(instanceType),
		SubnetId:           cloudformation.RefPtr(subnet.ID),
		AvailabilityZone:   cloudformation.String(subnet.Zone),
		SecurityGroupIds:   []string{spec.SecurityGroup.GroupID()},
		IamInstanceProfile: cloudformation.RefPtr(profile),
		Tags:               stack.Tags("Name", spec.Name),
	}
	if len(spec.UserData) > 0 {
		instance.UserData = cloudformation.Base64Ptr(strings.Join(spec.UserData, "\n"))
	}

	var opts []stack.Option
	if subnet.RouteID != "" {
		opts = append(opts, stack.DependsOn(subnet.RouteID))
	}
	return b.Add(spec.ID, instance, opts...)
}

func assumeRolePolicy(service string) map[string]any {
	return map[string]any{
		"Version": "2012-10-17",
		"Statement": []any{map[string]any{
			"Effect":    "Allow",
			"Principal": map[string]any{"Service": service},
			"Action":    "sts:AssumeRole",
		}},
	}
}
