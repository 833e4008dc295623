package compute

import (
	"strconv"

	"github.com/awslabs/goformation/v7/cloudformation"
	"github.com/awslabs/goformation/v7/cloudformation/ecs"
	"github.com/awslabs/goformation/v7/cloudformation/iam"
	"github.com/awslabs/goformation/v7/cloudformation/logs"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
)

// FargatePlatformVersion pins the platform so task networking does not change underneath a service.
const FargatePlatformVersion = "1.4.0"

// fargateMemory lists the memory sizes (MiB) Fargate accepts for each CPU size.
var fargateMemory = map[int][]int{
	256:   {512, 1024, 2048},
	512:   rangeMiB(1024, 4096, 1024),
	1024:  rangeMiB(2048, 8192, 1024),
	2048:  rangeMiB(4096, 16384, 1024),
	4096:  rangeMiB(8192, 30720, 1024),
	8192:  rangeMiB(16384, 61440, 4096),
	16384: rangeMiB(32768, 122880, 8192),
}

func rangeMiB(from, to, step int) []int {
	var out []int
	for m := from; m <= to; m += step {
		out = append(out, m)
	}
	return out
}

// ValidateTaskSize reports whether cpu units and memory MiB form a valid Fargate task size.
func ValidateTaskSize(cpu, memory int) error {
	sizes, ok := fargateMemory[cpu]
	if !ok {
		return stack.Errorf("cpu", "%d is not a Fargate CPU size", cpu)
	}
	for _, m := range sizes {
		if m == memory {
			return nil
		}
	}
	return stack.Errorf("memory", "%d MiB is not valid with %d CPU units", memory, cpu)
}

// FargateSpec describes a cluster running one Fargate service.
type FargateSpec struct {
	// Prefix is prepended to every logical ID.
	Prefix        string
	ClusterName   string
	Family        string
	ServiceName   string
	ContainerName string
	LogGroupName  string
	StreamPrefix  string
	Image         *Image
	CPU           int
	Memory        int
	ContainerPort int
	DesiredCount  int
	SecurityGroup *security.Group
	Placement     Placement
}

// Fargate holds the logical IDs of a declared Fargate service.
type Fargate struct {
	ClusterID        string
	TaskDefinitionID string
	ServiceID        string
	LogGroupID       string
}

// ClusterArn returns the cluster ARN as a template value.
func (f *Fargate) ClusterArn() string {
	return cloudformation.GetAtt(f.ClusterID, "Arn")
}

// AddFargate declares the cluster, log group, roles, task definition and service.
func AddFargate(b *stack.Builder, n *network.Network, spec FargateSpec) *Fargate {
	id := func(s string) string { return spec.Prefix + s }
	f := &Fargate{
		ClusterID:        id("Cluster"),
		TaskDefinitionID: id("TaskDefinition"),
		ServiceID:        id("Service"),
		LogGroupID:       id("LogGroup"),
	}

	if err := ValidateTaskSize(spec.CPU, spec.Memory); err != nil {
		b.Fail(err)
		return f
	}
	if spec.DesiredCount < 0 {
		b.Fail(stack.Errorf("desiredCount", "%d must not be negative", spec.DesiredCount))
		return f
	}
	if spec.Image == nil {
		b.Fail(stack.Errorf("image", "%s needs a container image", spec.ServiceName))
		return f
	}
	if spec.SecurityGroup == nil {
		b.Fail(stack.Errorf(spec.ServiceName, "service needs a security group"))
		return f
	}
	subnets := n.SubnetRefs(spec.Placement.SubnetType)
	if len(subnets) == 0 {
		b.Fail(stack.Errorf(spec.ServiceName, "no %s subnets to place the service in", spec.Placement.SubnetType))
		return f
	}

	b.Add(f.ClusterID, &ecs.Cluster{
		ClusterName: cloudformation.String(spec.ClusterName),
	})
	b.Add(id("ClusterCapacityProviders"), &ecs.ClusterCapacityProviderAssociations{
		Cluster:                         cloudformation.Ref(f.ClusterID),
		CapacityProviders:               []string{"FARGATE", "FARGATE_SPOT"},
		DefaultCapacityProviderStrategy: []ecs.ClusterCapacityProviderAssociations_CapacityProviderStrategy{},
	})

	b.Add(f.LogGroupID, &logs.LogGroup{
		LogGroupName:    cloudformation.String(spec.LogGroupName),
		RetentionInDays: cloudformation.Int(1),
	}, stack.RemovalPolicy(ir.PolicyDelete))

	taskRole := b.Add(id("TaskRole"), &iam.Role{
		AssumeRolePolicyDocument: assumeRolePolicy("ecs-tasks.amazonaws.com"),
	})
	execRole := b.Add(id("ExecutionRole"), &iam.Role{
		AssumeRolePolicyDocument: assumeRolePolicy("ecs-tasks.amazonaws.com"),
		Policies: []iam.Role_Policy{{
			PolicyName: "pull-image-and-write-logs",
			PolicyDocument: map[string]any{
				"Version": "2012-10-17",
				"Statement": []any{
					map[string]any{
						"Effect":   "Allow",
						"Action":   []string{"ecr:BatchCheckLayerAvailability", "ecr:GetDownloadUrlForLayer", "ecr:BatchGetImage"},
						"Resource": spec.Image.RepositoryArn,
					},
					map[string]any{
						"Effect":   "Allow",
						"Action":   "ecr:GetAuthorizationToken",
						"Resource": "*",
					},
					map[string]any{
						"Effect":   "Allow",
						"Action":   []string{"logs:CreateLogStream", "logs:PutLogEvents"},
						"Resource": cloudformation.GetAtt(f.LogGroupID, "Arn"),
					},
				},
			},
		}},
	})

	container := spec.ContainerName
	if container == "" {
		container = "api"
	}
	b.Add(f.TaskDefinitionID, &ecs.TaskDefinition{
		Family:                  cloudformation.String(spec.Family),
		Cpu:                     cloudformation.String(strconv.Itoa(spec.CPU)),
		Memory:                  cloudformation.String(strconv.Itoa(spec.Memory)),
		NetworkMode:             cloudformation.String("awsvpc"),
		RequiresCompatibilities: []string{"FARGATE"},
		ExecutionRoleArn:        cloudformation.GetAttPtr(execRole, "Arn"),
		TaskRoleArn:             cloudformation.GetAttPtr(taskRole, "Arn"),
		ContainerDefinitions: []ecs.TaskDefinition_ContainerDefinition{{
			Name:      container,
			Image:     spec.Image.URI(),
			Essential: cloudformation.Bool(true),
			PortMappings: []ecs.TaskDefinition_PortMapping{{
				ContainerPort: cloudformation.Int(spec.ContainerPort),
				Protocol:      cloudformation.String("tcp"),
			}},
			LogConfiguration: &ecs.TaskDefinition_LogConfiguration{
				LogDriver: "awslogs",
				Options: map[string]string{
					"awslogs-group":         cloudformation.Ref(f.LogGroupID),
					"awslogs-stream-prefix": spec.StreamPrefix,
					"awslogs-region":        cloudformation.Ref("AWS::Region"),
				},
			},
		}},
	})

	assignPublicIP := "DISABLED"
	if spec.Placement.AssignPublicIP {
		assignPublicIP = "ENABLED"
	}
	b.Add(f.ServiceID, &ecs.Service{
		Cluster:         cloudformation.RefPtr(f.ClusterID),
		ServiceName:     cloudformation.String(spec.ServiceName),
		TaskDefinition:  cloudformation.RefPtr(f.TaskDefinitionID),
		DesiredCount:    cloudformation.Int(spec.DesiredCount),
		LaunchType:      cloudformation.String("FARGATE"),
		PlatformVersion: cloudformation.String(FargatePlatformVersion),
		DeploymentConfiguration: &ecs.Service_DeploymentConfiguration{
			MaximumPercent:        cloudformation.Int(200),
			MinimumHealthyPercent: cloudformation.Int(50),
		},
		NetworkConfiguration: &ecs.Service_NetworkConfiguration{
			AwsvpcConfiguration: &ecs.Service_AwsVpcConfiguration{
				AssignPublicIp: cloudformation.String(assignPublicIP),
				SecurityGroups: []string{spec.SecurityGroup.GroupID()},
				Subnets:        subnets,
			},
		},
	}, stack.DependsOn(id("ClusterCapacityProviders")))
	return f
}
