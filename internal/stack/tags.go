package stack

import "github.com/awslabs/goformation/v7/cloudformation/tags"

// TagSubnetGroup and TagSubnetType label subnets with the group they were allocated for.
const (
	TagSubnetGroup = "stackr:subnet-group"
	TagSubnetType  = "stackr:subnet-type"
)

// Tags converts key/value pairs into a CloudFormation tag list, keeping argument order.
func Tags(pairs ...string) []tags.Tag {
	out := make([]tags.Tag, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, tags.Tag{Key: pairs[i], Value: pairs[i+1]})
	}
	return out
}
