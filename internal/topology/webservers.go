package topology

import (
	"fmt"

	"github.com/picklr-io/stackr/internal/compute"
	"github.com/picklr-io/stackr/internal/network"
	"github.com/picklr-io/stackr/internal/security"
	"github.com/picklr-io/stackr/internal/stack"
)

const webPort = 80

// webServers declares count httpd instances spread over the private subnets.
// They need egress to install packages, so the network must provide NAT.
func webServers(b *stack.Builder, n *network.Network, sg *security.Group, count int) []string {
	placement, err := compute.Place(n, true, false)
	if err != nil {
		b.Fail(err)
		return nil
	}
	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		ids = append(ids, compute.Instance(b, n, compute.InstanceSpec{
			ID:            fmt.Sprintf("Ec2Instance%d", i),
			Name:          b.Name(fmt.Sprintf("ec2Instance%d", i)),
			SecurityGroup: sg,
			Placement:     placement,
			Zone:          i - 1,
			UserData:      compute.WebServerUserData(),
		}))
	}
	return ids
}
