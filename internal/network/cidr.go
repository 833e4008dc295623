package network

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/picklr-io/stackr/internal/stack"
)

// allocate carves consecutive blocks out of vpc: every group in order, one
// block per zone. Logical IDs are numbered per subnet type.
func allocate(vpc netip.Prefix, zones []string, groups []SubnetGroup) ([]*Subnet, error) {
	if len(groups) == 0 {
		return nil, stack.Errorf("subnetGroups", "at least one subnet group is required")
	}

	next := vpc.Addr()
	counts := map[SubnetType]int{}
	names := map[string]bool{}
	var subnets []*Subnet

	for _, g := range groups {
		if g.Name == "" || names[g.Name] {
			return nil, stack.Errorf("subnetGroups", "subnet group name %q is empty or repeated", g.Name)
		}
		names[g.Name] = true
		if g.Type != Public && g.Type != Private {
			return nil, stack.Errorf("subnetGroups", "%s: unknown subnet type %q", g.Name, g.Type)
		}
		if g.CidrMask < vpc.Bits() || g.CidrMask > 28 {
			return nil, stack.Errorf("subnetGroups", "%s: mask /%d must be between /%d and /28", g.Name, g.CidrMask, vpc.Bits())
		}

		for _, zone := range zones {
			block := netip.PrefixFrom(next, g.CidrMask)
			if block.Masked() != block {
				// round up to the next boundary of the larger block
				next, _ = advance(block.Masked().Addr(), g.CidrMask)
				block = netip.PrefixFrom(next, g.CidrMask)
			}
			if !vpc.Contains(next) {
				return nil, stack.Errorf("subnetGroups", "%s: out of address space in %s", g.Name, vpc)
			}
			counts[g.Type]++
			subnets = append(subnets, &Subnet{
				ID:    fmt.Sprintf("Vpc%sSubnet%d", typeLabel(g.Type), counts[g.Type]),
				Group: g.Name,
				Type:  g.Type,
				Zone:  zone,
				CIDR:  block,
			})

			var overflow bool
			if next, overflow = advance(next, g.CidrMask); overflow {
				next = netip.IPv4Unspecified()
			}
		}
	}

	last := subnets[len(subnets)-1].CIDR
	if !vpc.Contains(lastAddr(last)) {
		return nil, stack.Errorf("subnetGroups", "subnets exceed the address space of %s", vpc)
	}
	return subnets, nil
}

// advance returns the first address after the block addr/bits.
func advance(addr netip.Addr, bits int) (netip.Addr, bool) {
	a := addr.As4()
	v := uint64(binary.BigEndian.Uint32(a[:])) + 1<<(32-bits)
	if v > 0xffffffff {
		return addr, true
	}
	binary.BigEndian.PutUint32(a[:], uint32(v))
	return netip.AddrFrom4(a), false
}

func lastAddr(p netip.Prefix) netip.Addr {
	a := p.Addr().As4()
	v := binary.BigEndian.Uint32(a[:]) + uint32(uint64(1)<<(32-p.Bits())-1)
	binary.BigEndian.PutUint32(a[:], v)
	return netip.AddrFrom4(a)
}

func typeLabel(t SubnetType) string {
	if t == Public {
		return "Public"
	}
	return "Private"
}
