package stack

import (
	"fmt"
	"net/netip"

	"github.com/gantry-io/gantry/internal/ir"
)

// network bundles the handles the rest of the graph needs from the
// network foundation.
type network struct {
	vpc            ref
	publicSubnets  []ref
	privateSubnets []ref
}

// addNetwork declares the network foundation: one VPC, a public and a
// private subnet per availability zone, internet and NAT gateways, and the
// two route tables. It is the leaf layer of the graph.
func (b *builder) addNetwork() (*network, error) {
	cfg := b.cfg

	vpc := b.mustAdd(&ir.Resource{
		Type:     "aws:EC2.Vpc",
		Name:     "platform",
		Provider: "aws",
		Properties: map[string]any{
			"cidrBlock":          cfg.VpcCidr,
			"enableDnsSupport":   true,
			"enableDnsHostnames": true,
			"tags": map[string]any{
				"Name": cfg.Name,
			},
		},
	})

	igw := b.mustAdd(&ir.Resource{
		Type:     "aws:EC2.InternetGateway",
		Name:     "platform",
		Provider: "aws",
		Properties: map[string]any{
			"vpcId": vpc.ptr("id"),
		},
	})

	net := &network{vpc: vpc}

	// Subnet CIDRs are carved deterministically out of the VPC range: the
	// i-th /24 is public, the (i+8)-th private.
	for i, az := range cfg.AvailabilityZones {
		pubCidr, err := subnetCIDR(cfg.VpcCidr, i)
		if err != nil {
			return nil, err
		}
		pub := b.mustAdd(&ir.Resource{
			Type:     "aws:EC2.Subnet",
			Name:     fmt.Sprintf("public-%d", i),
			Provider: "aws",
			Properties: map[string]any{
				"vpcId":               vpc.ptr("id"),
				"cidrBlock":           pubCidr,
				"availabilityZone":    az,
				"mapPublicIpOnLaunch": true,
				"tags": map[string]any{
					"Name":                   fmt.Sprintf("%s-public-%d", cfg.Name, i),
					"kubernetes.io/role/elb": "1",
				},
			},
		})
		net.publicSubnets = append(net.publicSubnets, pub)

		privCidr, err := subnetCIDR(cfg.VpcCidr, i+8)
		if err != nil {
			return nil, err
		}
		priv := b.mustAdd(&ir.Resource{
			Type:     "aws:EC2.Subnet",
			Name:     fmt.Sprintf("private-%d", i),
			Provider: "aws",
			Properties: map[string]any{
				"vpcId":            vpc.ptr("id"),
				"cidrBlock":        privCidr,
				"availabilityZone": az,
				"tags": map[string]any{
					"Name":                            fmt.Sprintf("%s-private-%d", cfg.Name, i),
					"kubernetes.io/role/internal-elb": "1",
				},
			},
		})
		net.privateSubnets = append(net.privateSubnets, priv)
	}

	eip := b.mustAdd(&ir.Resource{
		Type:       "aws:EC2.ElasticIP",
		Name:       "nat",
		Provider:   "aws",
		Properties: map[string]any{},
	})

	nat := b.mustAdd(&ir.Resource{
		Type:     "aws:EC2.NatGateway",
		Name:     "platform",
		Provider: "aws",
		Properties: map[string]any{
			"subnetId":     net.publicSubnets[0].ptr("id"),
			"allocationId": eip.ptr("allocationId"),
		},
		// NAT gateways take a few minutes to become available.
		Timeout: "15m",
	})

	b.mustAdd(&ir.Resource{
		Type:     "aws:EC2.RouteTable",
		Name:     "public",
		Provider: "aws",
		Properties: map[string]any{
			"vpcId": vpc.ptr("id"),
			"routes": []any{
				map[string]any{
					"cidrBlock": "0.0.0.0/0",
					"gatewayId": igw.ptr("id"),
				},
			},
			"subnetIds": subnetIDs(net.publicSubnets),
		},
	})

	b.mustAdd(&ir.Resource{
		Type:     "aws:EC2.RouteTable",
		Name:     "private",
		Provider: "aws",
		Properties: map[string]any{
			"vpcId": vpc.ptr("id"),
			"routes": []any{
				map[string]any{
					"cidrBlock":    "0.0.0.0/0",
					"natGatewayId": nat.ptr("id"),
				},
			},
			"subnetIds": subnetIDs(net.privateSubnets),
		},
	})

	return net, nil
}

// subnetCIDR returns the index-th /24 inside the VPC range. Validation has
// already bounded the range to /20 or larger, so the carve can only fail on
// an index outside the range.
func subnetCIDR(vpcCidr string, index int) (string, error) {
	prefix, err := netip.ParsePrefix(vpcCidr)
	if err != nil {
		return "", fmt.Errorf("vpcCidr %q is not a valid CIDR: %w", vpcCidr, err)
	}
	base := prefix.Masked().Addr().As4()
	n := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	n += uint32(index) << 8
	addr := netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
	if !prefix.Contains(addr) {
		return "", fmt.Errorf("subnet %d does not fit inside vpcCidr %q", index, vpcCidr)
	}
	return netip.PrefixFrom(addr, 24).String(), nil
}

func subnetIDs(subnets []ref) []any {
	ids := make([]any, len(subnets))
	for i, s := range subnets {
		ids[i] = s.ptr("id")
	}
	return ids
}

func (n *network) allSubnetIDs() []any {
	return append(subnetIDs(n.publicSubnets), subnetIDs(n.privateSubnets)...)
}
