package stack

import (
	"fmt"
	"net/mail"
	"net/netip"
	"strings"
)

// Topology selects which compute and traffic-exposure declarations the
// builder emits. Both topologies share the same dependency policy; only the
// leaves differ.
type Topology string

const (
	// TopologyNodeGroup runs a fixed-capacity managed node group and exposes
	// traffic through an ALB ingress with cert-manager issued certificates.
	TopologyNodeGroup Topology = "node-group"

	// TopologyAutoMode delegates compute to EKS auto mode and exposes traffic
	// through the Gateway API with an ACM certificate.
	TopologyAutoMode Topology = "auto"
)

// Config is the configuration bundle for one provisioning run. Values are
// read once at graph-build time and treated as immutable for the run. Every
// field has a default; a zero Config builds a complete graph.
type Config struct {
	// Name prefixes every cloud-side resource name. Default "webstack".
	Name string `pkl:"name"`

	// Region is the target platform region. Default "us-west-2".
	Region string `pkl:"region"`

	// Domain is the public hostname the application is served under.
	// Default "example.com".
	Domain string `pkl:"domain"`

	// ContactEmail is registered with the certificate issuer.
	// Default "admin@" + Domain.
	ContactEmail string `pkl:"contactEmail"`

	// WebImage and APIImage are the workload container images.
	// Defaults are public placeholder images.
	WebImage string `pkl:"webImage"`
	APIImage string `pkl:"apiImage"`

	// Autoscaler settings for the API workload. Defaults 70, 2, 10.
	// Pointers distinguish unset from an explicit zero, so a zero floor is
	// rejected at validation instead of silently replaced by the default.
	CPUTargetPercent *int `pkl:"cpuTargetPercent"`
	MinReplicas      *int `pkl:"minReplicas"`
	MaxReplicas      *int `pkl:"maxReplicas"`

	// KubernetesVersion is the cluster control-plane version. Default "1.33".
	KubernetesVersion string `pkl:"kubernetesVersion"`

	// NodeInstanceType and NodeCount size the fixed-capacity node group.
	// Ignored under TopologyAutoMode. Defaults "t3.medium", 2.
	NodeInstanceType string `pkl:"nodeInstanceType"`
	NodeCount        int    `pkl:"nodeCount"`

	// Topology picks the compute/traffic variant. Default TopologyNodeGroup.
	Topology Topology `pkl:"topology"`

	// HostedZoneID, when set, adds an alias record for Domain pointing at the
	// provisioned load balancer (auto topology only; the ingress variant
	// emits a lookup command instead). Default empty.
	HostedZoneID string `pkl:"hostedZoneId"`

	// VpcCidr is the address space for the network foundation.
	// Default "10.0.0.0/16".
	VpcCidr string `pkl:"vpcCidr"`

	// AvailabilityZones lists the zones subnets spread over.
	// Default: first two zones of Region.
	AvailabilityZones []string `pkl:"availabilityZones"`
}

// ApplyDefaults fills every unset field with its documented default. It
// returns the config so call sites can chain into Validate.
func (c *Config) ApplyDefaults() *Config {
	if c.Name == "" {
		c.Name = "webstack"
	}
	if c.Region == "" {
		c.Region = "us-west-2"
	}
	if c.Domain == "" {
		c.Domain = "example.com"
	}
	if c.ContactEmail == "" {
		c.ContactEmail = "admin@" + c.Domain
	}
	if c.WebImage == "" {
		c.WebImage = "public.ecr.aws/nginx/nginx:1.27-alpine"
	}
	if c.APIImage == "" {
		c.APIImage = "public.ecr.aws/docker/library/node:22-alpine"
	}
	if c.CPUTargetPercent == nil {
		c.CPUTargetPercent = intPtr(70)
	}
	if c.MinReplicas == nil {
		c.MinReplicas = intPtr(2)
	}
	if c.MaxReplicas == nil {
		c.MaxReplicas = intPtr(10)
	}
	if c.KubernetesVersion == "" {
		c.KubernetesVersion = "1.33"
	}
	if c.NodeInstanceType == "" {
		c.NodeInstanceType = "t3.medium"
	}
	if c.NodeCount == 0 {
		c.NodeCount = 2
	}
	if c.Topology == "" {
		c.Topology = TopologyNodeGroup
	}
	if c.VpcCidr == "" {
		c.VpcCidr = "10.0.0.0/16"
	}
	if len(c.AvailabilityZones) == 0 {
		c.AvailabilityZones = []string{c.Region + "a", c.Region + "b"}
	}
	return c
}

// Validate rejects configuration the graph cannot be built from. It runs
// before any declaration is constructed, so a bad bundle aborts the run
// without touching providers.
func (c *Config) Validate() error {
	if *c.MinReplicas < 1 {
		return fmt.Errorf("minReplicas must be at least 1, got %d", *c.MinReplicas)
	}
	if *c.MaxReplicas < *c.MinReplicas {
		return fmt.Errorf("maxReplicas (%d) must not be lower than minReplicas (%d)", *c.MaxReplicas, *c.MinReplicas)
	}
	if *c.CPUTargetPercent < 1 || *c.CPUTargetPercent > 100 {
		return fmt.Errorf("cpuTargetPercent must be within 1..100, got %d", *c.CPUTargetPercent)
	}
	if c.NodeCount < 1 {
		return fmt.Errorf("nodeCount must be at least 1, got %d", c.NodeCount)
	}
	if strings.Contains(c.Domain, "://") || strings.Contains(c.Domain, "/") {
		return fmt.Errorf("domain must be a bare hostname, got %q", c.Domain)
	}
	if _, err := mail.ParseAddress(c.ContactEmail); err != nil {
		return fmt.Errorf("contactEmail %q is not a valid address: %w", c.ContactEmail, err)
	}
	switch c.Topology {
	case TopologyNodeGroup, TopologyAutoMode:
	default:
		return fmt.Errorf("unknown topology %q", c.Topology)
	}
	if len(c.AvailabilityZones) < 2 {
		return fmt.Errorf("at least two availability zones are required, got %d", len(c.AvailabilityZones))
	}
	prefix, err := netip.ParsePrefix(c.VpcCidr)
	if err != nil {
		return fmt.Errorf("vpcCidr %q is not a valid CIDR: %w", c.VpcCidr, err)
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("vpcCidr must be an IPv4 range, got %q", c.VpcCidr)
	}
	// The network layer carves /24 subnets out of the range; see subnetCIDR.
	if prefix.Bits() > 20 {
		return fmt.Errorf("vpcCidr %q leaves no room for the subnet layout; use a /20 or larger", c.VpcCidr)
	}
	return nil
}

func intPtr(v int) *int { return &v }

// BaseURL returns the public URL the application is reachable under.
func (c *Config) BaseURL() string {
	return "https://" + c.Domain
}
