// Package stack builds the desired-state resource graph for one web platform
// deployment: network foundation, cluster control plane, identity federation,
// in-cluster add-ons, the demo workloads, and the traffic-exposure layer for
// the selected topology.
//
// Build is a pure function of its Config. Given equal configuration it emits
// a byte-identical graph; all lookups, credentials, and API calls live in the
// engine and providers.
package stack

import (
	"fmt"

	"github.com/gantry-io/gantry/internal/ir"
)

// Build assembles the full resource graph from the configuration bundle.
// Defaults are applied first, then the bundle is validated, then the layers
// are declared bottom-up so every edge points at an earlier declaration.
func Build(cfg *Config) (out *ir.Config, err error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Layer helpers use mustAdd for edges entirely under their own control.
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("building resource graph: %w", e)
				return
			}
			panic(r)
		}
	}()

	b := newBuilder(cfg)

	net, err := b.addNetwork()
	if err != nil {
		return nil, err
	}
	cluster, err := b.addCluster(net)
	if err != nil {
		return nil, err
	}
	identity, err := b.addIdentity(cluster)
	if err != nil {
		return nil, err
	}
	addons, err := b.addAddons(cluster, identity)
	if err != nil {
		return nil, err
	}
	workloads, err := b.addWorkloads(cluster, identity)
	if err != nil {
		return nil, err
	}
	routing, err := b.addRouting(cluster, workloads, addons)
	if err != nil {
		return nil, err
	}

	b.setOutput("clusterName", cluster.cluster.ptr("name"))
	b.setOutput("region", cfg.Region)
	b.setOutput("appUrl", cfg.BaseURL())
	b.setOutput("kubeconfigCommand", fmt.Sprintf(
		"aws eks update-kubeconfig --name %s --region %s", cfg.Name, cfg.Region))
	if routing.loadBalancer != nil {
		b.setOutput("loadBalancerHostname", routing.loadBalancer.ptr("dnsName"))
	} else {
		// The ingress controller provisions the balancer asynchronously, so
		// its hostname is read from the ingress status after convergence.
		b.setOutput("loadBalancerCommand", fmt.Sprintf(
			"kubectl get ingress app -n %s -o jsonpath='{.status.loadBalancer.ingress[0].hostname}'",
			appNamespace))
	}

	return b.finish()
}
