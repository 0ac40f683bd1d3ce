package stack

import (
	"encoding/json"

	"github.com/gantry-io/gantry/internal/ir"
)

// clusterLayer bundles the handles downstream layers need from the control
// plane: the cluster itself plus the node role reused by auto-mode compute.
type clusterLayer struct {
	cluster   ref
	nodeRole  ref
	nodeGroup *ref // nil under TopologyAutoMode
}

// addCluster declares the cluster control plane: its IAM role, the cluster,
// the compute capacity for the selected topology, and the managed add-ons.
func (b *builder) addCluster(net *network) (*clusterLayer, error) {
	cfg := b.cfg

	clusterRole := b.mustAdd(&ir.Resource{
		Type:     "aws:IAM.Role",
		Name:     "cluster",
		Provider: "aws",
		Properties: map[string]any{
			"name":             cfg.Name + "-cluster",
			"assumeRolePolicy": serviceTrustPolicy("eks.amazonaws.com"),
		},
	})

	clusterPolicyAttachment := b.mustAdd(&ir.Resource{
		Type:     "aws:IAM.RolePolicyAttachment",
		Name:     "cluster-policy",
		Provider: "aws",
		Properties: map[string]any{
			"roleName":  clusterRole.ptr("name"),
			"policyArn": "arn:aws:iam::aws:policy/AmazonEKSClusterPolicy",
		},
	})

	nodeRole := b.mustAdd(&ir.Resource{
		Type:     "aws:IAM.Role",
		Name:     "node",
		Provider: "aws",
		Properties: map[string]any{
			"name":             cfg.Name + "-node",
			"assumeRolePolicy": serviceTrustPolicy("ec2.amazonaws.com"),
		},
	})

	nodePolicies := []struct {
		name string
		arn  string
	}{
		{"node-worker", "arn:aws:iam::aws:policy/AmazonEKSWorkerNodePolicy"},
		{"node-cni", "arn:aws:iam::aws:policy/AmazonEKS_CNI_Policy"},
		{"node-ecr", "arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly"},
	}
	var nodeAttachments []ref
	for _, p := range nodePolicies {
		att := b.mustAdd(&ir.Resource{
			Type:     "aws:IAM.RolePolicyAttachment",
			Name:     p.name,
			Provider: "aws",
			Properties: map[string]any{
				"roleName":  nodeRole.ptr("name"),
				"policyArn": p.arn,
			},
		})
		nodeAttachments = append(nodeAttachments, att)
	}

	clusterProps := map[string]any{
		"name":      cfg.Name,
		"version":   cfg.KubernetesVersion,
		"roleArn":   clusterRole.ptr("arn"),
		"subnetIds": net.allSubnetIDs(),
		"vpcConfig": map[string]any{
			"endpointPublicAccess":  true,
			"endpointPrivateAccess": true,
		},
		"tags": map[string]any{
			"Name": cfg.Name,
		},
	}
	if cfg.Topology == TopologyAutoMode {
		// Auto mode provisions and scales compute itself; the cluster just
		// names the node pools and the role nodes come up with.
		clusterProps["computeConfig"] = map[string]any{
			"enabled":     true,
			"nodePools":   []any{"general-purpose", "system"},
			"nodeRoleArn": nodeRole.ptr("arn"),
		}
	}

	// The managed policy must be attached before control-plane creation is
	// requested; the role ARN alone does not order these, so the edge is
	// explicit.
	cluster := b.mustAdd(&ir.Resource{
		Type:       "aws:EKS.Cluster",
		Name:       "platform",
		Provider:   "aws",
		DependsOn:  []string{clusterPolicyAttachment.addr()},
		Timeout:    "40m",
		Properties: clusterProps,
	})

	layer := &clusterLayer{cluster: cluster, nodeRole: nodeRole}

	if cfg.Topology == TopologyNodeGroup {
		deps := make([]string, 0, len(nodeAttachments))
		for _, att := range nodeAttachments {
			deps = append(deps, att.addr())
		}
		ng := b.mustAdd(&ir.Resource{
			Type:      "aws:EKS.NodeGroup",
			Name:      "default",
			Provider:  "aws",
			DependsOn: deps,
			Timeout:   "30m",
			Lifecycle: &ir.Lifecycle{
				// The cluster autoscaler and console operations nudge the
				// desired size; only min/max are authoritative here.
				IgnoreChanges: []string{"scalingConfig.desiredSize"},
			},
			Properties: map[string]any{
				"clusterName": layer.cluster.ptr("name"),
				"nodeRoleArn": nodeRole.ptr("arn"),
				"subnetIds":   subnetIDs(net.privateSubnets),
				"scalingConfig": map[string]any{
					"minSize":     cfg.NodeCount,
					"maxSize":     cfg.NodeCount,
					"desiredSize": cfg.NodeCount,
				},
				"instanceTypes": []any{cfg.NodeInstanceType},
				"capacityType":  "ON_DEMAND",
			},
		})
		layer.nodeGroup = &ng
	}

	// Managed add-ons. CoreDNS schedules onto worker nodes, so it waits for
	// capacity under the node-group topology.
	addons := []struct {
		name      string
		needsCaps bool
	}{
		{"vpc-cni", false},
		{"kube-proxy", false},
		{"coredns", true},
	}
	for _, a := range addons {
		res := &ir.Resource{
			Type:     "aws:EKS.Addon",
			Name:     a.name,
			Provider: "aws",
			Properties: map[string]any{
				"clusterName":      layer.cluster.ptr("name"),
				"addonName":        a.name,
				"resolveConflicts": "OVERWRITE",
			},
		}
		if a.needsCaps && layer.nodeGroup != nil {
			res.DependsOn = []string{layer.nodeGroup.addr()}
		}
		b.mustAdd(res)
	}

	return layer, nil
}

// serviceTrustPolicy builds the assume-role document that lets an AWS
// service principal assume a role.
func serviceTrustPolicy(service string) string {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []any{
			map[string]any{
				"Effect":    "Allow",
				"Principal": map[string]any{"Service": service},
				"Action":    "sts:AssumeRole",
			},
		},
	}
	out, _ := json.Marshal(doc)
	return string(out)
}
