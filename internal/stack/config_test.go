package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults(t *testing.T) {
	cfg := (&Config{}).ApplyDefaults()

	assert.Equal(t, "webstack", cfg.Name)
	assert.Equal(t, "us-west-2", cfg.Region)
	assert.Equal(t, "example.com", cfg.Domain)
	assert.Equal(t, "admin@example.com", cfg.ContactEmail)
	assert.Equal(t, 70, *cfg.CPUTargetPercent)
	assert.Equal(t, 2, *cfg.MinReplicas)
	assert.Equal(t, 10, *cfg.MaxReplicas)
	assert.Equal(t, "1.33", cfg.KubernetesVersion)
	assert.Equal(t, "t3.medium", cfg.NodeInstanceType)
	assert.Equal(t, 2, cfg.NodeCount)
	assert.Equal(t, TopologyNodeGroup, cfg.Topology)
	assert.Equal(t, "10.0.0.0/16", cfg.VpcCidr)
	assert.Equal(t, []string{"us-west-2a", "us-west-2b"}, cfg.AvailabilityZones)
}

func TestApplyDefaults_DerivedEmail(t *testing.T) {
	cfg := (&Config{Domain: "shop.example.org"}).ApplyDefaults()
	assert.Equal(t, "admin@shop.example.org", cfg.ContactEmail)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := (&Config{
		Name:        "prod",
		Region:      "eu-central-1",
		MinReplicas: intPtr(3),
	}).ApplyDefaults()

	assert.Equal(t, "prod", cfg.Name)
	assert.Equal(t, "eu-central-1", cfg.Region)
	assert.Equal(t, 3, *cfg.MinReplicas)
	assert.Equal(t, []string{"eu-central-1a", "eu-central-1b"}, cfg.AvailabilityZones)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "minReplicas below one",
			mutate:  func(c *Config) { c.MinReplicas = intPtr(-1) },
			wantErr: "minReplicas",
		},
		{
			name:    "explicit zero minReplicas",
			mutate:  func(c *Config) { c.MinReplicas = intPtr(0) },
			wantErr: "minReplicas",
		},
		{
			name:    "maxReplicas below minReplicas",
			mutate:  func(c *Config) { c.MinReplicas = intPtr(5); c.MaxReplicas = intPtr(2) },
			wantErr: "maxReplicas",
		},
		{
			name:    "explicit zero maxReplicas",
			mutate:  func(c *Config) { c.MaxReplicas = intPtr(0) },
			wantErr: "maxReplicas",
		},
		{
			name:    "cpu target out of range",
			mutate:  func(c *Config) { c.CPUTargetPercent = intPtr(150) },
			wantErr: "cpuTargetPercent",
		},
		{
			name:    "explicit zero cpu target",
			mutate:  func(c *Config) { c.CPUTargetPercent = intPtr(0) },
			wantErr: "cpuTargetPercent",
		},
		{
			name:    "domain with scheme",
			mutate:  func(c *Config) { c.Domain = "https://example.com" },
			wantErr: "bare hostname",
		},
		{
			name:    "domain with path",
			mutate:  func(c *Config) { c.Domain = "example.com/app" },
			wantErr: "bare hostname",
		},
		{
			name:    "bad contact email",
			mutate:  func(c *Config) { c.ContactEmail = "not-an-address" },
			wantErr: "contactEmail",
		},
		{
			name:    "unknown topology",
			mutate:  func(c *Config) { c.Topology = "serverless" },
			wantErr: "topology",
		},
		{
			name:    "single availability zone",
			mutate:  func(c *Config) { c.AvailabilityZones = []string{"us-west-2a"} },
			wantErr: "availability zones",
		},
		{
			name:    "malformed vpc cidr",
			mutate:  func(c *Config) { c.VpcCidr = "10.0.0.0" },
			wantErr: "vpcCidr",
		},
		{
			name:    "vpc cidr too small",
			mutate:  func(c *Config) { c.VpcCidr = "10.0.0.0/24" },
			wantErr: "vpcCidr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := (&Config{}).ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	cfg := (&Config{Domain: "shop.example.org"}).ApplyDefaults()
	assert.Equal(t, "https://shop.example.org", cfg.BaseURL())
}
