package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:           "local",
		CoreNamespace: "core",
		Ingest:        IngestConfig{DefaultStatus: "pending", MaxResourceCount: 10},
		Pending:       PendingConfig{Cap: 100},
		Feed:          FeedConfig{URL: "https://archive.example.org/api/records/", PageSize: 1000, MaxPages: 9},
	}
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Ingest.DefaultStatus = "blocked"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Pending.Cap = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Partners = []PartnerConfig{{ID: "partner-x", URL: "https://example.org/collection.yaml"}}
	require.NoError(t, cfg.Validate())

	// a partner must not shadow the core namespace
	cfg.Partners = append(cfg.Partners, PartnerConfig{ID: "core", URL: "https://example.org/other.yaml"})
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Partners = []PartnerConfig{{ID: "partner-x"}}
	assert.Error(t, cfg.Validate(), "partner without url")
}

func TestResourcePattern(t *testing.T) {
	tests := []struct {
		branch  string
		pattern string
	}{
		{"", ""},
		{"main", ""},
		{"refs/heads/main", ""},
		{"auto-update-10.5281/zenodo.12345", "10.5281/zenodo.12345"},
		{"refs/heads/auto-update-partner-x/unet", "partner-x/unet"},
	}
	for _, tt := range tests {
		cfg := validConfig()
		cfg.Branch = tt.branch
		assert.Equal(t, tt.pattern, cfg.ResourcePattern(), "branch %q", tt.branch)
	}
}

func TestPartnerTestTypes(t *testing.T) {
	cfg := validConfig()
	cfg.Partners = []PartnerConfig{
		{ID: "partner-x", URL: "https://example.org/c.yaml", TestTypes: []string{"model"}},
		{ID: "partner-y", URL: "https://example.org/d.yaml"},
	}
	m := cfg.PartnerTestTypes()
	assert.Equal(t, []string{"model"}, m["partner-x"])
	assert.Empty(t, m["partner-y"])
}
