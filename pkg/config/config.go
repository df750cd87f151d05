package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the collection engine.
// Configuration can come from a YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values.
type Config struct {
	// Env selects logger behavior ("local" = development logging).
	Env string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`

	// Version is set at load time, not from config.
	Version string `yaml:"-"`

	// Directory layout. The paths below are the wire format shared with the
	// CI orchestrator and the static site deployment.
	CollectionDir string `yaml:"collection_dir" env:"COLLECTION_DIR" env-default:"collection"`
	DeployedDir   string `yaml:"deployed_dir" env:"DEPLOYED_DIR" env-default:"gh-pages"`
	LastRunDir    string `yaml:"last_run_dir" env:"LAST_RUN_DIR" env-default:"last_ci_run/collection"`
	DistDir       string `yaml:"dist_dir" env:"DIST_DIR" env-default:"dist"`
	ArtifactDir   string `yaml:"artifact_dir" env:"ARTIFACT_DIR" env-default:"artifacts"`

	// PartnerSummariesDir holds downloaded partner test summaries as
	// {partner_id}/{resource_id}/{version_id}/*.yaml.
	PartnerSummariesDir string `yaml:"partner_summaries_dir" env:"PARTNER_SUMMARIES_DIR" env-default:"partner_test_summaries"`

	// DeployedBaseURL is the public base URL of the deployed collection,
	// stamped into every deployed descriptor's rdf_source.
	DeployedBaseURL string `yaml:"deployed_base_url" env:"DEPLOYED_BASE_URL" env-default:"https://sciregistry.github.io/collection"`

	// Branch is the CI branch ref. A branch named auto-update-{resource_id}
	// limits the pending and merge stages to that single resource.
	Branch string `yaml:"-" env:"GITHUB_REF" env-default:""`

	// CollectionTemplate seeds the top-level fields of the generated
	// collection manifest (site name, description, partner display config).
	// A missing file means an empty template.
	CollectionTemplate string `yaml:"collection_template" env:"COLLECTION_TEMPLATE" env-default:"collection_template.yaml"`

	// CoreNamespace is the validator namespace of the core library. It is
	// always merged first; partner namespaces must not collide with it.
	CoreNamespace string `yaml:"core_namespace" env:"CORE_NAMESPACE" env-default:"core"`

	Feed    FeedConfig    `yaml:"feed"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Pending PendingConfig `yaml:"pending"`
	Tools   ToolsConfig   `yaml:"tools"`

	// Partners lists independently operated feeds/test suites. Only
	// configurable via YAML.
	Partners []PartnerConfig `yaml:"partners"`
}

// FeedConfig holds upstream DOI-archive feed settings.
type FeedConfig struct {
	URL      string `yaml:"url" env:"FEED_URL" env-default:"https://zenodo.org/api/records/"`
	Keyword  string `yaml:"keyword" env:"FEED_KEYWORD" env-default:"sciregistry"`
	PageSize int    `yaml:"page_size" env:"FEED_PAGE_SIZE" env-default:"1000"`
	MaxPages int    `yaml:"max_pages" env:"FEED_MAX_PAGES" env-default:"9"`
}

// IngestConfig holds ingestion reconciler policy.
type IngestConfig struct {
	// DefaultStatus is the status given to newly created resources from the
	// fully-automatic upstream feed. "pending" is the conservative policy;
	// partner-curated feeds use "accepted" regardless of this setting.
	DefaultStatus string `yaml:"default_status" env:"INGEST_DEFAULT_STATUS" env-default:"pending"`

	// MaxResourceCount caps the number of updated resources reported per run
	// (one auto-update branch is opened per reported resource).
	MaxResourceCount int `yaml:"max_resource_count" env:"INGEST_MAX_RESOURCE_COUNT" env-default:"10"`
}

// PendingConfig holds pending-set builder settings.
type PendingConfig struct {
	// Cap is the soft limit of work items per validator queue per run.
	// Exceeding it sets the retrigger flag.
	Cap int `yaml:"cap" env:"PENDING_CAP" env-default:"100"`
}

// ToolsConfig records the versions of the validator toolchain the current
// run executes with. A mismatch against a persisted test summary marks the
// version tool-stale.
type ToolsConfig struct {
	SpecVersion string `yaml:"spec_version" env:"TOOLS_SPEC_VERSION" env-default:"0.4.9"`
	CoreVersion string `yaml:"core_version" env:"TOOLS_CORE_VERSION" env-default:"0.5.11"`
}

// PartnerConfig describes one partner collection.
type PartnerConfig struct {
	ID string `yaml:"id"`
	// URL points at the partner's collection file.
	URL string `yaml:"url"`
	// TestTypes lists the resource types the partner's test suite must cover.
	// A deployed version of a matching type without an entry under the
	// partner's namespace is queued for partner-only reevaluation.
	TestTypes []string `yaml:"test_types"`
}

// Load reads configuration from config.yaml (if present) and the environment.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Version = version

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that cleanenv cannot express.
func (c *Config) Validate() error {
	if c.Ingest.DefaultStatus != "pending" && c.Ingest.DefaultStatus != "accepted" {
		return fmt.Errorf("ingest.default_status must be pending or accepted, got %q", c.Ingest.DefaultStatus)
	}
	if c.Pending.Cap <= 0 {
		return fmt.Errorf("pending.cap must be positive, got %d", c.Pending.Cap)
	}
	if c.Feed.MaxPages <= 0 || c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed.max_pages and feed.page_size must be positive")
	}
	seen := map[string]bool{c.CoreNamespace: true}
	for _, p := range c.Partners {
		if p.ID == "" || p.URL == "" {
			return fmt.Errorf("partner entries require id and url: %+v", p)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate partner namespace %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// PartnerTestTypes returns the partner-id → required-resource-types map
// consumed by the diff engine and pending-set builder.
func (c *Config) PartnerTestTypes() map[string][]string {
	m := make(map[string][]string, len(c.Partners))
	for _, p := range c.Partners {
		m[p.ID] = p.TestTypes
	}
	return m
}

// ResourcePattern derives the resource scope from the CI branch ref.
// An empty return means all resources.
func (c *Config) ResourcePattern() string {
	branch := strings.TrimPrefix(c.Branch, "refs/heads/")
	if strings.HasPrefix(branch, "auto-update-") {
		return strings.TrimPrefix(branch, "auto-update-")
	}
	return ""
}
