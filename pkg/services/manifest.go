package services

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/apperrors"
	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// manifestSummaryFields are the deployed-descriptor fields promoted into a
// resource's collection-manifest entry.
var manifestSummaryFields = []string{
	"authors",
	"badges",
	"covers",
	"description",
	"download_url",
	"github_repo",
	"icon",
	"license",
	"links",
	"name",
	"rdf_source",
	"source",
	"tags",
	"training_data",
	"type",
}

// manifestRegistryFields are promoted from the descriptor's config.registry
// block to the top level of the entry.
var manifestRegistryFields = []string{"nickname", "nickname_icon", "owners"}

// ManifestBuilder aggregates every resource's latest deployed accepted
// version into the one collection manifest the site and downstream consumers
// read.
type ManifestBuilder struct {
	deployed *store.Store
	dist     *store.Store
	logger   *zap.Logger
}

// NewManifestBuilder creates a builder. dist shadows deployed for
// descriptors rewritten earlier in the same run.
func NewManifestBuilder(deployed, dist *store.Store, logger *zap.Logger) *ManifestBuilder {
	return &ManifestBuilder{deployed: deployed, dist: dist, logger: logger.Named("manifest")}
}

// Build folds the collection into a manifest document. template seeds the
// top-level fields (site name, description, partner display config) and may
// be nil. Resources without any deployed accepted version are left out;
// duplicate nicknames abort the build because downstream lookups key on them.
func (b *ManifestBuilder) Build(template map[string]any) (map[string]any, error) {
	manifest := make(map[string]any, len(template)+2)
	for k, v := range template {
		manifest[k] = v
	}

	resources, err := b.deployed.KnownResources("", models.StatusAccepted)
	if err != nil {
		return nil, err
	}

	entries := []map[string]any{}
	nicknameOwner := map[string]string{}
	resourceCounts := map[string]int{}
	versionCounts := map[string]int{}
	for _, kr := range resources {
		entry, versions := b.resourceEntry(kr)
		if entry == nil {
			b.logger.Info("leaving resource without deployed accepted versions out of the manifest",
				zap.String("resource_id", kr.Resource.ID))
			continue
		}

		if nickname, ok := entry["nickname"].(string); ok && nickname != "" {
			if other, taken := nicknameOwner[nickname]; taken {
				return nil, fmt.Errorf("%w: nickname %q claimed by both %s and %s",
					apperrors.ErrInvariant, nickname, other, kr.Resource.ID)
			}
			nicknameOwner[nickname] = kr.Resource.ID
		}

		typ, _ := entry["type"].(string)
		if typ == "" {
			typ = "unknown"
		}
		resourceCounts[typ]++
		versionCounts[typ] += len(versions)
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return fmt.Sprint(entries[i]["id"]) < fmt.Sprint(entries[j]["id"])
	})
	manifest["collection"] = entries

	config, _ := manifest["config"].(map[string]any)
	if config == nil {
		config = map[string]any{}
	}
	config["n_resources"] = resourceCounts
	config["n_resource_versions"] = versionCounts
	manifest["config"] = config
	return manifest, nil
}

// resourceEntry summarizes one resource from its newest deployed accepted
// version, listing every deployed accepted version id newest first. A nil
// entry means nothing of the resource is deployed yet.
func (b *ManifestBuilder) resourceEntry(kr store.KnownResource) (map[string]any, []string) {
	var entry map[string]any
	var versions []string
	for _, v := range kr.Resource.Versions {
		if v.Status != models.StatusAccepted {
			continue
		}
		rdf, ok := b.loadDescriptor(kr.Resource.ID, v.VersionID)
		if !ok {
			b.logger.Warn("manifest skips undeployed version",
				zap.String("resource_id", kr.Resource.ID),
				zap.String("version_id", v.VersionID))
			continue
		}
		versions = append(versions, v.VersionID)
		if entry == nil {
			entry = summarizeDescriptor(rdf)
		}
	}
	if entry == nil {
		return nil, nil
	}
	entry["id"] = kr.Resource.ID
	entry["versions"] = versions
	return entry, versions
}

func (b *ManifestBuilder) loadDescriptor(resourceID, versionID string) (map[string]any, bool) {
	if b.dist != nil && b.dist.HasDescriptor(resourceID, versionID) {
		if rdf, _, err := b.dist.LoadDescriptor(resourceID, versionID); err == nil {
			return rdf, true
		}
	}
	rdf, _, err := b.deployed.LoadDescriptor(resourceID, versionID)
	if err != nil {
		return nil, false
	}
	return rdf, true
}

// summarizeDescriptor picks the manifest fields out of a deployed
// descriptor, lifting the registry bookkeeping back to the top level.
func summarizeDescriptor(rdf map[string]any) map[string]any {
	entry := map[string]any{}
	for _, field := range manifestSummaryFields {
		if v, ok := rdf[field]; ok {
			entry[field] = v
		}
	}
	config, _ := rdf["config"].(map[string]any)
	registry, _ := config["registry"].(map[string]any)
	for _, field := range manifestRegistryFields {
		if v, ok := registry[field]; ok {
			entry[field] = v
		}
	}
	return entry
}
