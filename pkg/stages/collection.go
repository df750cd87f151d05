package stages

import (
	"context"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sciregistry/collection-engine/pkg/ci"
	"github.com/sciregistry/collection-engine/pkg/services"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// Collection folds every resource's latest deployed accepted version into
// the collection manifest and writes it to dist, as canonical YAML (rdf.yaml)
// plus a JSON rendering (collection.json).
func Collection(_ context.Context, env Env) error {
	cfg := env.Cfg
	logger := env.logger("collection")

	deployed := store.New(cfg.CollectionDir, cfg.DeployedDir, logger)
	dist := store.New(cfg.CollectionDir, cfg.DistDir, logger)

	template, err := loadManifestTemplate(cfg.CollectionTemplate)
	if err != nil {
		return err
	}

	manifest, err := services.NewManifestBuilder(deployed, dist, logger).Build(template)
	if err != nil {
		return err
	}
	if err := dist.SaveCollectionManifestTo(cfg.DistDir, manifest); err != nil {
		return err
	}

	entries, _ := manifest["collection"].([]map[string]any)
	logger.Info("collection stage done", zap.Int("resources", len(entries)))
	if err := ci.WriteOutput(env.Out, "collection_resources", len(entries)); err != nil {
		return err
	}
	return ci.WriteOutput(env.Out, "has_collection", len(entries) > 0)
}

// loadManifestTemplate reads the manifest template file; a missing file is
// an empty template, not an error.
func loadManifestTemplate(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var template map[string]any
	if err := yaml.Unmarshal(data, &template); err != nil {
		return nil, err
	}
	return template, nil
}
