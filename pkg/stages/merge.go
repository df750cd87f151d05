package stages

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sciregistry/collection-engine/pkg/ci"
	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/services"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// versionKey addresses one deployed version.
type versionKey struct {
	resourceID string
	versionID  string
}

// Merge folds the validation artifacts of this run and the downloaded
// partner summaries into persistent test summaries. Summaries whose
// canonical bytes did not change are not rewritten, keeping the deployment
// diff minimal.
func Merge(_ context.Context, env Env) error {
	cfg := env.Cfg
	logger := env.logger("merge")

	deployed := store.New(cfg.CollectionDir, cfg.DeployedDir, logger)
	dist := store.New(cfg.CollectionDir, cfg.DistDir, logger)
	merger := services.NewMerger(cfg.CoreNamespace, logger)
	tools := models.ToolVersions{
		SpecVersion: cfg.Tools.SpecVersion,
		CoreVersion: cfg.Tools.CoreVersion,
	}

	coreArtifacts, err := collectSummaryFiles(cfg.ArtifactDir)
	if err != nil {
		return err
	}
	partnerArtifacts := map[string]map[versionKey][]string{}
	for _, partner := range cfg.Partners {
		files, err := collectSummaryFiles(filepath.Join(cfg.PartnerSummariesDir, partner.ID))
		if err != nil {
			return err
		}
		partnerArtifacts[partner.ID] = files
	}

	pattern := cfg.ResourcePattern()
	updated := 0
	for _, key := range mergeKeys(coreArtifacts, partnerArtifacts) {
		if pattern != "" && key.resourceID != pattern {
			continue
		}

		changed, err := mergeVersion(deployed, dist, cfg.DistDir, merger, tools, logger, key, coreArtifacts[key], partnerArtifacts)
		if err != nil {
			return err
		}
		if changed {
			updated++
		}
	}

	logger.Info("merge stage done", zap.Int("updated_summaries", updated))
	if err := ci.WriteOutput(env.Out, "updated_summaries", updated); err != nil {
		return err
	}
	return ci.WriteOutput(env.Out, "has_updated_summaries", updated > 0)
}

func mergeVersion(
	deployed, dist *store.Store,
	distDir string,
	merger *services.Merger,
	tools models.ToolVersions,
	logger *zap.Logger,
	key versionKey,
	coreFiles []string,
	partnerArtifacts map[string]map[versionKey][]string,
) (bool, error) {
	in := services.MergeInput{
		ResourceID: key.resourceID,
		VersionID:  key.versionID,
		Partners:   map[string][]models.ValidationSummary{},
	}

	// the descriptor the tests ran against: freshly redeployed to dist this
	// run, or the already-deployed one
	if _, sha, err := dist.LoadDescriptor(key.resourceID, key.versionID); err == nil {
		in.RDFSha256 = sha
	} else if _, sha, err := deployed.LoadDescriptor(key.resourceID, key.versionID); err == nil {
		in.RDFSha256 = sha
	}

	if deployed.HasTestSummary(key.resourceID, key.versionID) {
		previous, err := deployed.LoadTestSummary(key.resourceID, key.versionID)
		if err != nil {
			return false, err
		}
		in.Previous = previous
	}

	for _, path := range coreFiles {
		entries, err := readSummaryFile(path)
		if err != nil {
			logger.Warn("recording unreadable validation artifact as failure",
				zap.String("path", path), zap.Error(err))
			entries = []models.ValidationSummary{models.SyntheticFailure(filepath.Base(path), err, tools)}
		}
		in.Core = append(in.Core, entries...)
	}

	for partnerID, files := range partnerArtifacts {
		paths, ok := files[key]
		if !ok {
			continue
		}
		entries, err := readPartnerFiles(paths)
		if err != nil {
			// one partner's broken artifact must not lose the others
			logger.Warn("skipping malformed partner summaries",
				zap.String("partner_id", partnerID),
				zap.String("resource_id", key.resourceID),
				zap.String("version_id", key.versionID),
				zap.Error(err))
			continue
		}
		in.Partners[partnerID] = entries
	}

	merged := merger.Merge(in)
	if in.Previous != nil {
		before, err := store.MarshalCanonical(in.Previous)
		if err != nil {
			return false, err
		}
		after, err := store.MarshalCanonical(merged)
		if err != nil {
			return false, err
		}
		if bytes.Equal(before, after) {
			return false, nil
		}
	}
	return true, dist.SaveTestSummaryTo(distDir, key.resourceID, key.versionID, merged)
}

// readSummaryFile parses one artifact file into its validation entries and
// stamps each with its origin.
func readSummaryFile(path string) ([]models.ValidationSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []models.ValidationSummary
	if err := yaml.Unmarshal(data, &entries); err != nil {
		// single-entry artifacts are written without the list wrapper
		var single models.ValidationSummary
		if err := yaml.Unmarshal(data, &single); err != nil {
			return nil, err
		}
		entries = []models.ValidationSummary{single}
	}
	for i := range entries {
		entries[i].SourceName = filepath.ToSlash(path)
	}
	return entries, nil
}

func readPartnerFiles(paths []string) ([]models.ValidationSummary, error) {
	var entries []models.ValidationSummary
	for _, p := range paths {
		e, err := readSummaryFile(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e...)
	}
	return entries, nil
}

// collectSummaryFiles walks root for yaml artifacts laid out as
// {resource_id}/{version_id}/*.yaml, where resource ids may span multiple
// path elements. A missing root yields an empty map.
func collectSummaryFiles(root string) (map[versionKey][]string, error) {
	out := map[versionKey][]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".yaml") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		dir := filepath.ToSlash(filepath.Dir(rel))
		idx := strings.LastIndex(dir, "/")
		if idx < 0 {
			// artifacts directly below a single path element cannot encode
			// both ids; skip them
			return nil
		}
		key := versionKey{resourceID: dir[:idx], versionID: dir[idx+1:]}
		out[key] = append(out[key], path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for key := range out {
		sort.Strings(out[key])
	}
	return out, nil
}

// mergeKeys returns the union of all version keys with artifacts, in stable
// order.
func mergeKeys(core map[versionKey][]string, partners map[string]map[versionKey][]string) []versionKey {
	seen := map[versionKey]bool{}
	var keys []versionKey
	add := func(k versionKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range core {
		add(k)
	}
	for _, files := range partners {
		for k := range files {
			add(k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].resourceID != keys[j].resourceID {
			return keys[i].resourceID < keys[j].resourceID
		}
		return keys[i].versionID < keys[j].versionID
	})
	return keys
}
