package services

import (
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/apperrors"
	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// ResourceDiff is the per-run classification of one resource's versions
// relative to the last successful run.
type ResourceDiff struct {
	Resource models.Resource
	Partner  bool

	// Hash is the current resource-level fingerprint.
	Hash string

	// Classes assigns exactly one classification per version id.
	Classes map[string]models.Classification

	// PartnerReeval lists versions that only need one partner's test
	// coverage (the deployed content is fine, but the partner's namespace is
	// missing from the test summary). Keyed by partner id, version ids in
	// record order.
	PartnerReeval map[string][]string
}

// DiffEngine classifies known versions by diffing current records against
// the snapshot of the previous successful run and against the running tool
// versions.
type DiffEngine struct {
	store    *store.Store
	snapshot *store.Store
	tools    models.ToolVersions

	// partnerTestTypes maps partner id to the resource types its test suite
	// must cover.
	partnerTestTypes map[string][]string

	logger *zap.Logger
}

// NewDiffEngine creates a diff engine. snapshot reads the last-successful-run
// copy of the collection; it is treated as read-only for the whole run.
func NewDiffEngine(current, snapshot *store.Store, tools models.ToolVersions, partnerTestTypes map[string][]string, logger *zap.Logger) *DiffEngine {
	return &DiffEngine{
		store:            current,
		snapshot:         snapshot,
		tools:            tools,
		partnerTestTypes: partnerTestTypes,
		logger:           logger.Named("diff"),
	}
}

// Classify assigns each version of kr exactly one classification.
func (e *DiffEngine) Classify(kr store.KnownResource) (*ResourceDiff, error) {
	diff := &ResourceDiff{
		Resource:      kr.Resource,
		Partner:       kr.Partner,
		Classes:       make(map[string]models.Classification, len(kr.Resource.Versions)),
		PartnerReeval: map[string][]string{},
	}

	hash, err := store.ResourceHash(&kr.Resource)
	if err != nil {
		return nil, err
	}
	diff.Hash = hash

	previous, ok := e.previousResource(kr)
	if !ok || e.previousHash(kr, previous) != hash {
		// resource-level fields are inherited into every version's
		// descriptor, so all of them must be redeployed
		for _, v := range kr.Resource.Versions {
			diff.Classes[v.VersionID] = models.ClassResourceChanged
		}
		return diff, nil
	}

	for _, v := range kr.Resource.Versions {
		diff.Classes[v.VersionID] = e.classifyVersion(kr, previous, v, diff)
	}
	return diff, nil
}

func (e *DiffEngine) classifyVersion(kr store.KnownResource, previous *models.Resource, v models.Version, diff *ResourceDiff) models.Classification {
	resourceID := kr.Resource.ID

	old := previous.FindVersion(v.VersionID)
	if old == nil || !old.Equal(v) {
		return models.ClassVersionChanged
	}

	if !e.store.HasDescriptor(resourceID, v.VersionID) || !e.store.HasTestSummary(resourceID, v.VersionID) {
		// also the recovery path for a crashed previous run: descriptor
		// present but summary unmerged resurfaces here
		return models.ClassUndeployed
	}

	summary, err := e.store.LoadTestSummary(resourceID, v.VersionID)
	if err != nil {
		e.logger.Warn("ignoring unreadable test summary",
			zap.String("resource_id", resourceID),
			zap.String("version_id", v.VersionID),
			zap.Error(err))
		return models.ClassUndeployed
	}

	for partnerID, types := range e.partnerTestTypes {
		if !slices.Contains(types, kr.Resource.Type) {
			continue
		}
		if len(summary.Tests[partnerID]) == 0 {
			diff.PartnerReeval[partnerID] = append(diff.PartnerReeval[partnerID], v.VersionID)
		}
	}

	if summary.SpecVersion != e.tools.SpecVersion || summary.CoreVersion != e.tools.CoreVersion {
		// the validator itself changed and might produce different results
		return models.ClassToolStale
	}
	return models.ClassUpToDate
}

// previousResource resolves the last-run counterpart of a record: the
// deployed partner mirror for partner resources, the run snapshot otherwise.
func (e *DiffEngine) previousResource(kr store.KnownResource) (*models.Resource, bool) {
	var (
		previous *models.Resource
		err      error
	)
	if kr.Partner {
		previous, err = e.store.LoadPartnerResource(kr.Resource.ID)
	} else {
		previous, err = e.snapshot.LoadResource(kr.Resource.ID)
	}
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			e.logger.Warn("treating unreadable previous record as changed",
				zap.String("resource_id", kr.Resource.ID), zap.Error(err))
		}
		return nil, false
	}
	return previous, true
}

// previousHash fingerprints the previous record, falling back to the
// deployed resource_hash.txt when the snapshot record cannot be hashed.
func (e *DiffEngine) previousHash(kr store.KnownResource, previous *models.Resource) string {
	h, err := store.ResourceHash(previous)
	if err == nil {
		return h
	}
	return e.store.LoadResourceHash(kr.Resource.ID)
}
