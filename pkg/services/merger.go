package services

import (
	"sort"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/sciregistry/collection-engine/pkg/models"
)

// MergeInput is everything the merger needs to fold one validation run's
// artifacts for a single version into its persistent test summary.
type MergeInput struct {
	ResourceID string
	VersionID  string

	// Previous is the deployed summary, or nil when the version has never
	// been validated.
	Previous *models.TestSummary

	// RDFSha256 fingerprints the deployed descriptor the tests ran against.
	RDFSha256 string

	// Core holds this run's core-validator entries. A non-empty list replaces
	// the core namespace wholesale, so entries produced by an earlier
	// descriptor revision or an older toolchain cannot survive a fresh
	// validation. An empty list leaves the previous core entries untouched
	// (the validator may simply not have run this time).
	Core []models.ValidationSummary

	// Partners maps partner id to that partner's new entries. Presence of a
	// key means the partner reported this run and its namespace is replaced
	// wholesale; absent partners keep their previous entries.
	Partners map[string][]models.ValidationSummary
}

// Merger folds per-run validation artifacts into persistent test summaries.
type Merger struct {
	coreNS string
	logger *zap.Logger
}

func NewMerger(coreNamespace string, logger *zap.Logger) *Merger {
	return &Merger{coreNS: coreNamespace, logger: logger.Named("merger")}
}

// Merge produces the new test summary for one version. The result is fully
// recomputed: overall status is the conjunction over every entry in every
// namespace, and tool versions are the maximum seen across entries.
func (m *Merger) Merge(in MergeInput) *models.TestSummary {
	merged := &models.TestSummary{
		RDFSha256: in.RDFSha256,
		Tests:     map[string][]models.ValidationSummary{},
	}

	if in.Previous != nil {
		if in.Previous.RDFSha256 != "" && in.Previous.RDFSha256 != in.RDFSha256 {
			m.logger.Info("descriptor changed since last summary, previous entries kept only where their namespace is silent",
				zap.String("resource_id", in.ResourceID),
				zap.String("version_id", in.VersionID))
		}
		for ns, entries := range in.Previous.Tests {
			merged.Tests[ns] = append([]models.ValidationSummary(nil), entries...)
		}
	}

	if len(in.Core) > 0 {
		merged.Tests[m.coreNS] = dedupEntries(in.Core)
	}

	for _, pid := range sortedKeys(in.Partners) {
		merged.Tests[pid] = dedupEntries(in.Partners[pid])
	}

	for ns, entries := range merged.Tests {
		if len(entries) == 0 {
			delete(merged.Tests, ns)
			continue
		}
		for i := range entries {
			entries[i].SourceName = ""
			m.bumpTools(merged, entries[i])
		}
	}

	merged.Recompute()
	return merged
}

// bumpTools raises the summary-level tool versions to the entry's, so the
// summary always reflects the newest tool that touched it.
func (m *Merger) bumpTools(ts *models.TestSummary, entry models.ValidationSummary) {
	ts.SpecVersion = maxVersion(ts.SpecVersion, entry.SpecVersion)
	ts.CoreVersion = maxVersion(ts.CoreVersion, entry.CoreVersion)
}

// dedupEntries drops entries whose identity key was already seen, keeping
// first-occurrence order. Older entries come first, so a re-reported result
// never shadows its original position.
func dedupEntries(entries []models.ValidationSummary) []models.ValidationSummary {
	seen := make(map[string]bool, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		key := e.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// maxVersion picks the higher of two version strings, comparing as semver
// where possible and lexically otherwise. Empty strings lose.
func maxVersion(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	va, vb := "v"+a, "v"+b
	if semver.IsValid(va) && semver.IsValid(vb) {
		if semver.Compare(va, vb) >= 0 {
			return a
		}
		return b
	}
	if a >= b {
		return a
	}
	return b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
