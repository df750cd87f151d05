package models

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/sciregistry/collection-engine/pkg/apperrors"
)

// Status is the curation state of a resource or one of its versions.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusPending  Status = "pending"
	StatusBlocked  Status = "blocked"
)

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	switch s {
	case StatusAccepted, StatusPending, StatusBlocked:
		return true
	}
	return false
}

// SourceUnknown marks a version whose descriptor could not be located
// upstream. Unknown sources never participate in identity matching.
const SourceUnknown = "unknown"

// Version is one immutable-once-validated snapshot of a resource.
//
// Source references the version's descriptor: a URL string, a local path, or
// an inline descriptor mapping (partner collections inline the descriptor
// directly into the record).
type Version struct {
	VersionID   string    `yaml:"version_id"`
	VersionName string    `yaml:"version_name,omitempty"`
	Name        string    `yaml:"name,omitempty"`
	Status      Status    `yaml:"status"`
	Created     time.Time `yaml:"created"`
	DOI         string    `yaml:"doi,omitempty"`
	Source      any       `yaml:"source,omitempty"`
	Maintainers []string  `yaml:"maintainers,omitempty"`

	// Owners is promoted to the resource record on ingestion; it is only
	// populated on versions arriving from feeds.
	Owners []string `yaml:"owners,omitempty"`

	// Note explains a degraded ingestion (e.g. unparseable upstream
	// descriptor). The version is still recorded so that one bad upstream
	// item never blocks the rest of the batch.
	Note string `yaml:"note,omitempty"`
}

// SameIdentity reports whether v and other refer to the same upstream item:
// equal version_id, or equal non-trivial source references.
func (v Version) SameIdentity(other Version) bool {
	if v.VersionID != "" && v.VersionID == other.VersionID {
		return true
	}
	if v.Source == nil || other.Source == nil {
		return false
	}
	if s, ok := v.Source.(string); ok && (s == "" || s == SourceUnknown) {
		return false
	}
	return reflect.DeepEqual(v.Source, other.Source)
}

// Equal reports deep equality of two version records.
func (v Version) Equal(other Version) bool {
	return v.VersionID == other.VersionID &&
		v.VersionName == other.VersionName &&
		v.Name == other.Name &&
		v.Status == other.Status &&
		v.Created.Equal(other.Created) &&
		v.DOI == other.DOI &&
		v.Note == other.Note &&
		slices.Equal(v.Maintainers, other.Maintainers) &&
		slices.Equal(v.Owners, other.Owners) &&
		reflect.DeepEqual(v.Source, other.Source)
}

// Resource is a concept-level catalog entry holding multiple versions,
// newest first.
type Resource struct {
	ID           string    `yaml:"id"`
	Status       Status    `yaml:"status"`
	Type         string    `yaml:"type"`
	DOI          string    `yaml:"doi,omitempty"`
	Nickname     string    `yaml:"nickname,omitempty"`
	NicknameIcon string    `yaml:"nickname_icon,omitempty"`
	Owners       []string  `yaml:"owners,omitempty"`
	Versions     []Version `yaml:"versions"`
}

// Validate checks the record-level invariants. A violation means the state
// machine itself is corrupt; callers must stop the run rather than write
// further bad state.
func (r *Resource) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: resource without id", apperrors.ErrInvariant)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: resource %s has status %q", apperrors.ErrInvariant, r.ID, r.Status)
	}
	if r.Status != StatusBlocked && len(r.Versions) == 0 {
		return fmt.Errorf("%w: expected at least one version for %s resource %s", apperrors.ErrInvariant, r.Status, r.ID)
	}
	seen := make(map[string]bool, len(r.Versions))
	for _, v := range r.Versions {
		if v.VersionID == "" {
			return fmt.Errorf("%w: resource %s has a version without version_id", apperrors.ErrInvariant, r.ID)
		}
		if !v.Status.Valid() {
			return fmt.Errorf("%w: version %s/%s has status %q", apperrors.ErrInvariant, r.ID, v.VersionID, v.Status)
		}
		if seen[v.VersionID] {
			return fmt.Errorf("%w: duplicate version %s in resource %s", apperrors.ErrInvariant, v.VersionID, r.ID)
		}
		seen[v.VersionID] = true
	}
	if r.Status == StatusAccepted && !slices.ContainsFunc(r.Versions, func(v Version) bool {
		return v.Status == StatusAccepted
	}) {
		return fmt.Errorf("%w: accepted resource %s has no accepted version", apperrors.ErrInvariant, r.ID)
	}
	return nil
}

// FindVersion returns the version with the given id, or nil.
func (r *Resource) FindVersion(versionID string) *Version {
	for i := range r.Versions {
		if r.Versions[i].VersionID == versionID {
			return &r.Versions[i]
		}
	}
	return nil
}

// SortVersions orders versions newest first by creation time. Upstream feeds
// are not guaranteed to arrive in order.
func (r *Resource) SortVersions() {
	slices.SortStableFunc(r.Versions, func(a, b Version) int {
		return b.Created.Compare(a.Created)
	})
}

// WithoutVersions returns a shallow copy with the versions list removed,
// used to fingerprint resource-level fields independently of per-version
// state.
func (r *Resource) WithoutVersions() Resource {
	c := *r
	c.Versions = nil
	return c
}
