// Package store provides typed accessors over the on-disk forest of
// resource, descriptor and test-summary records.
//
// Layout (the paths are the wire format shared with the deployment):
//
//	{collection}/{resource_id}/resource.yaml
//	{deployed}/rdfs/{resource_id}/{version_id}/rdf.yaml
//	{deployed}/rdfs/{resource_id}/{version_id}/test_summary.yaml
//	{deployed}/rdfs/{resource_id}/resource_hash.txt
//	{deployed}/partner_collection/{resource_id}/resource.yaml
//
// The store is the only shared mutable resource between runs; all writes go
// through write-then-rename so a crash never leaves partially-written YAML.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sciregistry/collection-engine/pkg/apperrors"
	"github.com/sciregistry/collection-engine/pkg/models"
)

const (
	resourceFile       = "resource.yaml"
	descriptorFile     = "rdf.yaml"
	testSummaryFile    = "test_summary.yaml"
	resourceHashFile   = "resource_hash.txt"
	partnerHashFile    = "collection_hash.txt"
	collectionJSONFile = "collection.json"

	rdfsDir    = "rdfs"
	partnerDir = "partner_collection"
)

// Store reads and writes one collection forest plus its deployed tree.
type Store struct {
	collectionDir string
	deployedDir   string

	// partnerOverlay, if set, shadows the deployed partner mirror with
	// freshly refreshed partner records written earlier in the same run.
	partnerOverlay string

	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPartnerOverlay makes KnownResources prefer partner records from dir
// over the deployed partner mirror.
func WithPartnerOverlay(dir string) Option {
	return func(s *Store) { s.partnerOverlay = dir }
}

// New creates a store over the given collection and deployed directories.
func New(collectionDir, deployedDir string, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		collectionDir: collectionDir,
		deployedDir:   deployedDir,
		logger:        logger.Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResourcePath returns the record path for a resource id.
func (s *Store) ResourcePath(resourceID string) string {
	return filepath.Join(s.collectionDir, filepath.FromSlash(resourceID), resourceFile)
}

// LoadResource loads and validates one resource record.
// Returns apperrors.ErrNotFound if no record exists and
// apperrors.ErrMalformedRecord if it cannot be parsed; validation failures
// propagate as invariant violations.
func (s *Store) LoadResource(resourceID string) (*models.Resource, error) {
	return readResource(s.ResourcePath(resourceID))
}

// SaveResource validates and persists a resource record canonically.
func (s *Store) SaveResource(r *models.Resource) error {
	return s.SaveResourceTo(s.collectionDir, r)
}

// SaveResourceTo persists a resource record below an alternative collection
// root (e.g. the dist tree or the partner mirror).
func (s *Store) SaveResourceTo(dir string, r *models.Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := MarshalCanonical(r)
	if err != nil {
		return fmt.Errorf("failed to serialize resource %s: %w", r.ID, err)
	}
	return writeFileAtomic(filepath.Join(dir, filepath.FromSlash(r.ID), resourceFile), data)
}

// ResourceHash fingerprints the resource-level fields of a record. The
// versions list is excluded; it is diffed per entry.
func ResourceHash(r *models.Resource) (string, error) {
	data, err := MarshalCanonical(r.WithoutVersions())
	if err != nil {
		return "", err
	}
	return SHA256Bytes(data), nil
}

// KnownResource is one record yielded by forest iteration.
type KnownResource struct {
	Resource models.Resource
	Path     string
	// Sha256 fingerprints the raw record file. Empty for partner entries.
	Sha256 string
	// Partner marks entries from the read-only partner mirror.
	Partner bool
}

// KnownResources iterates the partner mirror first, then the collection,
// each in path order. pattern limits iteration to one resource id ("" = all)
// and status filters resources by status ("" = all). Malformed records are
// skipped with a warning; they never abort the batch.
func (s *Store) KnownResources(pattern string, status models.Status) ([]KnownResource, error) {
	var out []KnownResource

	partnerRoot := filepath.Join(s.deployedDir, partnerDir)
	partnerPaths, err := findResourceFiles(partnerRoot, pattern)
	if err != nil {
		return nil, err
	}
	for _, p := range partnerPaths {
		if s.partnerOverlay != "" {
			rel, relErr := filepath.Rel(partnerRoot, p)
			if relErr == nil {
				if overlay := filepath.Join(s.partnerOverlay, rel); fileExists(overlay) {
					p = overlay
				}
			}
		}
		r, err := readResource(p)
		if err != nil {
			if errors.Is(err, apperrors.ErrMalformedRecord) {
				s.logger.Warn("skipping malformed partner record", zap.String("path", p), zap.Error(err))
				continue
			}
			return nil, err
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, KnownResource{Resource: *r, Path: p, Partner: true})
	}

	ownPaths, err := findResourceFiles(s.collectionDir, pattern)
	if err != nil {
		return nil, err
	}
	for _, p := range ownPaths {
		r, err := readResource(p)
		if err != nil {
			if errors.Is(err, apperrors.ErrMalformedRecord) {
				s.logger.Warn("skipping malformed resource record", zap.String("path", p), zap.Error(err))
				continue
			}
			return nil, err
		}
		if status != "" && r.Status != status {
			continue
		}
		sha, err := FileSHA256(p)
		if err != nil {
			return nil, err
		}
		out = append(out, KnownResource{Resource: *r, Path: p, Sha256: sha})
	}
	return out, nil
}

// DescriptorPath returns the deployed descriptor path for a version.
func (s *Store) DescriptorPath(resourceID, versionID string) string {
	return filepath.Join(s.deployedDir, rdfsDir, filepath.FromSlash(resourceID), filepath.FromSlash(versionID), descriptorFile)
}

// HasDescriptor reports whether a deployed descriptor exists.
func (s *Store) HasDescriptor(resourceID, versionID string) bool {
	return fileExists(s.DescriptorPath(resourceID, versionID))
}

// LoadDescriptor loads a deployed descriptor and its fingerprint.
func (s *Store) LoadDescriptor(resourceID, versionID string) (map[string]any, string, error) {
	p := s.DescriptorPath(resourceID, versionID)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("descriptor %s/%s: %w", resourceID, versionID, apperrors.ErrNotFound)
		}
		return nil, "", err
	}
	var rdf map[string]any
	if err := yaml.Unmarshal(data, &rdf); err != nil {
		return nil, "", fmt.Errorf("descriptor %s: %w: %v", p, apperrors.ErrMalformedRecord, err)
	}
	return rdf, SHA256Bytes(data), nil
}

// SaveDescriptorTo writes a descriptor below dist/rdfs.
func (s *Store) SaveDescriptorTo(dist, resourceID, versionID string, rdf map[string]any) error {
	data, err := MarshalCanonical(rdf)
	if err != nil {
		return fmt.Errorf("failed to serialize descriptor %s/%s: %w", resourceID, versionID, err)
	}
	return writeFileAtomic(filepath.Join(dist, rdfsDir, filepath.FromSlash(resourceID), filepath.FromSlash(versionID), descriptorFile), data)
}

// TestSummaryPath returns the deployed test summary path for a version.
func (s *Store) TestSummaryPath(resourceID, versionID string) string {
	return filepath.Join(s.deployedDir, rdfsDir, filepath.FromSlash(resourceID), filepath.FromSlash(versionID), testSummaryFile)
}

// HasTestSummary reports whether a merged test summary exists.
func (s *Store) HasTestSummary(resourceID, versionID string) bool {
	return fileExists(s.TestSummaryPath(resourceID, versionID))
}

// LoadTestSummary loads the persisted merged summary for a version.
func (s *Store) LoadTestSummary(resourceID, versionID string) (*models.TestSummary, error) {
	p := s.TestSummaryPath(resourceID, versionID)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("test summary %s/%s: %w", resourceID, versionID, apperrors.ErrNotFound)
		}
		return nil, err
	}
	var ts models.TestSummary
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("test summary %s: %w: %v", p, apperrors.ErrMalformedRecord, err)
	}
	return &ts, nil
}

// SaveTestSummaryTo writes a merged test summary below dist/rdfs.
func (s *Store) SaveTestSummaryTo(dist, resourceID, versionID string, ts *models.TestSummary) error {
	data, err := MarshalCanonical(ts)
	if err != nil {
		return fmt.Errorf("failed to serialize test summary %s/%s: %w", resourceID, versionID, err)
	}
	return writeFileAtomic(filepath.Join(dist, rdfsDir, filepath.FromSlash(resourceID), filepath.FromSlash(versionID), testSummaryFile), data)
}

// SaveCollectionManifestTo writes the aggregated collection manifest at the
// root of dist, as canonical YAML plus a JSON rendering for consumers
// without a YAML parser.
func (s *Store) SaveCollectionManifestTo(dist string, manifest map[string]any) error {
	data, err := MarshalCanonical(manifest)
	if err != nil {
		return fmt.Errorf("failed to serialize collection manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dist, descriptorFile), data); err != nil {
		return err
	}
	jsonData, err := json.MarshalIndent(jsonSafe(manifest), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize collection manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(dist, collectionJSONFile), append(jsonData, '\n'))
}

// jsonSafe rewrites a YAML-shaped value into one encoding/json accepts:
// interface-keyed maps get string keys, timestamps become RFC 3339 strings
// and non-finite floats are stringified.
func jsonSafe(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonSafe(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonSafe(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonSafe(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonSafe(val)
		}
		return out
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Sprint(t)
		}
		return t
	default:
		return v
	}
}

// LoadResourceHash reads the last-deployed resource fingerprint, or "" if
// none exists.
func (s *Store) LoadResourceHash(resourceID string) string {
	data, err := os.ReadFile(filepath.Join(s.deployedDir, rdfsDir, filepath.FromSlash(resourceID), resourceHashFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveResourceHashTo records the deployed resource fingerprint below
// dist/rdfs.
func (s *Store) SaveResourceHashTo(dist, resourceID, hash string) error {
	return writeFileAtomic(filepath.Join(dist, rdfsDir, filepath.FromSlash(resourceID), resourceHashFile), []byte(hash+"\n"))
}

// LoadPartnerHash reads the fingerprint of the partner's upstream collection
// at the time the mirror was last refreshed, or "" if never refreshed.
func (s *Store) LoadPartnerHash(partnerID string) string {
	data, err := os.ReadFile(filepath.Join(s.deployedDir, partnerDir, filepath.FromSlash(partnerID), partnerHashFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SavePartnerHashTo records a partner collection fingerprint below
// dist/partner_collection.
func (s *Store) SavePartnerHashTo(dist, partnerID, hash string) error {
	return writeFileAtomic(filepath.Join(dist, partnerDir, filepath.FromSlash(partnerID), partnerHashFile), []byte(hash+"\n"))
}

// SavePartnerResourceTo persists a refreshed partner record below
// dist/partner_collection.
func (s *Store) SavePartnerResourceTo(dist string, r *models.Resource) error {
	return s.SaveResourceTo(filepath.Join(dist, partnerDir), r)
}

// PartnerMirrorDir returns the partner mirror root below a collection or
// dist root.
func PartnerMirrorDir(root string) string {
	return filepath.Join(root, partnerDir)
}

// LoadPartnerResource loads a record from the deployed partner mirror,
// bypassing any overlay. This is the "previous" state of a partner resource.
func (s *Store) LoadPartnerResource(resourceID string) (*models.Resource, error) {
	return readResource(filepath.Join(s.deployedDir, partnerDir, filepath.FromSlash(resourceID), resourceFile))
}

// SetResourceStatus rewrites a record's status. This is the manual curation
// path: blocking and unblocking never happen automatically, and the usual
// record validation still applies (an accepted resource keeps needing an
// accepted version).
func (s *Store) SetResourceStatus(resourceID string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid status %q", apperrors.ErrInvariant, status)
	}
	r, err := s.LoadResource(resourceID)
	if err != nil {
		return err
	}
	if r.Status == status {
		return nil
	}
	r.Status = status
	if err := s.SaveResource(r); err != nil {
		return err
	}
	s.logger.Info("resource status changed",
		zap.String("resource_id", resourceID),
		zap.String("status", string(status)))
	return nil
}

// Nicknames collects every nickname in the collection regardless of status,
// so that unblocking a resource can never cause a nickname conflict.
func (s *Store) Nicknames() (map[string]bool, error) {
	paths, err := findResourceFiles(s.collectionDir, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, p := range paths {
		r, err := readResource(p)
		if err != nil {
			if errors.Is(err, apperrors.ErrMalformedRecord) || errors.Is(err, apperrors.ErrInvariant) {
				// nickname collection must not fail on records the run
				// itself would skip
				continue
			}
			return nil, err
		}
		if r.Nickname != "" {
			out[r.Nickname] = true
		}
	}
	return out, nil
}

func readResource(path string) (*models.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("resource record %s: %w", path, apperrors.ErrNotFound)
		}
		return nil, err
	}
	var r models.Resource
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("resource record %s: %w: %v", path, apperrors.ErrMalformedRecord, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("resource record %s: %w", path, err)
	}
	return &r, nil
}

// findResourceFiles returns every resource.yaml below root in path order.
// pattern narrows the walk to a single resource id.
func findResourceFiles(root, pattern string) ([]string, error) {
	if pattern != "" {
		p := filepath.Join(root, filepath.FromSlash(pattern), resourceFile)
		if fileExists(p) {
			return []string{p}, nil
		}
		return nil, nil
	}

	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() && d.Name() == resourceFile {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// writeFileAtomic writes data to path via a temp file and rename so that a
// crash never leaves a partially-written record.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
