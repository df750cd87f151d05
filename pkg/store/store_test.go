package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/apperrors"
	"github.com/sciregistry/collection-engine/pkg/models"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	collection := t.TempDir()
	deployed := t.TempDir()
	return New(collection, deployed, zap.NewNop()), collection, deployed
}

func testResource(id string) *models.Resource {
	return &models.Resource{
		ID:     id,
		Status: models.StatusAccepted,
		Type:   "model",
		Versions: []models.Version{
			{
				VersionID: "v1",
				Status:    models.StatusAccepted,
				Created:   time.Date(2022, 6, 1, 10, 30, 0, 0, time.UTC),
				Source:    "https://example.org/v1/rdf.yaml",
			},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _, _ := newTestStore(t)
	r := testResource("10.5281/zenodo.1000")

	require.NoError(t, s.SaveResource(r))

	got, err := s.LoadResource("10.5281/zenodo.1000")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Status, got.Status)
	require.Len(t, got.Versions, 1)
	assert.True(t, r.Versions[0].Equal(got.Versions[0]))
}

func TestSaveIsByteStable(t *testing.T) {
	s, collection, _ := newTestStore(t)
	r := testResource("r1")

	require.NoError(t, s.SaveResource(r))
	first, err := os.ReadFile(filepath.Join(collection, "r1", "resource.yaml"))
	require.NoError(t, err)

	// load and save again without modification: bytes must not move
	loaded, err := s.LoadResource("r1")
	require.NoError(t, err)
	require.NoError(t, s.SaveResource(loaded))

	second, err := os.ReadFile(filepath.Join(collection, "r1", "resource.yaml"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadResourceNotFound(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.LoadResource("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLoadResourceMalformed(t *testing.T) {
	s, collection, _ := newTestStore(t)
	dir := filepath.Join(collection, "bad")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resource.yaml"), []byte(":\tnot yaml ["), 0o644))

	_, err := s.LoadResource("bad")
	assert.ErrorIs(t, err, apperrors.ErrMalformedRecord)
}

func TestLoadResourceInvariantViolation(t *testing.T) {
	s, collection, _ := newTestStore(t)
	dir := filepath.Join(collection, "corrupt")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// parses fine, but the status is outside the state machine
	record := "id: corrupt\nstatus: deleted\ntype: model\nversions:\n  - version_id: v1\n    status: accepted\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resource.yaml"), []byte(record), 0o644))

	_, err := s.LoadResource("corrupt")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvariant)
	assert.False(t, errors.Is(err, apperrors.ErrMalformedRecord))
}

func TestKnownResourcesSkipsMalformed(t *testing.T) {
	s, collection, _ := newTestStore(t)
	require.NoError(t, s.SaveResource(testResource("a")))
	require.NoError(t, s.SaveResource(testResource("b")))

	dir := filepath.Join(collection, "aa")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resource.yaml"), []byte("["), 0o644))

	known, err := s.KnownResources("", models.StatusAccepted)
	require.NoError(t, err)
	require.Len(t, known, 2)
	assert.Equal(t, "a", known[0].Resource.ID)
	assert.Equal(t, "b", known[1].Resource.ID)
	assert.NotEmpty(t, known[0].Sha256)
}

func TestKnownResourcesPartnerMirrorFirst(t *testing.T) {
	s, _, deployed := newTestStore(t)
	require.NoError(t, s.SaveResource(testResource("zz")))

	partner := testResource("partner-x/unet")
	require.NoError(t, s.SaveResourceTo(filepath.Join(deployed, "partner_collection"), partner))

	known, err := s.KnownResources("", "")
	require.NoError(t, err)
	require.Len(t, known, 2)
	assert.True(t, known[0].Partner)
	assert.Equal(t, "partner-x/unet", known[0].Resource.ID)
	assert.Empty(t, known[0].Sha256)
	assert.False(t, known[1].Partner)
}

func TestKnownResourcesPattern(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.SaveResource(testResource("a")))
	require.NoError(t, s.SaveResource(testResource("b")))

	known, err := s.KnownResources("b", "")
	require.NoError(t, err)
	require.Len(t, known, 1)
	assert.Equal(t, "b", known[0].Resource.ID)
}

func TestPartnerOverlay(t *testing.T) {
	collection := t.TempDir()
	deployed := t.TempDir()
	overlay := t.TempDir()
	s := New(collection, deployed, zap.NewNop(), WithPartnerOverlay(overlay))

	stale := testResource("partner-x/unet")
	stale.Versions[0].Name = "stale"
	require.NoError(t, s.SaveResourceTo(filepath.Join(deployed, "partner_collection"), stale))

	fresh := testResource("partner-x/unet")
	fresh.Versions[0].Name = "fresh"
	require.NoError(t, s.SaveResourceTo(overlay, fresh))

	known, err := s.KnownResources("", "")
	require.NoError(t, err)
	require.Len(t, known, 1)
	assert.Equal(t, "fresh", known[0].Resource.Versions[0].Name)
}

func TestDescriptorAndSummaryAccessors(t *testing.T) {
	s, _, deployed := newTestStore(t)

	assert.False(t, s.HasDescriptor("r", "v"))
	_, _, err := s.LoadDescriptor("r", "v")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	rdf := map[string]any{"id": "r/v", "name": "unet", "type": "model"}
	require.NoError(t, s.SaveDescriptorTo(deployed, "r", "v", rdf))
	assert.True(t, s.HasDescriptor("r", "v"))

	got, sha, err := s.LoadDescriptor("r", "v")
	require.NoError(t, err)
	assert.Equal(t, "r/v", got["id"])
	assert.NotEmpty(t, sha)

	ts := &models.TestSummary{
		RDFSha256: sha,
		Status:    models.SummaryPassed,
		Tests:     map[string][]models.ValidationSummary{"core": {{Name: "static", Status: models.SummaryPassed}}},
	}
	require.NoError(t, s.SaveTestSummaryTo(deployed, "r", "v", ts))
	assert.True(t, s.HasTestSummary("r", "v"))

	gotTS, err := s.LoadTestSummary("r", "v")
	require.NoError(t, err)
	assert.Equal(t, sha, gotTS.RDFSha256)
	assert.Len(t, gotTS.Tests["core"], 1)
}

func TestResourceHashIgnoresVersions(t *testing.T) {
	a := testResource("r")
	b := testResource("r")
	b.Versions = append(b.Versions, models.Version{VersionID: "v2", Status: models.StatusPending, Created: time.Now()})

	ha, err := ResourceHash(a)
	require.NoError(t, err)
	hb, err := ResourceHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "version list must not affect the resource fingerprint")

	b.Nickname = "affable-axolotl"
	hb, err = ResourceHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb, "resource-level fields must affect the fingerprint")
}

func TestResourceAndPartnerHashFiles(t *testing.T) {
	s, _, deployed := newTestStore(t)

	assert.Empty(t, s.LoadResourceHash("r"))
	require.NoError(t, s.SaveResourceHashTo(deployed, "r", "abc123"))
	assert.Equal(t, "abc123", s.LoadResourceHash("r"))

	assert.Empty(t, s.LoadPartnerHash("partner-x"))
	require.NoError(t, s.SavePartnerHashTo(deployed, "partner-x", "def456"))
	assert.Equal(t, "def456", s.LoadPartnerHash("partner-x"))
}

func TestSetResourceStatus(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.NoError(t, s.SaveResource(testResource("r1")))

	require.NoError(t, s.SetResourceStatus("r1", models.StatusBlocked))
	got, err := s.LoadResource("r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, got.Status)

	// unblocking back to accepted works because an accepted version exists
	require.NoError(t, s.SetResourceStatus("r1", models.StatusAccepted))

	err = s.SetResourceStatus("r1", "deleted")
	assert.ErrorIs(t, err, apperrors.ErrInvariant)

	err = s.SetResourceStatus("missing", models.StatusBlocked)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSetResourceStatusKeepsValidation(t *testing.T) {
	s, _, _ := newTestStore(t)
	r := testResource("r1")
	r.Status = models.StatusPending
	r.Versions[0].Status = models.StatusPending
	require.NoError(t, s.SaveResource(r))

	// accepting a resource without any accepted version stays rejected
	err := s.SetResourceStatus("r1", models.StatusAccepted)
	assert.ErrorIs(t, err, apperrors.ErrInvariant)
}

func TestNicknames(t *testing.T) {
	s, _, _ := newTestStore(t)

	named := testResource("m1")
	named.Nickname = "hungry-hedgehog"
	require.NoError(t, s.SaveResource(named))

	blocked := testResource("m2")
	blocked.Status = models.StatusBlocked
	blocked.Nickname = "sleepy-sloth"
	require.NoError(t, s.SaveResource(blocked))

	require.NoError(t, s.SaveResource(testResource("m3")))

	nicks, err := s.Nicknames()
	require.NoError(t, err)
	assert.True(t, nicks["hungry-hedgehog"])
	assert.True(t, nicks["sleepy-sloth"], "blocked resources still reserve their nickname")
	assert.Len(t, nicks, 2)
}

func TestSaveCollectionManifest(t *testing.T) {
	s, _, _ := newTestStore(t)
	dist := t.TempDir()

	manifest := map[string]any{
		"name": "test registry",
		"collection": []map[string]any{{
			"id":       "10.5072/zenodo.1",
			"created":  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			"versions": []string{"v1"},
		}},
		"config": map[string]any{
			// interface-keyed maps come out of YAML round trips
			"partners": map[any]any{"ilastik": map[any]any{"id": "ilastik"}},
		},
	}
	require.NoError(t, s.SaveCollectionManifestTo(dist, manifest))

	yamlData, err := os.ReadFile(filepath.Join(dist, "rdf.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(yamlData), "name: test registry")

	jsonData, err := os.ReadFile(filepath.Join(dist, "collection.json"))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(jsonData, &decoded))
	assert.Equal(t, "test registry", decoded["name"])
	entries, ok := decoded["collection"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-03-01T12:00:00Z", entries[0].(map[string]any)["created"])
}
