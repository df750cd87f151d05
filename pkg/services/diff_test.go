package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/store"
)

var testTools = models.ToolVersions{SpecVersion: "0.4.9", CoreVersion: "0.5.11"}

type diffFixture struct {
	current  *store.Store
	snapshot *store.Store
	deployed string
}

func newDiffFixture(t *testing.T, partnerTestTypes map[string][]string) (*diffFixture, *DiffEngine) {
	t.Helper()
	f := &diffFixture{deployed: t.TempDir()}
	f.current = store.New(t.TempDir(), f.deployed, zap.NewNop())
	f.snapshot = store.New(t.TempDir(), f.deployed, zap.NewNop())
	engine := NewDiffEngine(f.current, f.snapshot, testTools, partnerTestTypes, zap.NewNop())
	return f, engine
}

func acceptedResource(id string, versionIDs ...string) *models.Resource {
	r := &models.Resource{ID: id, Status: models.StatusAccepted, Type: "model"}
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, vid := range versionIDs {
		r.Versions = append(r.Versions, models.Version{
			VersionID: vid,
			Status:    models.StatusAccepted,
			Created:   base.Add(-time.Duration(i) * time.Hour),
			Source:    "https://example.org/" + id + "/" + vid,
		})
	}
	return r
}

// deploy writes the descriptor and a merged summary so that, absent other
// differences, the version classifies as uptodate.
func (f *diffFixture) deploy(t *testing.T, resourceID, versionID string, tools models.ToolVersions, namespaces ...string) {
	t.Helper()
	require.NoError(t, f.current.SaveDescriptorTo(f.deployed, resourceID, versionID, map[string]any{"name": versionID}))

	ts := &models.TestSummary{
		Status:      models.SummaryPassed,
		SpecVersion: tools.SpecVersion,
		CoreVersion: tools.CoreVersion,
		Tests:       map[string][]models.ValidationSummary{},
	}
	for _, ns := range namespaces {
		ts.Tests[ns] = []models.ValidationSummary{{Name: "all good", Status: models.SummaryPassed}}
	}
	require.NoError(t, f.current.SaveTestSummaryTo(f.deployed, resourceID, versionID, ts))
}

func (f *diffFixture) known(t *testing.T, r *models.Resource) store.KnownResource {
	t.Helper()
	return store.KnownResource{Resource: *r, Path: f.current.ResourcePath(r.ID)}
}

func TestClassifyResourceChanged(t *testing.T) {
	f, engine := newDiffFixture(t, nil)

	old := acceptedResource("10.5072/zenodo.1", "v2", "v1")
	require.NoError(t, f.snapshot.SaveResource(old))

	current := acceptedResource("10.5072/zenodo.1", "v2", "v1")
	current.Owners = []string{"1234"}
	require.NoError(t, f.current.SaveResource(current))
	f.deploy(t, current.ID, "v1", testTools, "core")
	f.deploy(t, current.ID, "v2", testTools, "core")

	diff, err := engine.Classify(f.known(t, current))
	require.NoError(t, err)
	assert.Equal(t, models.ClassResourceChanged, diff.Classes["v1"])
	assert.Equal(t, models.ClassResourceChanged, diff.Classes["v2"])
	assert.NotEmpty(t, diff.Hash)
}

func TestClassifyMissingSnapshot(t *testing.T) {
	f, engine := newDiffFixture(t, nil)

	current := acceptedResource("10.5072/zenodo.1", "v1")
	require.NoError(t, f.current.SaveResource(current))

	diff, err := engine.Classify(f.known(t, current))
	require.NoError(t, err)
	assert.Equal(t, models.ClassResourceChanged, diff.Classes["v1"])
}

func TestClassifyVersionChanged(t *testing.T) {
	f, engine := newDiffFixture(t, nil)

	old := acceptedResource("10.5072/zenodo.1", "v2", "v1")
	require.NoError(t, f.snapshot.SaveResource(old))

	current := acceptedResource("10.5072/zenodo.1", "v2", "v1")
	current.Versions[0].Name = "renamed"
	require.NoError(t, f.current.SaveResource(current))
	f.deploy(t, current.ID, "v1", testTools, "core")
	f.deploy(t, current.ID, "v2", testTools, "core")

	diff, err := engine.Classify(f.known(t, current))
	require.NoError(t, err)
	assert.Equal(t, models.ClassVersionChanged, diff.Classes["v2"])
	assert.Equal(t, models.ClassUpToDate, diff.Classes["v1"])
}

func TestClassifyUndeployed(t *testing.T) {
	f, engine := newDiffFixture(t, nil)

	r := acceptedResource("10.5072/zenodo.1", "v2", "v1")
	require.NoError(t, f.snapshot.SaveResource(r))
	require.NoError(t, f.current.SaveResource(r))

	// v1 fully deployed, v2 only has a descriptor (a crashed run merged no
	// summary for it)
	f.deploy(t, r.ID, "v1", testTools, "core")
	require.NoError(t, f.current.SaveDescriptorTo(f.deployed, r.ID, "v2", map[string]any{"name": "v2"}))

	diff, err := engine.Classify(f.known(t, r))
	require.NoError(t, err)
	assert.Equal(t, models.ClassUndeployed, diff.Classes["v2"])
	assert.Equal(t, models.ClassUpToDate, diff.Classes["v1"])
}

func TestClassifyToolStale(t *testing.T) {
	f, engine := newDiffFixture(t, nil)

	r := acceptedResource("10.5072/zenodo.1", "v1")
	require.NoError(t, f.snapshot.SaveResource(r))
	require.NoError(t, f.current.SaveResource(r))
	f.deploy(t, r.ID, "v1", models.ToolVersions{SpecVersion: "0.4.9", CoreVersion: "0.5.10"}, "core")

	diff, err := engine.Classify(f.known(t, r))
	require.NoError(t, err)
	assert.Equal(t, models.ClassToolStale, diff.Classes["v1"])

	// after revalidation with the current tools the same record settles
	f.deploy(t, r.ID, "v1", testTools, "core")
	diff, err = engine.Classify(f.known(t, r))
	require.NoError(t, err)
	assert.Equal(t, models.ClassUpToDate, diff.Classes["v1"])
}

func TestClassifyPartnerGap(t *testing.T) {
	f, engine := newDiffFixture(t, map[string][]string{"ilastik": {"model"}})

	r := acceptedResource("10.5072/zenodo.1", "v1")
	require.NoError(t, f.snapshot.SaveResource(r))
	require.NoError(t, f.current.SaveResource(r))
	f.deploy(t, r.ID, "v1", testTools, "core")

	diff, err := engine.Classify(f.known(t, r))
	require.NoError(t, err)
	assert.Equal(t, models.ClassUpToDate, diff.Classes["v1"])
	assert.Equal(t, []string{"v1"}, diff.PartnerReeval["ilastik"])

	// once the partner namespace is present the gap closes
	f.deploy(t, r.ID, "v1", testTools, "core", "ilastik")
	diff, err = engine.Classify(f.known(t, r))
	require.NoError(t, err)
	assert.Empty(t, diff.PartnerReeval["ilastik"])
}

func TestClassifyPartnerGapIgnoresOtherTypes(t *testing.T) {
	f, engine := newDiffFixture(t, map[string][]string{"ilastik": {"model"}})

	r := acceptedResource("10.5072/zenodo.1", "v1")
	r.Type = "dataset"
	require.NoError(t, f.snapshot.SaveResource(r))
	require.NoError(t, f.current.SaveResource(r))
	f.deploy(t, r.ID, "v1", testTools, "core")

	diff, err := engine.Classify(f.known(t, r))
	require.NoError(t, err)
	assert.Empty(t, diff.PartnerReeval)
}

func TestClassifyPartnerResource(t *testing.T) {
	f, engine := newDiffFixture(t, nil)

	mirror := acceptedResource("partner/model-a", "latest")
	require.NoError(t, f.current.SavePartnerResourceTo(f.deployed, mirror))
	f.deploy(t, mirror.ID, "latest", testTools, "core")

	kr := store.KnownResource{Resource: *mirror, Partner: true}
	diff, err := engine.Classify(kr)
	require.NoError(t, err)
	assert.Equal(t, models.ClassUpToDate, diff.Classes["latest"])

	// a refreshed record that drifted from the deployed mirror redeploys
	changed := acceptedResource("partner/model-a", "latest")
	changed.Owners = []string{"partner-team"}
	diff, err = engine.Classify(store.KnownResource{Resource: *changed, Partner: true})
	require.NoError(t, err)
	assert.Equal(t, models.ClassResourceChanged, diff.Classes["latest"])
}
