package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// SourceResolver fetches and parses the upstream descriptor a version's
// source field points at. Implementations return a nil map (no error) when
// the source carries the descriptor inline.
type SourceResolver interface {
	Resolve(ctx context.Context, source any) (map[string]any, error)
}

// Deployer materializes per-version descriptors from resource records: the
// upstream descriptor is the base, record-level fields are overlaid on top,
// and registry bookkeeping moves under config.registry so it never collides
// with upstream keys.
type Deployer struct {
	store    *store.Store
	resolver SourceResolver
	baseURL  string
	logger   *zap.Logger
}

func NewDeployer(s *store.Store, resolver SourceResolver, baseURL string, logger *zap.Logger) *Deployer {
	return &Deployer{store: s, resolver: resolver, baseURL: baseURL, logger: logger.Named("deployer")}
}

// WriteDescriptors writes the descriptor for every listed accepted version of
// r into dist. A nil versionIDs writes all accepted versions. Blocked
// resources and non-accepted versions are skipped. It returns the version ids
// actually written.
func (d *Deployer) WriteDescriptors(ctx context.Context, r *models.Resource, dist string, versionIDs []string) ([]string, error) {
	if r.Status == models.StatusBlocked {
		return nil, nil
	}

	wanted := map[string]bool{}
	for _, id := range versionIDs {
		wanted[id] = true
	}

	var written []string
	for _, v := range r.Versions {
		if v.Status != models.StatusAccepted {
			continue
		}
		if versionIDs != nil && !wanted[v.VersionID] {
			continue
		}
		if err := d.writeDescriptor(ctx, r, v, dist); err != nil {
			return written, fmt.Errorf("descriptor %s/%s: %w", r.ID, v.VersionID, err)
		}
		written = append(written, v.VersionID)
	}
	return written, nil
}

func (d *Deployer) writeDescriptor(ctx context.Context, r *models.Resource, v models.Version, dist string) error {
	rdf, err := d.baseDescriptor(ctx, v)
	if err != nil {
		return err
	}

	// record fields win over whatever the upstream descriptor claims
	rdf["id"] = r.ID + "/" + v.VersionID
	rdf["type"] = r.Type
	if v.Name != "" {
		rdf["name"] = v.Name
	}
	rdf["rdf_source"] = fmt.Sprintf("%s/rdfs/%s/%s/rdf.yaml", d.baseURL, r.ID, v.VersionID)

	registry := map[string]any{
		"resource_id": r.ID,
		"version_id":  v.VersionID,
		"status":      string(v.Status),
		"created":     v.Created,
	}
	if v.VersionName != "" {
		registry["version_name"] = v.VersionName
	}
	if v.DOI != "" {
		registry["doi"] = v.DOI
	}
	if r.DOI != "" {
		registry["resource_doi"] = r.DOI
	}
	if len(r.Owners) > 0 {
		registry["owners"] = r.Owners
	}
	if r.Nickname != "" {
		registry["nickname"] = r.Nickname
	}
	if r.NicknameIcon != "" {
		registry["nickname_icon"] = r.NicknameIcon
	}

	config, _ := rdf["config"].(map[string]any)
	if config == nil {
		config = map[string]any{}
	}
	config["registry"] = registry
	rdf["config"] = config

	if err := d.store.SaveDescriptorTo(dist, r.ID, v.VersionID, rdf); err != nil {
		return err
	}
	d.logger.Debug("wrote descriptor",
		zap.String("resource_id", r.ID),
		zap.String("version_id", v.VersionID))
	return nil
}

// baseDescriptor resolves the version's source into the descriptor map the
// record fields are overlaid onto. Inline map sources are used directly;
// anything else goes through the resolver. An unresolvable source degrades to
// an empty base so the record's own fields still deploy.
func (d *Deployer) baseDescriptor(ctx context.Context, v models.Version) (map[string]any, error) {
	if inline, ok := v.Source.(map[string]any); ok {
		base := make(map[string]any, len(inline))
		for k, val := range inline {
			base[k] = val
		}
		return base, nil
	}
	if d.resolver == nil || v.Source == nil {
		return map[string]any{}, nil
	}
	base, err := d.resolver.Resolve(ctx, v.Source)
	if err != nil {
		d.logger.Warn("could not resolve descriptor source, deploying record fields only",
			zap.String("version_id", v.VersionID), zap.Error(err))
		return map[string]any{}, nil
	}
	if base == nil {
		base = map[string]any{}
	}
	return base, nil
}
