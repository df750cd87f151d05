package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/ci"
	"github.com/sciregistry/collection-engine/pkg/feed"
	"github.com/sciregistry/collection-engine/pkg/logging"
	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/services"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// Update ingests the upstream feed into resource records and refreshes the
// partner mirrors. It reports the touched resources as an include matrix so
// the orchestrator can open one auto-update branch per resource.
func Update(ctx context.Context, env Env) error {
	cfg := env.Cfg
	logger := env.logger("update")

	s := store.New(cfg.CollectionDir, cfg.DeployedDir, logger)
	client := feed.NewClient(cfg.Feed.URL, cfg.Feed.PageSize, cfg.Feed.MaxPages, logger)

	known, err := s.Nicknames()
	if err != nil {
		return err
	}
	registry, err := services.NewNicknameRegistry(known, nil)
	if err != nil {
		return err
	}
	reconciler := services.NewReconciler(s, registry, models.Status(cfg.Ingest.DefaultStatus), logger)

	hits, err := client.ListNewVersions(ctx, cfg.Feed.Keyword)
	if err != nil {
		return err
	}

	updated := models.PendingMatrix{}
	touched := map[string]bool{}
	foundNew := false
	for _, hit := range hits {
		if len(touched) >= cfg.Ingest.MaxResourceCount && !touched[hit.ResourceID] {
			logger.Warn("updated-resource cap reached, deferring remaining feed hits",
				zap.Int("cap", cfg.Ingest.MaxResourceCount))
			break
		}

		_, outcome, err := reconciler.Reconcile(services.NewVersion{
			ResourceID:   hit.ResourceID,
			ResourceDOI:  hit.ResourceDOI,
			ResourceType: hit.Type,
			Version: models.Version{
				VersionID:   hit.VersionID,
				VersionName: hit.VersionName,
				Name:        hit.Name,
				Created:     hit.Created,
				DOI:         hit.DOI,
				Source:      hit.Source,
				Maintainers: hit.Maintainers,
				Owners:      hit.Owners,
				Note:        hit.Note,
			},
			SuggestedNickname: hit.Nickname,
		})
		if err != nil {
			return err
		}

		switch outcome {
		case services.OutcomeCreated:
			foundNew = true
			fallthrough
		case services.OutcomeUpdated:
			if !touched[hit.ResourceID] {
				touched[hit.ResourceID] = true
				updated.Include = append(updated.Include, models.WorkItem{
					ResourceID: hit.ResourceID,
					VersionID:  hit.VersionID,
				})
			}
		}
	}

	if err := refreshPartnerMirrors(ctx, env, s, client, logger); err != nil {
		return err
	}

	logger.Info("update stage done",
		zap.Int("feed_hits", len(hits)),
		zap.Int("updated_resources", len(updated.Include)),
		zap.Bool("found_new_resources", foundNew))

	if err := ci.WriteOutput(env.Out, "updated_resources_matrix", updated); err != nil {
		return err
	}
	if err := ci.WriteOutput(env.Out, "has_updated_resources", len(updated.Include) > 0); err != nil {
		return err
	}
	return ci.WriteOutput(env.Out, "found_new_resources", foundNew)
}

// refreshPartnerMirrors re-fetches every partner collection whose upstream
// document changed and rewrites its mirror below dist. A partner being down
// degrades that partner to its deployed mirror instead of failing the run.
func refreshPartnerMirrors(ctx context.Context, env Env, s *store.Store, client *feed.Client, logger *zap.Logger) error {
	cfg := env.Cfg
	for _, partner := range cfg.Partners {
		pc, changed, err := client.FetchPartnerCollection(ctx, partner.ID, partner.URL, s.LoadPartnerHash(partner.ID))
		if err != nil {
			logger.Warn("keeping deployed partner mirror",
				zap.String("partner_id", partner.ID),
				zap.String("url", logging.SanitizeURL(partner.URL)),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}
		if !changed {
			continue
		}
		for _, r := range pc.Resources {
			if err := s.SavePartnerResourceTo(cfg.DistDir, r); err != nil {
				return err
			}
		}
		if err := s.SavePartnerHashTo(cfg.DistDir, partner.ID, pc.Hash); err != nil {
			return err
		}
	}
	return nil
}
