package stages

import (
	"context"

	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/ci"
	"github.com/sciregistry/collection-engine/pkg/feed"
	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/services"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// Pending diffs the collection against the last successful run, redeploys
// descriptors for changed versions and emits the per-validator pending
// matrices.
func Pending(ctx context.Context, env Env) error {
	cfg := env.Cfg
	logger := env.logger("pending")

	current := store.New(cfg.CollectionDir, cfg.DeployedDir, logger,
		store.WithPartnerOverlay(store.PartnerMirrorDir(cfg.DistDir)))
	snapshot := store.New(cfg.LastRunDir, cfg.DeployedDir, logger)

	tools := models.ToolVersions{
		SpecVersion: cfg.Tools.SpecVersion,
		CoreVersion: cfg.Tools.CoreVersion,
	}
	engine := services.NewDiffEngine(current, snapshot, tools, cfg.PartnerTestTypes(), logger)

	client := feed.NewClient(cfg.Feed.URL, cfg.Feed.PageSize, cfg.Feed.MaxPages, logger)
	deployer := services.NewDeployer(current, client, cfg.DeployedBaseURL, logger)

	resources, err := current.KnownResources(cfg.ResourcePattern(), models.StatusAccepted)
	if err != nil {
		return err
	}

	var diffs []*services.ResourceDiff
	for _, kr := range resources {
		diff, err := engine.Classify(kr)
		if err != nil {
			return err
		}
		diffs = append(diffs, diff)

		var redeploy []string
		for versionID, class := range diff.Classes {
			if class.NeedsRedeploy() {
				redeploy = append(redeploy, versionID)
			}
		}
		if len(redeploy) > 0 {
			resource := kr.Resource
			if _, err := deployer.WriteDescriptors(ctx, &resource, cfg.DistDir, redeploy); err != nil {
				return err
			}
		}
		if err := current.SaveResourceHashTo(cfg.DistDir, kr.Resource.ID, diff.Hash); err != nil {
			return err
		}
	}

	set := services.NewPendingBuilder(cfg.Pending.Cap, env.partnerIDs(), logger).Build(diffs)

	logger.Info("pending stage done",
		zap.Int("resources", len(resources)),
		zap.Int("core_items", len(set.Core.Include)),
		zap.Bool("retrigger", set.Retrigger))

	if err := ci.WriteOutput(env.Out, "pending_matrix", set.Core); err != nil {
		return err
	}
	if err := ci.WriteOutput(env.Out, "has_pending_matrix", set.HasCorePending()); err != nil {
		return err
	}
	for _, pid := range env.partnerIDs() {
		matrix := set.Partners[pid]
		if err := ci.WriteOutput(env.Out, "pending_matrix_"+pid, matrix); err != nil {
			return err
		}
		if err := ci.WriteOutput(env.Out, "has_pending_matrix_"+pid, len(matrix.Include) > 0); err != nil {
			return err
		}
	}
	return ci.WriteOutput(env.Out, "retrigger", set.Retrigger)
}
