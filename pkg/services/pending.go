package services

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/models"
)

// PendingBuilder flattens diff classifications into the authoritative work
// list consumed by the external parallel task scheduler.
type PendingBuilder struct {
	capacity   int
	partnerIDs []string
	logger     *zap.Logger
}

// NewPendingBuilder creates a builder with a soft cap of work items per
// validator queue per run.
func NewPendingBuilder(capacity int, partnerIDs []string, logger *zap.Logger) *PendingBuilder {
	ids := append([]string(nil), partnerIDs...)
	sort.Strings(ids)
	return &PendingBuilder{capacity: capacity, partnerIDs: ids, logger: logger.Named("pending")}
}

// Build produces the pending set from the diffs, in diff order (the caller
// iterates resources oldest-queued-first, so capping by resource order never
// starves long-pending items). Queues are capped at whole-resource
// granularity: a resource whose items would push any queue past the cap is
// left for the retriggered follow-up run instead of being truncated
// mid-resource. Only accepted versions become work items.
func (b *PendingBuilder) Build(diffs []*ResourceDiff) *models.PendingSet {
	set := &models.PendingSet{Partners: make(map[string]models.PendingMatrix, len(b.partnerIDs))}
	for _, pid := range b.partnerIDs {
		set.Partners[pid] = models.PendingMatrix{}
	}

	for _, diff := range diffs {
		core, partners := b.resourceItems(diff)

		if b.wouldExceed(set, core, partners) {
			set.Retrigger = true
			b.logger.Info("pending work exceeds per-run capacity, truncating",
				zap.String("resource_id", diff.Resource.ID),
				zap.Int("cap", b.capacity))
			break
		}

		set.Core.Include = append(set.Core.Include, core...)
		for pid, items := range partners {
			m := set.Partners[pid]
			m.Include = append(m.Include, items...)
			set.Partners[pid] = m
		}
	}
	return set
}

// resourceItems collects one resource's work items per queue, preserving the
// record's newest-first version order.
func (b *PendingBuilder) resourceItems(diff *ResourceDiff) ([]models.WorkItem, map[string][]models.WorkItem) {
	var core []models.WorkItem
	partners := map[string][]models.WorkItem{}

	for _, v := range diff.Resource.Versions {
		if v.Status != models.StatusAccepted {
			continue
		}
		switch class := diff.Classes[v.VersionID]; {
		case class.NeedsRedeploy():
			// the descriptor itself changed: full revalidation across every
			// validator
			item := models.WorkItem{ResourceID: diff.Resource.ID, VersionID: v.VersionID}
			core = append(core, item)
			for _, pid := range b.partnerIDs {
				item.PartnerID = pid
				partners[pid] = append(partners[pid], item)
			}
		case class == models.ClassToolStale:
			core = append(core, models.WorkItem{ResourceID: diff.Resource.ID, VersionID: v.VersionID})
		}
	}

	for _, pid := range b.partnerIDs {
		for _, versionID := range diff.PartnerReeval[pid] {
			partners[pid] = append(partners[pid], models.WorkItem{
				ResourceID: diff.Resource.ID,
				VersionID:  versionID,
				PartnerID:  pid,
			})
		}
	}
	return core, partners
}

// wouldExceed reports whether adding the resource's items would push any
// non-empty queue past the cap. A single resource larger than the cap is
// still admitted into empty queues so it cannot be starved forever.
func (b *PendingBuilder) wouldExceed(set *models.PendingSet, core []models.WorkItem, partners map[string][]models.WorkItem) bool {
	if n := len(set.Core.Include); n > 0 && n+len(core) > b.capacity {
		return true
	}
	for pid, items := range partners {
		if n := len(set.Partners[pid].Include); n > 0 && n+len(items) > b.capacity {
			return true
		}
	}
	return false
}
