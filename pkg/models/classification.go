package models

import "encoding/json"

// Classification labels one known version relative to the snapshot of the
// previous successful run. Computed fresh each run, never persisted.
type Classification string

const (
	// ClassUpToDate means record, deployed descriptor, test summary and tool
	// versions all match; the version never resurfaces as pending work.
	ClassUpToDate Classification = "uptodate"

	// ClassResourceChanged means resource-level fields changed; every
	// accepted version must be redeployed because those fields are inherited
	// into each version's descriptor.
	ClassResourceChanged Classification = "resource_changed"

	// ClassVersionChanged means the version record differs from (or is
	// absent in) the snapshot.
	ClassVersionChanged Classification = "version_changed"

	// ClassToolStale means content is unchanged but the validator toolchain
	// moved on since the summary was written.
	ClassToolStale Classification = "tool_stale"

	// ClassUndeployed means no deployed descriptor and test summary pair
	// exists yet. This is also the recovery path for a crashed or
	// partially-completed previous run.
	ClassUndeployed Classification = "undeployed"
)

// NeedsRedeploy reports whether the version's descriptor must be rewritten
// and revalidated across every validator.
func (c Classification) NeedsRedeploy() bool {
	return c == ClassResourceChanged || c == ClassVersionChanged || c == ClassUndeployed
}

// WorkItem is one fully-specified unit of validation work for the external
// parallel task scheduler. PartnerID is empty for core-validator work.
type WorkItem struct {
	ResourceID string `json:"resource_id"`
	VersionID  string `json:"version_id"`
	PartnerID  string `json:"partner_id,omitempty"`
}

// PendingMatrix is the flat work list handed to the CI fan-out. Ordering in
// Include is the only ordering guarantee given to downstream consumers.
type PendingMatrix struct {
	Include []WorkItem `json:"include"`
}

// MarshalJSON renders a nil include list as an empty array; the matrix
// consumer rejects a null list.
func (m PendingMatrix) MarshalJSON() ([]byte, error) {
	items := m.Include
	if items == nil {
		items = []WorkItem{}
	}
	return json.Marshal(struct {
		Include []WorkItem `json:"include"`
	}{items})
}

// PendingSet is the authoritative output of the pending-set builder: one
// queue for the core validator, one per partner, plus the backpressure flag.
type PendingSet struct {
	Core     PendingMatrix
	Partners map[string]PendingMatrix

	// Retrigger signals that the backlog exceeded one run's capacity and the
	// orchestrator should schedule a follow-up run. Not an error.
	Retrigger bool
}

// HasCorePending reports whether the core validator has work.
func (p *PendingSet) HasCorePending() bool {
	return len(p.Core.Include) > 0
}

// HasPartnerPending reports whether any partner has work.
func (p *PendingSet) HasPartnerPending() bool {
	for _, m := range p.Partners {
		if len(m.Include) > 0 {
			return true
		}
	}
	return false
}
