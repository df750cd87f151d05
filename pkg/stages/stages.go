// Package stages implements the three batch entrypoints the CI pipeline
// runs: update (ingest upstream feeds), pending (diff and queue validation
// work) and merge (fold validation artifacts into test summaries).
//
// Every stage writes its results into the dist tree; the orchestrator merges
// dist into the deployed branch only when the whole stage succeeded. Stage
// results for the orchestrator itself go out as step outputs on Out.
package stages

import (
	"io"

	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/config"
)

// Env carries the per-run wiring shared by all stages.
type Env struct {
	Cfg    *config.Config
	Logger *zap.Logger

	// RunID tags every log line of one stage invocation.
	RunID string

	// Out receives workflow step outputs (normally stdout).
	Out io.Writer
}

func (e Env) logger(stage string) *zap.Logger {
	return e.Logger.Named(stage).With(zap.String("run_id", e.RunID))
}

func (e Env) partnerIDs() []string {
	ids := make([]string, 0, len(e.Cfg.Partners))
	for _, p := range e.Cfg.Partners {
		ids = append(ids, p.ID)
	}
	return ids
}
