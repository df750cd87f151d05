package logging

import (
	"go.uber.org/zap"
)

// New builds the process-wide logger. The "local" environment gets the
// human-readable development config; everything else logs structured JSON.
func New(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
