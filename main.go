package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sciregistry/collection-engine/pkg/config"
	"github.com/sciregistry/collection-engine/pkg/logging"
	"github.com/sciregistry/collection-engine/pkg/models"
	"github.com/sciregistry/collection-engine/pkg/stages"
	"github.com/sciregistry/collection-engine/pkg/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func usage() {
	fmt.Fprintln(os.Stderr, "usage: collection-engine <update|pending|merge|collection|set-status> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	env := stages.Env{
		Cfg:    cfg,
		Logger: logger,
		RunID:  uuid.NewString(),
		Out:    os.Stdout,
	}
	logger.Info("collection engine starting",
		zap.String("stage", os.Args[1]),
		zap.String("version", cfg.Version),
		zap.String("run_id", env.RunID))

	ctx := context.Background()
	switch os.Args[1] {
	case "update":
		err = stages.Update(ctx, env)
	case "pending":
		err = stages.Pending(ctx, env)
	case "merge":
		err = stages.Merge(ctx, env)
	case "collection":
		err = stages.Collection(ctx, env)
	case "set-status":
		err = runSetStatus(cfg, logger, os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		logger.Error("stage failed", zap.String("stage", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

// runSetStatus is the manual curation entrypoint: blocking and unblocking
// resources never happens automatically.
func runSetStatus(cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ExitOnError)
	resourceID := fs.String("resource", "", "resource id")
	status := fs.String("status", "", "new status (accepted, pending or blocked)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resourceID == "" || *status == "" {
		return fmt.Errorf("set-status requires -resource and -status")
	}

	s := store.New(cfg.CollectionDir, cfg.DeployedDir, logger)
	return s.SetResourceStatus(*resourceID, models.Status(*status))
}
