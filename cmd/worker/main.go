package main

import (
	"context"
	"log"

	tactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	tworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/yourorg/model-serve/internal/activities"
	"github.com/yourorg/model-serve/internal/artifacts"
	"github.com/yourorg/model-serve/internal/config"
	"github.com/yourorg/model-serve/internal/ledger"
	"github.com/yourorg/model-serve/internal/logging"
	"github.com/yourorg/model-serve/internal/metrics"
	"github.com/yourorg/model-serve/internal/storage"
	"github.com/yourorg/model-serve/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config:", err)
	}

	zl := logging.New(cfg.LogLevel)
	defer zl.Sync()

	metrics.Init()
	go func() {
		addr := metrics.AddrFromEnv()
		if err := metrics.Serve(addr); err != nil {
			zl.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()

	s3c, err := storage.NewS3(context.Background(), storage.Options{
		Endpoint:       cfg.S3.Endpoint,
		ForcePathStyle: cfg.S3.ForcePathStyle,
		CallTimeout:    cfg.S3.CallTimeout,
		Logger:         zl,
	})
	if err != nil {
		zl.Fatal("s3 init", zap.Error(err))
	}

	cacheOpts := artifacts.Options{CompletionMarker: cfg.CompletionMarker, Logger: zl}
	if cfg.LedgerDir != "" {
		lg, err := ledger.Open(cfg.LedgerDir)
		if err != nil {
			zl.Fatal("ledger", zap.Error(err))
		}
		defer lg.Close()
		cacheOpts.Recorder = lg
	}

	c, err := client.Dial(client.Options{HostPort: cfg.Temporal.Address, Namespace: cfg.Temporal.Namespace})
	if err != nil {
		zl.Fatal("temporal client", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	acts := activities.New(activities.Config{}, artifacts.New(s3c, cacheOpts))
	w.RegisterActivityWithOptions(acts.EnsureArtifact, tactivity.RegisterOptions{Name: activities.EnsureArtifactName})
	w.RegisterWorkflowWithOptions(workflow.ModelSyncWorkflow, tworkflow.RegisterOptions{Name: workflow.Name})

	zl.Info("worker started",
		zap.String("namespace", cfg.Temporal.Namespace),
		zap.String("taskQueue", cfg.Temporal.TaskQueue),
		zap.String("bucket", cfg.Bucket))
	if err := w.Run(worker.InterruptCh()); err != nil {
		zl.Fatal("worker failed", zap.Error(err))
	}
}
