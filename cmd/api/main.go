package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/model-serve/internal/api"
	"github.com/yourorg/model-serve/internal/artifacts"
	"github.com/yourorg/model-serve/internal/config"
	"github.com/yourorg/model-serve/internal/device"
	"github.com/yourorg/model-serve/internal/inference"
	"github.com/yourorg/model-serve/internal/ledger"
	"github.com/yourorg/model-serve/internal/logging"
	"github.com/yourorg/model-serve/internal/metrics"
	"github.com/yourorg/model-serve/internal/presign"
	"github.com/yourorg/model-serve/internal/storage"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}

	zl := logging.New(cfg.LogLevel)
	defer zl.Sync()
	metrics.Init()

	s3c, err := storage.NewS3(ctx, storage.Options{
		Endpoint:       cfg.S3.Endpoint,
		ForcePathStyle: cfg.S3.ForcePathStyle,
		CallTimeout:    cfg.S3.CallTimeout,
		Logger:         zl,
	})
	if err != nil {
		zl.Fatal("s3 init", zap.Error(err))
	}

	var history api.SyncHistory
	cacheOpts := artifacts.Options{CompletionMarker: cfg.CompletionMarker, Logger: zl}
	if cfg.LedgerDir != "" {
		lg, err := ledger.Open(cfg.LedgerDir)
		if err != nil {
			zl.Fatal("ledger", zap.String("dir", cfg.LedgerDir), zap.Error(err))
		}
		defer lg.Close()
		cacheOpts.Recorder = lg
		history = lg
	}

	// Every artifact must be on disk before any engine is bound.
	cache := artifacts.New(s3c, cacheOpts)
	if _, err := cache.EnsureAllPresent(ctx, cfg.Bucket, cfg.Descriptors(), cfg.ForceDownload); err != nil {
		fields := []zap.Field{zap.String("bucket", cfg.Bucket), zap.Error(err)}
		var se *artifacts.SyncError
		if errors.As(err, &se) {
			fields = append(fields, zap.String("artifact", se.Artifact), zap.String("prefix", se.Prefix))
		}
		zl.Fatal("artifact sync failed, refusing to start", fields...)
	}

	dev := device.Resolve(device.Kind(cfg.Device), device.HostProbe{}, zl)
	svc := bindEngines(cfg, dev, zl)

	issuer := presign.NewIssuer(s3c, cfg.PresignTTL)
	handler := api.NewHandler(svc, issuer, cfg.UploadBucket, history, zl)

	gin.SetMode(gin.ReleaseMode)
	r := api.NewRouter(handler, zl)

	port := cfg.Port
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	zl.Info("server starting", zap.String("addr", port), zap.String("device", dev.String()))
	if err := r.Run(port); err != nil {
		zl.Fatal("server failed", zap.Error(err))
	}
}

func bindEngines(cfg *config.Config, dev device.Device, zl *zap.Logger) *inference.Service {
	rc := inference.RemoteConfig{BaseURL: cfg.InferenceURL, Timeout: cfg.InferenceTimeout, RetryMax: 2, Logger: zl}
	svc := inference.NewService(zl)
	svc.BindText(config.ModelSentiment, modelName(cfg.Sentiment.LocalPath), inference.RemoteText{
		RemoteEngine: inference.NewRemote(rc, inference.EngineSpec{Task: inference.TaskText, ModelDir: cfg.Sentiment.LocalPath, Device: dev.String()}),
	})
	svc.BindText(config.ModelDisaster, modelName(cfg.Disaster.LocalPath), inference.RemoteText{
		RemoteEngine: inference.NewRemote(rc, inference.EngineSpec{Task: inference.TaskText, ModelDir: cfg.Disaster.LocalPath, Device: dev.String()}),
	})
	svc.BindImage(config.ModelPose, modelName(cfg.Pose.LocalPath), inference.RemoteImage{
		RemoteEngine: inference.NewRemote(rc, inference.EngineSpec{
			Task: inference.TaskImage, ModelDir: cfg.Pose.LocalPath, Device: dev.String(), ImageProcessor: cfg.ImageProcessor,
		}),
	})
	return svc
}

// modelName is the artifact directory's own name, e.g. "tinybert-disaster-tweet".
func modelName(localPath string) string {
	return filepath.Base(filepath.Clean(localPath))
}
