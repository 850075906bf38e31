package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yourorg/model-serve/internal/artifacts"
	"github.com/yourorg/model-serve/internal/storage"
	"github.com/yourorg/model-serve/internal/types"
)

// Registered activity names; must match workflow.ExecuteActivity calls.
const EnsureArtifactName = "Activities.EnsureArtifact"

// Ensurer is satisfied by *artifacts.Cache.
type Ensurer interface {
	EnsurePresent(ctx context.Context, bucket string, d artifacts.Descriptor, force bool) (artifacts.Result, error)
}

type Config struct {
	// HeartbeatEvery is how often a running download reports liveness.
	HeartbeatEvery time.Duration
}

type Activities struct {
	cfg   Config
	cache Ensurer
}

func New(cfg Config, cache Ensurer) *Activities {
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 10 * time.Second
	}
	return &Activities{cfg: cfg, cache: cache}
}

// EnsureArtifact materializes one artifact on the worker's filesystem.
// A prefix with no objects is not retried.
func (a *Activities) EnsureArtifact(ctx context.Context, p types.ArtifactParams) (artifacts.Result, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("ensuring artifact", "artifact", p.Descriptor.Name, "prefix", p.Descriptor.RemotePrefix, "force", p.Force)

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(a.cfg.HeartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx, p.Descriptor.Name)
			}
		}
	}()

	res, err := a.cache.EnsurePresent(ctx, p.Bucket, p.Descriptor, p.Force)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyPrefix) || storage.IsNotFound(err) {
			return res, temporal.NewNonRetryableApplicationError(err.Error(), "ArtifactMissing", err)
		}
		return res, err
	}
	logger.Info("artifact ready", "artifact", p.Descriptor.Name, "downloaded", res.Downloaded, "objects", res.Objects)
	return res, nil
}
