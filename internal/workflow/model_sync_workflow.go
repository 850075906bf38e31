package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yourorg/model-serve/internal/activities"
	"github.com/yourorg/model-serve/internal/artifacts"
	"github.com/yourorg/model-serve/internal/types"
)

// Name is the registered workflow type.
const Name = "ModelSyncWorkflow"

// ModelSyncWorkflow materializes each descriptor in order, one activity at a
// time, and stops at the first artifact that cannot be synced.
func ModelSyncWorkflow(ctx workflow.Context, p types.SyncParams) (types.SyncResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    1 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	out := types.SyncResult{Results: make([]artifacts.Result, 0, len(p.Descriptors))}
	for _, d := range p.Descriptors {
		ap := types.ArtifactParams{Bucket: p.Bucket, Descriptor: d, Force: p.Force}
		var res artifacts.Result
		if err := workflow.ExecuteActivity(ctx, activities.EnsureArtifactName, ap).Get(ctx, &res); err != nil {
			return out, fmt.Errorf("artifact %s (prefix %s): %w", d.Name, d.RemotePrefix, err)
		}
		out.Results = append(out.Results, res)
	}
	workflow.GetLogger(ctx).Info("model sync complete", "artifacts", len(out.Results))
	return out, nil
}
