package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Register adds the fleet workflow and acts to w.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflow(FleetResyncWorkflow)
	w.RegisterActivity(acts)
}

// StartFleetResync starts a fleet pass on taskQueue. The workflow id is
// derived from the minute, so repeated triggers within a minute join the
// same run instead of starting another.
func StartFleetResync(ctx context.Context, c client.Client, taskQueue string, in FleetResyncInput) (string, error) {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	opts := client.StartWorkflowOptions{
		ID:                       "fleet-resync-" + time.Now().UTC().Format("20060102T1504"),
		TaskQueue:                taskQueue,
		WorkflowExecutionTimeout: 6 * time.Hour,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, FleetResyncWorkflow, in)
	if err != nil {
		return "", fmt.Errorf("failed to start fleet resync: %w", err)
	}
	return run.GetID(), nil
}
