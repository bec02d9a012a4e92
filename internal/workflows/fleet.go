// Package workflows provides Temporal workflow definitions for scheduled
// index maintenance across every tenant.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the default queue the worker polls.
const TaskQueue = "knowledged-resync"

// FleetResyncInput configures one fleet pass.
type FleetResyncInput struct {
	// TenantIDs restricts the pass. Empty means every active tenant.
	TenantIDs []string
	// Concurrency bounds how many tenants resync at once. Default 4.
	Concurrency int
}

// FleetResyncResult summarizes a fleet pass.
type FleetResyncResult struct {
	Tenants  int
	Verified []string
	Degraded []string
	Failed   []string
	Errors   []string
}

// FleetResyncWorkflow resyncs every active tenant.
//
// Tenants are processed in windows of Concurrency. A tenant whose
// activity still fails after retries is recorded and the pass moves on;
// only a failure to list tenants fails the workflow.
func FleetResyncWorkflow(ctx workflow.Context, in FleetResyncInput) (*FleetResyncResult, error) {
	logger := workflow.GetLogger(ctx)
	result := &FleetResyncResult{}

	listCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	resyncCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        10 * time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeTenantNotFound},
		},
	})

	var a *Activities
	tenants := in.TenantIDs
	if len(tenants) == 0 {
		if err := workflow.ExecuteActivity(listCtx, a.ListActiveTenantsActivity).Get(ctx, &tenants); err != nil {
			result.Errors = append(result.Errors, formatError("failed to list tenants", err))
			return result, fmt.Errorf("failed to list tenants: %w", err)
		}
	}
	result.Tenants = len(tenants)
	logger.Info("Starting fleet resync", "tenants", len(tenants))

	window := in.Concurrency
	if window < 1 {
		window = 4
	}
	for start := 0; start < len(tenants); start += window {
		batch := tenants[start:min(start+window, len(tenants))]
		futures := make([]workflow.Future, len(batch))
		for i, id := range batch {
			futures[i] = workflow.ExecuteActivity(resyncCtx, a.ResyncTenantActivity, ResyncTenantInput{TenantID: id})
		}
		for i, f := range futures {
			id := batch[i]
			var out ResyncTenantOutput
			if err := f.Get(ctx, &out); err != nil {
				logger.Error("Tenant resync failed", "tenant", id, "error", err)
				result.Failed = append(result.Failed, id)
				result.Errors = append(result.Errors, formatError("failed to resync "+id, err))
				continue
			}
			if out.Degraded {
				result.Degraded = append(result.Degraded, id)
			} else {
				result.Verified = append(result.Verified, id)
			}
		}
	}

	logger.Info("Fleet resync complete",
		"verified", len(result.Verified),
		"degraded", len(result.Degraded),
		"failed", len(result.Failed))
	return result, nil
}

func formatError(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}
