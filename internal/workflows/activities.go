package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// ErrTypeTenantNotFound marks resyncs of tenants deleted after listing.
// Temporal does not retry them.
const ErrTypeTenantNotFound = "TenantNotFound"

// Resyncer is the orchestrator surface the activities call.
type Resyncer interface {
	Resync(ctx context.Context, tenantID string) (*orchestrator.Result, error)
}

// TenantLister lists tenants from the metadata store.
type TenantLister interface {
	ListTenants(ctx context.Context, activeOnly bool) ([]tenant.Config, error)
}

// Activities holds the dependencies of the fleet activities. Register a
// *Activities with the worker; its methods become the activities.
type Activities struct {
	Orchestrator Resyncer
	Tenants      TenantLister
}

// ResyncTenantInput names one tenant.
type ResyncTenantInput struct {
	TenantID string
}

// ResyncTenantOutput reports one tenant's resync.
type ResyncTenantOutput struct {
	TenantID    string
	OperationID string
	State       string
	VectorCount int
	Degraded    bool
	Warnings    []string
}

// ListActiveTenantsActivity returns the ids of active tenants in id order.
func (a *Activities) ListActiveTenantsActivity(ctx context.Context) ([]string, error) {
	start := time.Now()
	tenants, err := a.Tenants.ListTenants(ctx, true)
	recordActivity(ctx, "list_tenants", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	ids := make([]string, len(tenants))
	for i, t := range tenants {
		ids[i] = t.ID
	}
	return ids, nil
}

// ResyncTenantActivity rebuilds one tenant's index.
func (a *Activities) ResyncTenantActivity(ctx context.Context, in ResyncTenantInput) (*ResyncTenantOutput, error) {
	start := time.Now()
	res, err := a.Orchestrator.Resync(ctx, in.TenantID)
	recordActivity(ctx, "resync_tenant", start, err)
	if errors.Is(err, store.ErrNotFound) {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("tenant %s no longer exists", in.TenantID), ErrTypeTenantNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resync %s: %w", in.TenantID, err)
	}
	recordOutcome(ctx, string(res.State))
	return &ResyncTenantOutput{
		TenantID:    res.TenantID,
		OperationID: res.OperationID,
		State:       string(res.State),
		VectorCount: res.VectorCount,
		Degraded:    res.State == orchestrator.StateDegraded,
		Warnings:    res.Warnings,
	}, nil
}
