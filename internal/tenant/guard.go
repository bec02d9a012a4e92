package tenant

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// ErrAccessDenied is returned when a container is not on a tenant's
// allow-list. It is never widened or retried.
var ErrAccessDenied = errors.New("access denied")

// AllowList resolves the statically configured containers for a tenant.
type AllowList interface {
	AllowedContainers(tenantID string) []string
}

// Guard enforces the per-tenant container allow-list. It must be
// consulted before any listing or extraction call.
type Guard struct {
	allow  AllowList
	logger *logging.Logger
}

// NewGuard creates a guard over allow.
func NewGuard(allow AllowList, logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Guard{allow: allow, logger: logger}
}

// AuthorizedContainers returns the containers tenantID may read.
//
// With requested empty, the whole allow-list is returned. Otherwise the
// result is [requested] when allow-listed and empty when not; denials are
// logged.
func (g *Guard) AuthorizedContainers(ctx context.Context, tenantID, requested string) []string {
	allowed := g.allow.AllowedContainers(tenantID)
	if requested == "" {
		return slices.Clone(allowed)
	}
	if slices.Contains(allowed, requested) {
		return []string{requested}
	}
	g.logger.Warn(ctx, "container access denied",
		zap.String("tenant_id", tenantID),
		zap.String("requested_container", requested),
	)
	return nil
}

// Authorize returns ErrAccessDenied unless containerID is allow-listed.
func (g *Guard) Authorize(ctx context.Context, tenantID, containerID string) error {
	if containerID == "" || len(g.AuthorizedContainers(ctx, tenantID, containerID)) == 0 {
		return fmt.Errorf("%w: tenant %s container %q", ErrAccessDenied, tenantID, containerID)
	}
	return nil
}
