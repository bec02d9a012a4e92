package http

import (
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// OperationResponse is returned by every index-changing endpoint.
// Error is set when the operation rolled back.
type OperationResponse struct {
	*orchestrator.Result
	Error string `json:"error,omitempty"`
}

// ServicesRequest is the body of PUT /api/v1/tenants/:id/services.
type ServicesRequest struct {
	Services []tenant.Service `json:"services"`
}

// SearchRequest is the body of POST /api/v1/tenants/:id/search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// SearchResponse lists matches in descending score order.
type SearchResponse struct {
	TenantID string               `json:"tenant_id"`
	Matches  []orchestrator.Match `json:"matches"`
	Count    int                  `json:"count"`
}

// OperationsResponse lists journal entries.
type OperationsResponse struct {
	Operations []store.Operation `json:"operations"`
	Count      int               `json:"count"`
}

// FleetResyncRequest is the body of POST /api/v1/fleet/resync.
type FleetResyncRequest struct {
	TenantIDs   []string `json:"tenant_ids,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// FleetResyncResponse names the started workflow.
type FleetResyncResponse struct {
	WorkflowID string `json:"workflow_id"`
}
