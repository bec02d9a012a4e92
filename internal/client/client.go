// Package client is a Go client for the knowledged HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/fyrsmithlabs/knowledged/internal/http"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("knowledged: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls one knowledged daemon.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout. Setup and resync run the
// whole pipeline inside the request, so the default is generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// New creates a client for baseURL, e.g. http://localhost:8420.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	var out api.HealthResponse
	return c.do(ctx, http.MethodGet, "/health", nil, &out)
}

// Setup provisions snap. A rolled back setup returns both the result and
// an *APIError.
func (c *Client) Setup(ctx context.Context, snap tenant.Snapshot) (*orchestrator.Result, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/tenants", snap)
}

// UpdateConfig saves the agent configuration and re-indexes it.
func (c *Client) UpdateConfig(ctx context.Context, tenantID string, p tenant.Profile) (*orchestrator.Result, error) {
	return c.operation(ctx, http.MethodPut, tenantPath(tenantID, "config"), p)
}

// UpdateServices replaces the service rows and re-indexes them.
func (c *Client) UpdateServices(ctx context.Context, tenantID string, services []tenant.Service) (*orchestrator.Result, error) {
	return c.operation(ctx, http.MethodPut, tenantPath(tenantID, "services"), api.ServicesRequest{Services: services})
}

// Resync rebuilds the tenant's index.
func (c *Client) Resync(ctx context.Context, tenantID string) (*orchestrator.Result, error) {
	return c.operation(ctx, http.MethodPost, tenantPath(tenantID, "resync"), nil)
}

// Offboard removes the tenant.
func (c *Client) Offboard(ctx context.Context, tenantID string) (*orchestrator.Result, error) {
	return c.operation(ctx, http.MethodDelete, tenantPath(tenantID, ""), nil)
}

// Status reads the tenant's index status.
func (c *Client) Status(ctx context.Context, tenantID string) (*orchestrator.Status, error) {
	var st orchestrator.Status
	if err := c.do(ctx, http.MethodGet, tenantPath(tenantID, "status"), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Search queries the tenant's index.
func (c *Client) Search(ctx context.Context, tenantID, query string, topK int) ([]orchestrator.Match, error) {
	var out api.SearchResponse
	err := c.do(ctx, http.MethodPost, tenantPath(tenantID, "search"), api.SearchRequest{Query: query, TopK: topK}, &out)
	if err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// Operations lists up to limit journal entries, newest first.
func (c *Client) Operations(ctx context.Context, tenantID string, limit int) ([]store.Operation, error) {
	path := tenantPath(tenantID, "operations")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out api.OperationsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Operations, nil
}

// OperationHistory returns every transition journaled for one operation,
// oldest first.
func (c *Client) OperationHistory(ctx context.Context, operationID string) ([]store.Operation, error) {
	var out api.OperationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/operations/"+url.PathEscape(operationID), nil, &out); err != nil {
		return nil, err
	}
	return out.Operations, nil
}

// FleetResync starts the fleet workflow and returns its id.
func (c *Client) FleetResync(ctx context.Context, tenantIDs []string, concurrency int) (string, error) {
	var out api.FleetResyncResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/fleet/resync",
		api.FleetResyncRequest{TenantIDs: tenantIDs, Concurrency: concurrency}, &out)
	return out.WorkflowID, err
}

func tenantPath(tenantID, suffix string) string {
	p := "/api/v1/tenants/" + url.PathEscape(tenantID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// operation decodes an OperationResponse. The body of a 500 from a rolled
// back operation still carries the result.
func (c *Client) operation(ctx context.Context, method, path string, body any) (*orchestrator.Result, error) {
	var out api.OperationResponse
	err := c.do(ctx, method, path, body, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && out.Result != nil && out.Error != "" {
		apiErr.Message = out.Error
	}
	return out.Result, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var decodeErr error
	if out != nil && len(raw) > 0 {
		decodeErr = json.Unmarshal(raw, out)
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	return nil
}

// errorMessage extracts Echo's {"message": ...} body.
func errorMessage(raw []byte, fallback string) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return e.Message
	}
	return fallback
}
