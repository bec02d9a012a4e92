package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
	"github.com/fyrsmithlabs/knowledged/internal/workflows"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSetup provisions the tenant in the body.
func (s *Server) handleSetup(c echo.Context) error {
	var snap tenant.Snapshot
	if err := c.Bind(&snap); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid setup request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if snap.Config.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "config.id is required")
	}
	res, err := s.svc.Setup(c.Request().Context(), orchestrator.SetupInput{Snapshot: snap})
	return s.respond(c, res, err)
}

// handleUpdateConfig saves the agent configuration row and re-indexes the
// config section.
func (s *Server) handleUpdateConfig(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	var p tenant.Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	if err := s.rows.SaveProfile(ctx, id, p); err != nil {
		return s.storeError(c, "saving agent config", err)
	}
	res, err := s.svc.UpdateAgentConfig(ctx, id)
	return s.respond(c, res, err)
}

// handleUpdateServices replaces the service rows and re-indexes the
// services section.
func (s *Server) handleUpdateServices(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	var req ServicesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	if err := s.rows.SaveServices(ctx, id, req.Services); err != nil {
		return s.storeError(c, "saving services", err)
	}
	res, err := s.svc.UpdateServicesConfig(ctx, id)
	return s.respond(c, res, err)
}

func (s *Server) handleResync(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	res, err := s.svc.Resync(c.Request().Context(), id)
	return s.respond(c, res, err)
}

func (s *Server) handleOffboard(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	res, err := s.svc.Offboard(c.Request().Context(), id)
	return s.respond(c, res, err)
}

func (s *Server) handleStatus(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	st, err := s.svc.Status(c.Request().Context(), id)
	if err != nil {
		return s.storeError(c, "reading status", err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleSearch(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	matches, err := s.svc.Search(c.Request().Context(), id, req.Query, req.TopK)
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	case err != nil:
		return s.storeError(c, "searching", err)
	}
	if matches == nil {
		matches = []orchestrator.Match{}
	}
	return c.JSON(http.StatusOK, SearchResponse{TenantID: id, Matches: matches, Count: len(matches)})
}

// handleOperations lists the tenant's journal, newest first.
func (s *Server) handleOperations(c echo.Context) error {
	id, err := tenantParam(c)
	if err != nil {
		return err
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}
	ops, err := s.rows.Operations(c.Request().Context(), id, limit)
	if err != nil {
		return s.storeError(c, "reading operations", err)
	}
	if ops == nil {
		ops = []store.Operation{}
	}
	return c.JSON(http.StatusOK, OperationsResponse{Operations: ops, Count: len(ops)})
}

// handleOperation returns every transition of one operation.
func (s *Server) handleOperation(c echo.Context) error {
	ops, err := s.rows.OperationHistory(c.Request().Context(), c.Param("op"))
	if err != nil {
		return s.storeError(c, "reading operation", err)
	}
	return c.JSON(http.StatusOK, OperationsResponse{Operations: ops, Count: len(ops)})
}

func (s *Server) handleFleetResync(c echo.Context) error {
	if s.fleet == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "fleet workflows are not configured")
	}
	var req FleetResyncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	for _, id := range req.TenantIDs {
		if err := sanitize.ValidateTenantID(id); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id "+strconv.Quote(id))
		}
	}
	wid, err := s.fleet.StartFleetResync(c.Request().Context(), workflows.FleetResyncInput{
		TenantIDs:   req.TenantIDs,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		s.logger.Error(c.Request().Context(), "fleet resync failed to start", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to start fleet resync")
	}
	return c.JSON(http.StatusAccepted, FleetResyncResponse{WorkflowID: wid})
}

func tenantParam(c echo.Context) (string, error) {
	id := c.Param("id")
	if err := sanitize.ValidateTenantID(id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	}
	return id, nil
}

// respond maps an operation outcome onto a status code: 200 for a
// verified or offboarded tenant, 202 for a degraded one and 500 when the
// operation rolled back.
func (s *Server) respond(c echo.Context, res *orchestrator.Result, err error) error {
	if res != nil && res.State != "" {
		c.Set(operationStateKey, res.State)
	}
	if err != nil {
		if res != nil && res.State == orchestrator.StateRolledBack {
			return c.JSON(http.StatusInternalServerError, OperationResponse{Result: res, Error: err.Error()})
		}
		return s.storeError(c, "operation failed", err)
	}
	if res.State == orchestrator.StateDegraded {
		return c.JSON(http.StatusAccepted, OperationResponse{Result: res})
	}
	return c.JSON(http.StatusOK, OperationResponse{Result: res})
}

func (s *Server) storeError(c echo.Context, msg string, err error) error {
	switch {
	case errors.Is(err, sanitize.ErrInvalidTenantID):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant id")
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	s.logger.Error(c.Request().Context(), msg, zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}
