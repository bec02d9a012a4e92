// Package mcp exposes tenant knowledge search and index status to agents
// over the Model Context Protocol.
//
// The server is built on github.com/modelcontextprotocol/go-sdk/mcp and
// runs on the stdio transport. Returned text passes through the secret
// scrubber before it leaves the process.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/secrets"
)

// Service is the orchestrator surface the tools call.
type Service interface {
	Search(ctx context.Context, tenantID, query string, topK int) ([]orchestrator.Match, error)
	Status(ctx context.Context, tenantID string) (*orchestrator.Status, error)
}

// Server is the knowledged MCP server.
type Server struct {
	mcp      *mcp.Server
	svc      Service
	scrubber secrets.Scrubber
	metrics  *Metrics
	logger   *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name (default: "knowledged")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *logging.Logger

	// Scrubber redacts secrets from tool output. Nil disables scrubbing.
	Scrubber secrets.Scrubber
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "knowledged",
		Version: "1.0.0",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates a new MCP server backed by svc.
func NewServer(cfg *Config, svc Service) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if svc == nil {
		return nil, errors.New("knowledge service is required")
	}
	if cfg.Name == "" {
		cfg.Name = "knowledged"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	scrubber := cfg.Scrubber
	if scrubber == nil {
		scrubber = secrets.Nop{}
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		svc:      svc,
		scrubber: scrubber,
		metrics:  NewMetrics(logger),
		logger:   logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t. Run is the stdio form.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
