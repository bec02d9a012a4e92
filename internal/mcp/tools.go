package mcp

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/chunking"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
)

const (
	toolKnowledgeSearch = "knowledge_search"
	toolIndexStatus     = "index_status"
)

type knowledgeSearchInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant identifier, e.g. acme-dental"`
	Query    string `json:"query" jsonschema:"Natural language question about the business"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"Maximum matches to return (default: 5, max: 50)"`
}

type searchMatch struct {
	ID     string  `json:"id" jsonschema:"Vector id"`
	Score  float32 `json:"score" jsonschema:"Similarity score"`
	Type   string  `json:"type" jsonschema:"Chunk type tag such as service_pricing, general_faq or document"`
	Text   string  `json:"text" jsonschema:"Chunk text"`
	Source string  `json:"source,omitempty" jsonschema:"Where the chunk came from"`
	Title  string  `json:"title,omitempty" jsonschema:"Document name for document chunks"`
}

type knowledgeSearchOutput struct {
	TenantID string        `json:"tenant_id" jsonschema:"Tenant searched"`
	Matches  []searchMatch `json:"matches" jsonschema:"Matches in descending score order"`
	Count    int           `json:"count" jsonschema:"Number of matches"`
}

type indexStatusInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant identifier"`
}

type indexStatusOutput struct {
	TenantID      string         `json:"tenant_id" jsonschema:"Tenant identifier"`
	Namespace     string         `json:"namespace" jsonschema:"Vector namespace"`
	Exists        bool           `json:"exists" jsonschema:"Whether the tenant is provisioned"`
	VectorCount   int            `json:"vector_count" jsonschema:"Vectors in the namespace"`
	LastOperation string         `json:"last_operation,omitempty" jsonschema:"Kind of the most recent operation"`
	LastState     string         `json:"last_state,omitempty" jsonschema:"State the most recent operation reached"`
	LastUpdated   string         `json:"last_updated,omitempty" jsonschema:"RFC 3339 time of the most recent transition"`
	Sections      []sectionCount `json:"sections" jsonschema:"Vector ids owned by each section"`
}

type sectionCount struct {
	Section string `json:"section"`
	Vectors int    `json:"vectors"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolKnowledgeSearch,
		Description: "Search a tenant's knowledge index. Every match carries a type tag such as service_pricing, general_faq or document.",
	}, s.knowledgeSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolIndexStatus,
		Description: "Report whether a tenant's knowledge index is provisioned, how many vectors it holds, and the outcome of its last operation.",
	}, s.indexStatus)
}

func (s *Server) knowledgeSearch(ctx context.Context, _ *mcp.CallToolRequest, args knowledgeSearchInput) (*mcp.CallToolResult, knowledgeSearchOutput, error) {
	done := s.metrics.Begin(ctx, toolKnowledgeSearch)
	var toolErr error
	defer func() { done(toolErr) }()

	if err := sanitize.ValidateTenantID(args.TenantID); err != nil {
		toolErr = fmt.Errorf("invalid tenant_id: %w", err)
		return nil, knowledgeSearchOutput{}, toolErr
	}
	ctx = logging.WithTenantID(ctx, args.TenantID)

	matches, err := s.svc.Search(ctx, args.TenantID, args.Query, args.TopK)
	if err != nil {
		toolErr = fmt.Errorf("knowledge search failed: %w", err)
		s.logger.Warn(ctx, "tool call failed", zap.String("tool", toolKnowledgeSearch), zap.Error(err))
		return nil, knowledgeSearchOutput{}, toolErr
	}

	out := knowledgeSearchOutput{
		TenantID: args.TenantID,
		Matches:  make([]searchMatch, 0, len(matches)),
	}
	for _, m := range matches {
		out.Matches = append(out.Matches, searchMatch{
			ID:     m.ID,
			Score:  m.Score,
			Type:   m.Type,
			Text:   s.scrubber.Scrub(ctx, m.Text).Text,
			Source: m.Metadata[chunking.MetaSource],
			Title:  m.Metadata[chunking.MetaTitle],
		})
	}
	out.Count = len(out.Matches)
	s.metrics.RecordMatches(ctx, out.Count)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Found %d matches for %s", out.Count, args.TenantID)},
		},
	}, out, nil
}

func (s *Server) indexStatus(ctx context.Context, _ *mcp.CallToolRequest, args indexStatusInput) (*mcp.CallToolResult, indexStatusOutput, error) {
	done := s.metrics.Begin(ctx, toolIndexStatus)
	var toolErr error
	defer func() { done(toolErr) }()

	if err := sanitize.ValidateTenantID(args.TenantID); err != nil {
		toolErr = fmt.Errorf("invalid tenant_id: %w", err)
		return nil, indexStatusOutput{}, toolErr
	}
	ctx = logging.WithTenantID(ctx, args.TenantID)

	st, err := s.svc.Status(ctx, args.TenantID)
	if err != nil {
		toolErr = fmt.Errorf("index status failed: %w", err)
		s.logger.Warn(ctx, "tool call failed", zap.String("tool", toolIndexStatus), zap.Error(err))
		return nil, indexStatusOutput{}, toolErr
	}

	out := indexStatusOutput{
		TenantID:    st.TenantID,
		Namespace:   st.Namespace,
		Exists:      st.Exists,
		VectorCount: st.VectorCount,
		Sections:    []sectionCount{},
	}
	if last := st.LastOperation; last != nil {
		out.LastOperation = string(last.Kind)
		out.LastState = string(last.State)
		out.LastUpdated = last.At.UTC().Format(time.RFC3339)
	}
	for section, ids := range st.Sections {
		out.Sections = append(out.Sections, sectionCount{Section: string(section), Vectors: len(ids)})
	}
	sort.Slice(out.Sections, func(i, j int) bool { return out.Sections[i].Section < out.Sections[j].Section })

	summary := fmt.Sprintf("%s: not provisioned", st.TenantID)
	if st.Exists {
		summary = fmt.Sprintf("%s: %d vectors in %s", st.TenantID, st.VectorCount, st.Namespace)
		if out.LastState != "" {
			summary += fmt.Sprintf(", last %s %s", out.LastOperation, out.LastState)
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: summary}},
	}, out, nil
}
