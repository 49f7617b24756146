package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/irb-compliance/internal/evaluator"
	"github.com/bull/irb-compliance/internal/storage"
)

// Evaluator evaluates one study description.
type Evaluator interface {
	Query(ctx context.Context, study string) (*evaluator.Result, error)
}

// Ingester adds a reference document to the index.
type Ingester interface {
	AddDocument(ctx context.Context, doc storage.Document) (string, int, error)
}

// Counter reports the number of indexed chunks.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// UsageReporter reports rate limiter consumption.
type UsageReporter interface {
	Usage() (tokens, requests int)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Evaluator Evaluator
	Ingest    Ingester
	Index     Counter
	Limiter   UsageReporter
	// Backend names the index backend in status output.
	Backend string
	Version string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	impl := &mcp.Implementation{
		Name:    "irb-compliance-server",
		Version: version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "evaluate_study",
		Description: "Evaluate a research study proposal for IRB compliance. Splits the proposal into sections, evaluates each against retrieved regulatory passages and returns a final verdict with recommendations. Can take several minutes.",
	}, makeEvaluateHandler(cfg.Evaluator))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_document",
		Description: "Add a reference document (regulation, guideline, policy) to the index used as evaluation context.",
	}, makeAddDocumentHandler(cfg.Ingest))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_status",
		Description: "Get the number of indexed reference chunks, the index backend and the current model rate limit usage.",
	}, makeStatusHandler(cfg.Index, cfg.Limiter, cfg.Backend))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
