package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
)

// IdentityLookup is the slice of the credential store the tools read.
type IdentityLookup interface {
	FindIdentityByID(ctx context.Context, id string) (*model.Identity, error)
}

// MCPServer wraps the mcp-go server with SmartClin's read-only operator
// tools. Agents can inspect the role table, test statements and routes
// against it, and look up which roles an identity holds. No tool mutates
// state or returns personal data beyond identity ids and roles.
type MCPServer struct {
	identities IdentityLookup
	policy     *gate.Policy
	logger     *slog.Logger
	server     *server.MCPServer
}

// NewMCPServer creates an MCPServer with every tool and resource registered.
// The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(identities IdentityLookup, policy *gate.Policy, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if policy == nil {
		policy = gate.DefaultPolicy()
	}
	s := &MCPServer{
		identities: identities,
		policy:     policy,
		logger:     logger,
	}

	mcpServer := server.NewMCPServer(
		"SmartClin Authorization",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout for clients that launch the
// binary as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:   boolPtr(true),
		IdempotentHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
