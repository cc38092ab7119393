package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	rolesURI  = "smartclin://roles"
	policyURI = "smartclin://policy"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			rolesURI,
			"Role Table",
			mcp.WithResourceDescription(
				"Every clinic role with its landing route and granted permission statements.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleRolesResource,
	)

	srv.AddResource(
		mcp.NewResource(
			policyURI,
			"Route Policy",
			mcp.WithResourceDescription(
				"Page route patterns and the roles allowed on each. Unlisted paths "+
					"require a signed-in caller with any role.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handlePolicyResource,
	)
}

func (s *MCPServer) handleRolesResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	return jsonResource(rolesURI, roleTable())
}

func (s *MCPServer) handlePolicyResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	return jsonResource(policyURI, map[string]any{
		"sign_in": s.policy.SignInPath(),
		"entries": s.policy.Entries(),
	})
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
