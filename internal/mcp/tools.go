package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
)

// registerTools registers every SmartClin MCP tool on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("smartclin_list_roles",
			mcp.WithDescription(
				"List the clinic's roles from lowest to highest privilege. Each entry "+
					"carries the role's landing route and every permission statement "+
					"(resource:action) it grants. Use this before reasoning about access.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListRoles,
	)

	srv.AddTool(
		mcp.NewTool("smartclin_check_permission",
			mcp.WithDescription(
				"Check whether a set of roles grants a permission statement such as "+
					"\"patient:read-own\" or \"billing:create\". A statement is granted "+
					"when any one of the roles grants it. Unknown role names grant nothing "+
					"and are listed under ignored_roles.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithArray("roles",
				mcp.Required(),
				mcp.Description("Role names, e.g. [\"staff\"]"),
				mcp.WithStringItems(),
			),
			mcp.WithString("statement",
				mcp.Required(),
				mcp.Description("Permission statement in resource:action form"),
			),
		),
		s.handleCheckPermission,
	)

	srv.AddTool(
		mcp.NewTool("smartclin_match_route",
			mcp.WithDescription(
				"Classify a page path against the route policy and report the matched "+
					"pattern, the roles it allows, and what the page gate would do: allow, "+
					"redirect-sign-in, redirect-away or forbidden. Omit roles to evaluate "+
					"an anonymous caller.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("Request path, e.g. \"/record/patients\""),
			),
			mcp.WithArray("roles",
				mcp.Description("Roles of a signed-in caller. Omit for an anonymous caller."),
				mcp.WithStringItems(),
			),
		),
		s.handleMatchRoute,
	)

	srv.AddTool(
		mcp.NewTool("smartclin_lookup_identity",
			mcp.WithDescription(
				"Look up an identity by id and return its roles and ban state. Names "+
					"and e-mail addresses are never returned.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Identity id"),
			),
		),
		s.handleLookupIdentity,
	)
}

type roleInfo struct {
	Name        string            `json:"name"`
	Landing     string            `json:"landing"`
	Permissions []authz.Statement `json:"permissions"`
}

func roleTable() []roleInfo {
	all := authz.All()
	out := make([]roleInfo, len(all))
	for i, r := range all {
		out[i] = roleInfo{
			Name:        r.String(),
			Landing:     gate.LandingRoute([]authz.Role{r}),
			Permissions: authz.Grants(r),
		}
	}
	return out
}

// handleListRoles returns every role with its grants.
func (s *MCPServer) handleListRoles(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	return successJSON(roleTable())
}

// handleCheckPermission evaluates one statement against a role set.
func (s *MCPServer) handleCheckPermission(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	raw, err := requireString(request, "statement")
	if err != nil {
		return toolError("%v", err)
	}
	stmt, err := authz.ParseStatement(raw)
	if err != nil {
		return toolError("Unknown statement %q. Use smartclin_list_roles to see valid statements.", raw)
	}
	roles, ignored := knownRoles(optionalStringSlice(request, "roles"))

	return successJSON(map[string]any{
		"statement":     stmt.String(),
		"roles":         authz.Names(roles),
		"ignored_roles": ignored,
		"allowed":       authz.HasPermission(roles, stmt),
	})
}

// handleMatchRoute explains the page gate's decision for a path.
func (s *MCPServer) handleMatchRoute(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	path, err := requireString(request, "path")
	if err != nil {
		return toolError("%v", err)
	}

	var roles []authz.Role
	var ignored []string
	if names := optionalStringSlice(request, "roles"); names != nil {
		roles, ignored = knownRoles(names)
	}

	d := s.policy.Evaluate(path, "", roles)
	result := map[string]any{
		"path":          d.Match.Path,
		"class":         d.Match.Class.String(),
		"pattern":       d.Match.Pattern,
		"fallback":      d.Match.Fallback(),
		"allowed_roles": authz.Names(d.Match.Rule.Roles()),
		"outcome":       d.Outcome.String(),
	}
	if d.Location != "" {
		result["location"] = d.Location
	}
	if len(ignored) > 0 {
		result["ignored_roles"] = ignored
	}
	return successJSON(result)
}

// handleLookupIdentity returns an identity's roles and ban state.
func (s *MCPServer) handleLookupIdentity(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireString(request, "id")
	if err != nil {
		return toolError("%v", err)
	}
	if s.identities == nil {
		return toolError("Identity lookup is not available: no credential store configured.")
	}

	ident, err := s.identities.FindIdentityByID(ctx, id)
	if errors.Is(err, config.ErrNotFound) {
		return toolError("No identity with id %q.", id)
	}
	if err != nil {
		s.logger.Error("mcp identity lookup failed", "identity_id", id, "error", err)
		return toolError("Identity lookup failed.")
	}

	out := map[string]any{
		"id":     ident.ID,
		"roles":  authz.Names(ident.Roles),
		"banned": ident.IsBanned(time.Now()),
	}
	if ident.BanExpires != nil {
		out["ban_expires"] = ident.BanExpires
	}
	return successJSON(out)
}
