package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalStringSlice extracts an optional string slice argument. A missing
// key yields nil, an explicitly empty array a non-nil empty slice.
func optionalStringSlice(request mcp.CallToolRequest, key string) []string {
	args := request.GetArguments()
	if _, ok := args[key]; !ok {
		return nil
	}
	return request.GetStringSlice(key, []string{})
}

// knownRoles resolves role names, skipping unknown ones. The result is
// never nil so callers can tell "no roles" from "anonymous".
func knownRoles(names []string) (roles []authz.Role, ignored []string) {
	roles = make([]authz.Role, 0, len(names))
	for _, n := range names {
		r, err := authz.Lookup(n)
		if err != nil {
			ignored = append(ignored, n)
			continue
		}
		if !authz.HasRole(roles, r) {
			roles = append(roles, r)
		}
	}
	return roles, ignored
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the agent so it can self-correct; they do not terminate the
// MCP session.
func toolError(format string, args ...any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
