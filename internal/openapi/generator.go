package openapi

import (
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/smartclin/smart-app-clinic-sub000/internal/rpc"
)

// Extension keys carried on every procedure operation.
const (
	ExtExposure   = "x-exposure"
	ExtRole       = "x-role"
	ExtPermission = "x-permission"
	ExtFresh      = "x-fresh-session"
)

// Info describes the rendered document.
type Info struct {
	Title     string
	Version   string
	ServerURL string
	// Prefix is the path the RPC handler is mounted at.
	Prefix string
}

// DefaultInfo returns the document header used by the server and CLI.
func DefaultInfo(version string) Info {
	return Info{
		Title:   "SmartClin RPC",
		Version: version,
		Prefix:  "/api/rpc",
	}
}

// Generate renders the procedure catalogue as an OpenAPI 3.1 document: one
// POST path per procedure. Procedures that are not public list the session
// cookie and bearer schemes and document 401 and 403 responses.
func Generate(procs []rpc.Descriptor, info Info) (*openapi3.T, error) {
	if info.Prefix == "" {
		info.Prefix = "/api/rpc"
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       info.Title,
			Description: "Procedures served by SmartClin. Every call is a POST with a JSON body.",
			Version:     info.Version,
		},
	}
	if info.ServerURL != "" {
		doc.Servers = openapi3.Servers{{URL: info.ServerURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{
		"ErrorResponse": errorSchema(),
	}
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"sessionCookie": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "cookie",
				Name: "smartclin.session_token",
			},
		},
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	for _, p := range procs {
		op, err := procedureOperation(p)
		if err != nil {
			return nil, err
		}
		doc.Paths.Set(info.Prefix+"/"+p.Name, &openapi3.PathItem{Post: op})
	}
	return doc, nil
}

func procedureOperation(p rpc.Descriptor) (*openapi3.Operation, error) {
	op := &openapi3.Operation{
		Tags:        []string{router(p.Name)},
		Summary:     p.Description,
		OperationID: strings.ReplaceAll(p.Name, ".", "_"),
		Extensions: map[string]any{
			ExtExposure: p.Exposure.String(),
		},
	}
	if p.Role != "" {
		op.Extensions[ExtRole] = p.Role
	}
	if p.Permission != "" {
		op.Extensions[ExtPermission] = p.Permission
	}
	if p.Fresh {
		op.Extensions[ExtFresh] = true
	}

	if p.Input != nil {
		schema, err := openapi3gen.NewSchemaRefForValue(p.Input, nil)
		if err != nil {
			return nil, fmt.Errorf("procedure %s: input schema: %w", p.Name, err)
		}
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Description: fmt.Sprintf("Input for %s", p.Name),
				Content:     openapi3.NewContentWithJSONSchemaRef(schema),
			},
		}
	}

	protected := p.Exposure != rpc.Public
	op.Responses = newResponses(protected)
	if protected {
		op.Security = &openapi3.SecurityRequirements{
			{"sessionCookie": {}},
			{"bearerAuth": {}},
		}
	} else {
		op.Security = &openapi3.SecurityRequirements{}
	}
	return op, nil
}

// router returns the namespace of a procedure name, e.g. "admin" for
// "admin.listUsers".
func router(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

func newResponses(protected bool) *openapi3.Responses {
	responses := openapi3.NewResponses()
	okDesc := "Procedure result"
	responses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &okDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(resultSchema()),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	add := func(code, desc string) {
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	add("400", "Invalid input")
	if protected {
		add("401", "No valid session (UNAUTHENTICATED)")
		add("403", "Session lacks the required role or permission (FORBIDDEN)")
	}
	add("500", "Internal error")
	return responses
}
