package openapi

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/rpc"
)

type banInput struct {
	UserID    string `json:"userId"`
	Reason    string `json:"reason"`
	ExpiresIn int64  `json:"expiresIn"`
}

func noop(context.Context, json.RawMessage) (any, error) { return nil, nil }

func testCatalogue(t *testing.T) []rpc.Descriptor {
	t.Helper()
	reg := rpc.NewRegistry(gate.New(gate.Options{}))
	reg.MustRegister(
		rpc.Procedure{Name: "health.ping", Description: "Ping.", Exposure: rpc.Public, Handler: noop},
		rpc.Procedure{Name: "session.get", Exposure: rpc.Authenticated, Handler: noop},
		rpc.Procedure{
			Name: "admin.banUser", Description: "Ban.", Exposure: rpc.RoleRestricted,
			Role: "admin", Permission: "user:ban", Input: banInput{}, Handler: noop,
		},
		rpc.Procedure{
			Name: "admin.impersonateUser", Exposure: rpc.RoleRestricted,
			Role: "admin", Permission: "user:impersonate", Fresh: true, Handler: noop,
		},
	)
	return reg.Procedures()
}

type docView struct {
	t   *testing.T
	doc *openapi3.T
}

func (v *docView) op(name string) *openapi3.Operation {
	v.t.Helper()
	item := v.doc.Paths.Value("/api/rpc/" + name)
	if item == nil || item.Post == nil {
		v.t.Fatalf("no operation for %s", name)
	}
	return item.Post
}

func generate(t *testing.T) *docView {
	t.Helper()
	doc, err := Generate(testCatalogue(t), DefaultInfo("1.2.3"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return &docView{t: t, doc: doc}
}

func TestGenerate_OnePathPerProcedure(t *testing.T) {
	v := generate(t)
	if v.doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q", v.doc.OpenAPI)
	}
	if v.doc.Info.Version != "1.2.3" {
		t.Errorf("version = %q", v.doc.Info.Version)
	}
	if n := v.doc.Paths.Len(); n != 4 {
		t.Errorf("paths = %d, want 4", n)
	}
	for _, name := range []string{"health.ping", "session.get", "admin.banUser", "admin.impersonateUser"} {
		item := v.doc.Paths.Value("/api/rpc/" + name)
		if item == nil || item.Post == nil {
			t.Errorf("missing POST /api/rpc/%s", name)
			continue
		}
		if item.Get != nil {
			t.Errorf("%s must only accept POST", name)
		}
	}
}

func TestGenerate_SecuritySchemes(t *testing.T) {
	v := generate(t)
	schemes := v.doc.Components.SecuritySchemes
	cookie := schemes["sessionCookie"]
	if cookie == nil || cookie.Value.In != "cookie" || cookie.Value.Name != "smartclin.session_token" {
		t.Errorf("sessionCookie = %+v", cookie)
	}
	bearer := schemes["bearerAuth"]
	if bearer == nil || bearer.Value.Scheme != "bearer" {
		t.Errorf("bearerAuth = %+v", bearer)
	}
}

func TestGenerate_Exposure(t *testing.T) {
	v := generate(t)
	tests := []struct {
		name       string
		exposure   string
		role       any
		permission any
		protected  bool
	}{
		{"health.ping", "public", nil, nil, false},
		{"session.get", "authenticated", nil, nil, true},
		{"admin.banUser", "role-restricted", "admin", "user:ban", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := v.op(tt.name)
			if got := op.Extensions[ExtExposure]; got != tt.exposure {
				t.Errorf("%s = %v, want %v", ExtExposure, got, tt.exposure)
			}
			if got := op.Extensions[ExtRole]; got != tt.role {
				t.Errorf("%s = %v, want %v", ExtRole, got, tt.role)
			}
			if got := op.Extensions[ExtPermission]; got != tt.permission {
				t.Errorf("%s = %v, want %v", ExtPermission, got, tt.permission)
			}
			for _, code := range []string{"401", "403"} {
				if has := op.Responses.Value(code) != nil; has != tt.protected {
					t.Errorf("response %s present = %v, want %v", code, has, tt.protected)
				}
			}
			if op.Security == nil {
				t.Fatal("security must be set explicitly")
			}
			if got := len(*op.Security) > 0; got != tt.protected {
				t.Errorf("security requirements present = %v, want %v", got, tt.protected)
			}
		})
	}
}

func TestGenerate_FreshExtension(t *testing.T) {
	v := generate(t)
	if v.op("admin.impersonateUser").Extensions[ExtFresh] != true {
		t.Error("fresh procedures must be marked")
	}
	if _, ok := v.op("admin.banUser").Extensions[ExtFresh]; ok {
		t.Error("only fresh procedures carry the marker")
	}
}

func TestGenerate_RequestBodyFromInput(t *testing.T) {
	v := generate(t)
	body := v.op("admin.banUser").RequestBody
	if body == nil {
		t.Fatal("missing request body")
	}
	schema := body.Value.Content.Get("application/json").Schema.Value
	for _, prop := range []string{"userId", "reason", "expiresIn"} {
		if schema.Properties[prop] == nil {
			t.Errorf("missing property %q", prop)
		}
	}
	if v.op("session.get").RequestBody != nil {
		t.Error("procedures without input must not declare a body")
	}
}

func TestGenerate_OperationIDsAndTags(t *testing.T) {
	v := generate(t)
	op := v.op("admin.banUser")
	if op.OperationID != "admin_banUser" {
		t.Errorf("operationId = %q", op.OperationID)
	}
	if len(op.Tags) != 1 || op.Tags[0] != "admin" {
		t.Errorf("tags = %v", op.Tags)
	}
}

func TestGenerate_MarshalsJSON(t *testing.T) {
	v := generate(t)
	data, err := json.Marshal(v.doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"x-exposure":"role-restricted"`, `"ErrorResponse"`, `"/api/rpc/health.ping"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("document missing %s", want)
		}
	}
}

func TestRouter(t *testing.T) {
	tests := map[string]string{
		"admin.listUsers": "admin",
		"health.ping":     "health",
		"plain":           "plain",
	}
	for in, want := range tests {
		if got := router(in); got != want {
			t.Errorf("router(%q) = %q, want %q", in, got, want)
		}
	}
}
