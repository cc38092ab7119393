package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/rpc"
	"github.com/smartclin/smart-app-clinic-sub000/internal/service"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
	"github.com/smartclin/smart-app-clinic-sub000/internal/ui"
)

const (
	testSecret   = "handler-test-secret-0123456789abcdefgh"
	testPassword = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *config.Store
	auth     *service.AuthService
	resolver *session.Resolver
	router   chi.Router
}

// newTestEnv wires the auth endpoints, the procedure registry and the pages
// the same way the server does, over an in-memory store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore(config.StoreOptions{})
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	signer, err := session.NewSigner(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	resolver := session.NewResolver(store, signer, nil, session.Options{})
	g := gate.New(gate.Options{})
	auth := service.NewAuthService(store, signer, service.AuthOptions{BcryptCost: bcrypt.MinCost})

	reg := rpc.NewRegistry(g)
	NewProcedures(auth, resolver).Register(reg)

	pages, err := ui.LoadPages()
	if err != nil {
		t.Fatalf("ui.LoadPages: %v", err)
	}
	ph := NewPageHandler(pages, g, gate.DefaultPolicy(), resolver, auth, nil)
	ah := NewAuthHandler(auth, resolver, g, nil)

	r := chi.NewRouter()
	r.Use(resolver.Middleware)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/sign-up/email", ah.SignUp)
		r.Post("/sign-in/email", ah.SignIn)
		r.Post("/sign-out", ah.SignOut)
		r.Get("/get-session", ah.GetSession)
	})
	r.Mount("/api/rpc", rpc.Handler(reg, resolver, nil))
	r.Group(func(r chi.Router) {
		r.Use(ph.Gate)
		ph.Routes(r)
	})

	return &testEnv{store: store, auth: auth, resolver: resolver, router: r}
}

// seed provisions an identity with the given roles and returns its id.
func (e *testEnv) seed(t *testing.T, email string, roles ...string) string {
	t.Helper()
	id, err := e.auth.CreateIdentity(context.Background(), service.CreateIdentityInput{
		Name: "Test " + email, Email: email, Password: testPassword, Roles: roles,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return id.ID
}

// signIn returns a session cookie for a seeded identity.
func (e *testEnv) signIn(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rr := e.do(t, "POST", "/api/auth/sign-in/email", toJSON(t, map[string]string{
		"email": email, "password": testPassword,
	}), nil)
	assertStatus(t, rr, http.StatusOK)
	return sessionCookie(t, rr, e.resolver.CookieName())
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) call(t *testing.T, procedure string, input any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader = &bytes.Buffer{}
	if input != nil {
		body = toJSON(t, input)
	}
	return e.do(t, "POST", "/api/rpc/"+procedure, body, cookie)
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", name)
	return nil
}

func toJSON(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func errorKind(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &resp)
	return resp.Error.Kind
}
