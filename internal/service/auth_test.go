package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
)

const testSecret = "service-test-secret-0123456789abcdef"

type authEnv struct {
	auth     *AuthService
	store    *config.Store
	resolver *session.Resolver
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	store, err := config.NewStore(config.StoreOptions{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	signer, err := session.NewSigner(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return &authEnv{
		auth:     NewAuthService(store, signer, AuthOptions{BcryptCost: bcrypt.MinCost}),
		store:    store,
		resolver: session.NewResolver(store, signer, nil, session.Options{}),
	}
}

func (e *authEnv) resolve(t *testing.T, token string) *session.Resolution {
	t.Helper()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return e.resolver.ResolveSession(context.Background(), h)
}

func (e *authEnv) provision(t *testing.T, email string, roles ...string) string {
	t.Helper()
	id, err := e.auth.CreateIdentity(context.Background(), CreateIdentityInput{
		Name: "Test", Email: email, Password: "correct-horse", Roles: roles,
	})
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	return id.ID
}

func TestSignUpCreatesPatientSession(t *testing.T) {
	env := newAuthEnv(t)
	issued, err := env.auth.SignUp(context.Background(), " Mia ", "mia@example.com", "long-enough", ClientMeta{UserAgent: "test"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if len(issued.Identity.Roles) != 1 || issued.Identity.Roles[0] != authz.RolePatient {
		t.Errorf("roles = %v, want [patient]", issued.Identity.Roles)
	}
	res := env.resolve(t, issued.Token)
	if res == nil || res.Identity.ID != issued.Identity.ID {
		t.Fatalf("issued token does not resolve: %+v", res)
	}
	if res.Session.UserAgent != "test" {
		t.Errorf("user agent = %q", res.Session.UserAgent)
	}
}

func TestSignUpErrors(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	if _, err := env.auth.SignUp(ctx, "A", "a@example.com", "short", ClientMeta{}); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("short password: err = %v", err)
	}
	if _, err := env.auth.SignUp(ctx, "A", "a@example.com", "long-enough", ClientMeta{}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.auth.SignUp(ctx, "B", "A@example.com", "long-enough", ClientMeta{}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate: err = %v", err)
	}
}

func TestSignIn(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	env.provision(t, "doc@example.com", "doctor")

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"valid", "doc@example.com", "correct-horse", nil},
		{"case-insensitive email", "DOC@example.com", "correct-horse", nil},
		{"wrong password", "doc@example.com", "wrong-horse", ErrInvalidCredentials},
		{"unknown email", "nobody@example.com", "correct-horse", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issued, err := env.auth.SignIn(ctx, tt.email, tt.password, ClientMeta{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SignIn: %v", err)
			}
			if res := env.resolve(t, issued.Token); res == nil {
				t.Error("token does not resolve")
			}
		})
	}
}

func TestSignInRefusesBanned(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	admin := env.provision(t, "admin@example.com", "admin")
	target := env.provision(t, "p@example.com")

	if err := env.auth.Ban(ctx, admin, target, "spam", 0); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if _, err := env.auth.SignIn(ctx, "p@example.com", "correct-horse", ClientMeta{}); !errors.Is(err, ErrBanned) {
		t.Errorf("err = %v, want ErrBanned", err)
	}
	if err := env.auth.Unban(ctx, target); err != nil {
		t.Fatal(err)
	}
	if _, err := env.auth.SignIn(ctx, "p@example.com", "correct-horse", ClientMeta{}); err != nil {
		t.Errorf("after unban: %v", err)
	}
}

func TestSignOut(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	issued, err := env.auth.SignUp(ctx, "A", "a@example.com", "long-enough", ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.auth.SignOut(ctx, issued.Session.ID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if res := env.resolve(t, issued.Token); res != nil {
		t.Error("session still resolves after sign-out")
	}
	if err := env.auth.SignOut(ctx, issued.Session.ID); err != nil {
		t.Errorf("second sign-out: %v", err)
	}
}

func TestBanRevokesSessions(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	admin := env.provision(t, "admin@example.com", "admin")
	env.provision(t, "p@example.com")
	issued, err := env.auth.SignIn(ctx, "p@example.com", "correct-horse", ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}

	if err := env.auth.Ban(ctx, admin, issued.Identity.ID, "", time.Hour); err != nil {
		t.Fatal(err)
	}
	sessions, err := env.auth.ListOwnSessions(ctx, issued.Identity.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("sessions after ban = %d", len(sessions))
	}
	got, _ := env.auth.GetIdentity(ctx, issued.Identity.ID)
	if got.BanExpires == nil {
		t.Error("expected a ban expiry")
	}

	if err := env.auth.Ban(ctx, admin, admin, "", 0); !errors.Is(err, ErrSelfAction) {
		t.Errorf("self-ban: err = %v", err)
	}
}

func TestCreateIdentityRoles(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	id, err := env.auth.CreateIdentity(ctx, CreateIdentityInput{
		Email: "multi@example.com", Password: "long-enough", Roles: []string{"Doctor", "admin", "doctor"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if authz.JoinRoles(id.Roles) != "doctor,admin" {
		t.Errorf("roles = %v", id.Roles)
	}

	_, err = env.auth.CreateIdentity(ctx, CreateIdentityInput{
		Email: "bad@example.com", Password: "long-enough", Roles: []string{"nurse"},
	})
	if !errors.Is(err, authz.ErrInvalidRoleReference) {
		t.Errorf("unknown role: err = %v", err)
	}
}

func TestSetRoles(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	admin := env.provision(t, "admin@example.com", "admin")
	target := env.provision(t, "s@example.com")

	got, err := env.auth.SetRoles(ctx, admin, target, []string{"staff"})
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasRole(authz.RoleStaff) || got.HasRole(authz.RolePatient) {
		t.Errorf("roles = %v", got.Roles)
	}

	if _, err := env.auth.SetRoles(ctx, admin, admin, []string{"doctor"}); !errors.Is(err, ErrSelfAction) {
		t.Errorf("self demotion: err = %v", err)
	}
	if _, err := env.auth.SetRoles(ctx, admin, "missing", []string{"doctor"}); !errors.Is(err, config.ErrNotFound) {
		t.Errorf("missing target: err = %v", err)
	}
}

func TestImpersonation(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	env.provision(t, "admin@example.com", "admin")
	other := env.provision(t, "admin2@example.com", "admin")
	patient := env.provision(t, "p@example.com")

	adminSession, err := env.auth.SignIn(ctx, "admin@example.com", "correct-horse", ClientMeta{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.auth.Impersonate(ctx, adminSession.Session, other, ClientMeta{}); !errors.Is(err, ErrImpersonateAdmin) {
		t.Errorf("impersonating admin: err = %v", err)
	}

	imp, err := env.auth.Impersonate(ctx, adminSession.Session, patient, ClientMeta{})
	if err != nil {
		t.Fatalf("Impersonate: %v", err)
	}
	res := env.resolve(t, imp.Token)
	if res == nil || res.Identity.ID != patient {
		t.Fatalf("impersonation token resolves to %+v", res)
	}
	if res.Session.ImpersonatedBy != adminSession.Identity.ID {
		t.Errorf("impersonated_by = %q", res.Session.ImpersonatedBy)
	}
	if time.Until(res.Session.ExpiresAt) > time.Hour+time.Minute {
		t.Errorf("impersonation session too long: %v", res.Session.ExpiresAt)
	}

	if _, err := env.auth.Impersonate(ctx, res.Session, patient, ClientMeta{}); !errors.Is(err, ErrAlreadyImpersonated) {
		t.Errorf("nested impersonation: err = %v", err)
	}

	back, err := env.auth.StopImpersonating(ctx, res.Session, ClientMeta{})
	if err != nil {
		t.Fatalf("StopImpersonating: %v", err)
	}
	if back.Identity.ID != adminSession.Identity.ID {
		t.Errorf("returned to %s", back.Identity.ID)
	}
	if env.resolve(t, imp.Token) != nil {
		t.Error("impersonation session survives stop")
	}
	if _, err := env.auth.StopImpersonating(ctx, back.Session, ClientMeta{}); !errors.Is(err, ErrNotImpersonating) {
		t.Errorf("stop without impersonation: err = %v", err)
	}
}

func TestRevokeOwnSession(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	a, _ := env.auth.SignUp(ctx, "A", "a@example.com", "long-enough", ClientMeta{})
	b, _ := env.auth.SignUp(ctx, "B", "b@example.com", "long-enough", ClientMeta{})

	if err := env.auth.RevokeOwnSession(ctx, a.Identity.ID, b.Session.ID); !errors.Is(err, config.ErrNotFound) {
		t.Errorf("revoking another identity's session: err = %v", err)
	}
	if err := env.auth.RevokeOwnSession(ctx, a.Identity.ID, a.Session.ID); err != nil {
		t.Fatalf("RevokeOwnSession: %v", err)
	}
	if env.resolve(t, a.Token) != nil {
		t.Error("revoked session resolves")
	}
	if env.resolve(t, b.Token) == nil {
		t.Error("other identity's session was touched")
	}
}

func TestRevokeSessionsAndPurge(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()
	id := env.provision(t, "p@example.com")
	for range 3 {
		if _, err := env.auth.SignIn(ctx, "p@example.com", "correct-horse", ClientMeta{}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := env.auth.RevokeSessions(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}
	if _, err := env.auth.RevokeSessions(ctx, "missing"); !errors.Is(err, config.ErrNotFound) {
		t.Errorf("missing identity: err = %v", err)
	}

	later := NewAuthService(env.store, env.auth.signer, AuthOptions{
		BcryptCost: bcrypt.MinCost,
		Now:        func() time.Time { return time.Now().Add(30 * 24 * time.Hour) },
	})
	if _, err := env.auth.SignIn(ctx, "p@example.com", "correct-horse", ClientMeta{}); err != nil {
		t.Fatal(err)
	}
	purged, err := later.PurgeExpiredSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}

func TestPasswordHelpers(t *testing.T) {
	hash, err := HashPassword("long-enough", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyPassword(hash, "long-enough") {
		t.Error("password does not verify")
	}
	if VerifyPassword(hash, "long-enougH") || VerifyPassword("", "long-enough") {
		t.Error("wrong password verified")
	}
	if _, err := HashPassword("1234567", 0); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("short: err = %v", err)
	}
}
