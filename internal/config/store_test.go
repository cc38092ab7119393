package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreOptions{}) // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestIdentity(t *testing.T, s *Store, email string, roles ...authz.Role) *model.Identity {
	t.Helper()
	id := &model.Identity{Name: "Test User", Email: email, Roles: roles, PasswordHash: "hash"}
	if err := s.CreateIdentity(context.Background(), id); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	return id
}

func TestIdentityCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := createTestIdentity(t, s, "  Ada@Example.COM ", authz.RoleDoctor, authz.RoleAdmin)
	if id.ID == "" {
		t.Fatal("expected non-empty ID after create")
	}
	if id.Email != "ada@example.com" {
		t.Errorf("email not normalized: %q", id.Email)
	}

	got, err := s.FindIdentityByID(ctx, id.ID)
	if err != nil {
		t.Fatalf("FindIdentityByID: %v", err)
	}
	if len(got.Roles) != 2 || got.Roles[0] != authz.RoleDoctor || got.Roles[1] != authz.RoleAdmin {
		t.Errorf("roles = %v, want [doctor admin]", got.Roles)
	}
	if got.PasswordHash != "hash" {
		t.Errorf("password hash = %q", got.PasswordHash)
	}

	byEmail, err := s.FindIdentityByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("FindIdentityByEmail: %v", err)
	}
	if byEmail.ID != id.ID {
		t.Errorf("got ID %s, want %s", byEmail.ID, id.ID)
	}

	if err := s.SetIdentityRoles(ctx, id.ID, []authz.Role{authz.RoleStaff}); err != nil {
		t.Fatalf("SetIdentityRoles: %v", err)
	}
	got, _ = s.FindIdentityByID(ctx, id.ID)
	if len(got.Roles) != 1 || got.Roles[0] != authz.RoleStaff {
		t.Errorf("roles after set = %v", got.Roles)
	}

	n, err := s.CountIdentities(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountIdentities = %d, %v", n, err)
	}
}

func TestCreateIdentityDefaultsRole(t *testing.T) {
	s := newTestStore(t)
	id := createTestIdentity(t, s, "kid@example.com")
	if len(id.Roles) != 1 || id.Roles[0] != authz.RolePatient {
		t.Errorf("roles = %v, want [patient]", id.Roles)
	}
}

func TestCreateIdentityDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	createTestIdentity(t, s, "dup@example.com")
	err := s.CreateIdentity(context.Background(), &model.Identity{Email: "DUP@example.com"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestIdentityNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.FindIdentityByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindIdentityByID err = %v, want ErrNotFound", err)
	}
	if err := s.SetIdentityRoles(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetIdentityRoles err = %v, want ErrNotFound", err)
	}
	if err := s.BanIdentity(ctx, "missing", "", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("BanIdentity err = %v, want ErrNotFound", err)
	}
}

func TestUnknownStoredRolesAreDropped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createTestIdentity(t, s, "legacy@example.com")

	if _, err := s.db.Exec("UPDATE identities SET roles = ? WHERE id = ?", "SuperUser,DOCTOR", id.ID); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.FindIdentityByID(ctx, id.ID)
	if err != nil {
		t.Fatalf("FindIdentityByID: %v", err)
	}
	if len(got.Roles) != 1 || got.Roles[0] != authz.RoleDoctor {
		t.Errorf("roles = %v, want [doctor]", got.Roles)
	}

	if _, err := s.db.Exec("UPDATE identities SET roles = ? WHERE id = ?", "root", id.ID); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.FindIdentityByID(ctx, id.ID)
	if len(got.Roles) != 1 || got.Roles[0] != authz.RolePatient {
		t.Errorf("roles = %v, want [patient]", got.Roles)
	}
}

func TestBanUnban(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createTestIdentity(t, s, "ban@example.com")

	exp := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	if err := s.BanIdentity(ctx, id.ID, "spam", &exp); err != nil {
		t.Fatalf("BanIdentity: %v", err)
	}
	got, _ := s.FindIdentityByID(ctx, id.ID)
	if !got.Banned || got.BanReason != "spam" {
		t.Errorf("banned = %v, reason = %q", got.Banned, got.BanReason)
	}
	if got.BanExpires == nil || !got.BanExpires.Equal(exp) {
		t.Errorf("ban expires = %v, want %v", got.BanExpires, exp)
	}
	if !got.IsBanned(time.Now()) {
		t.Error("expected ban in effect")
	}

	if err := s.UnbanIdentity(ctx, id.ID); err != nil {
		t.Fatalf("UnbanIdentity: %v", err)
	}
	got, _ = s.FindIdentityByID(ctx, id.ID)
	if got.Banned || got.BanExpires != nil || got.BanReason != "" {
		t.Errorf("unban left state: %+v", got)
	}
}

func TestListIdentities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, e := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		createTestIdentity(t, s, e)
	}

	all, err := s.ListIdentities(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d identities, want 3", len(all))
	}

	page, err := s.ListIdentities(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListIdentities page: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("got %d identities on second page, want 1", len(page))
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createTestIdentity(t, s, "sess@example.com", authz.RoleStaff)

	sess := &model.Session{
		IdentityID: id.ID,
		ExpiresAt:  time.Now().Add(time.Hour),
		IPAddress:  "10.0.0.1",
		UserAgent:  "test",
	}
	if err := s.CreateSession(ctx, sess, "raw-token"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.TokenHash != HashToken("raw-token") {
		t.Error("token hash not populated")
	}

	gotSess, gotID, err := s.FindSessionByToken(ctx, "raw-token")
	if err != nil {
		t.Fatalf("FindSessionByToken: %v", err)
	}
	if gotSess.ID != sess.ID || gotSess.IdentityID != id.ID {
		t.Errorf("session = %+v", gotSess)
	}
	if gotID.ID != id.ID || !gotID.HasRole(authz.RoleStaff) {
		t.Errorf("identity = %+v", gotID)
	}
	if gotSess.IPAddress != "10.0.0.1" {
		t.Errorf("ip = %q", gotSess.IPAddress)
	}

	newExp := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	if err := s.TouchSession(ctx, sess.ID, newExp); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	gotSess, _, _ = s.FindSessionByToken(ctx, "raw-token")
	if !gotSess.ExpiresAt.Equal(newExp) {
		t.Errorf("expires = %v, want %v", gotSess.ExpiresAt, newExp)
	}

	list, err := s.ListSessions(ctx, id.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListSessions = %d, %v", len(list), err)
	}

	if err := s.DeleteSessionByToken(ctx, "raw-token"); err != nil {
		t.Fatalf("DeleteSessionByToken: %v", err)
	}
	if _, _, err := s.FindSessionByToken(ctx, "raw-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestDeleteSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createTestIdentity(t, s, "multi@example.com")
	now := time.Now().UTC()

	for i, tok := range []string{"t1", "t2", "t3"} {
		exp := now.Add(time.Hour)
		if i == 0 {
			exp = now.Add(-time.Hour)
		}
		if err := s.CreateSession(ctx, &model.Session{IdentityID: id.ID, ExpiresAt: exp}, tok); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	n, err := s.DeleteExpiredSessions(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpiredSessions = %d, %v; want 1", n, err)
	}
	n, err = s.DeleteIdentitySessions(ctx, id.ID)
	if err != nil || n != 2 {
		t.Fatalf("DeleteIdentitySessions = %d, %v; want 2", n, err)
	}
}

func TestHashToken(t *testing.T) {
	h1 := HashToken("abc")
	h2 := HashToken("abc")
	if h1 != h2 {
		t.Error("same input should produce same hash")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
	if HashToken("abd") == h1 {
		t.Error("different input should produce different hash")
	}
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := NewStore(StoreOptions{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := NewStore(StoreOptions{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
}

func TestResolveDSNMySQL(t *testing.T) {
	dsn, err := resolveDSN("mysql", StoreOptions{DSN: "clinic:pw@tcp(db:3306)/smartclin"})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN(%q): %v", dsn, err)
	}
	if !cfg.ClientFoundRows {
		t.Error("clientFoundRows not set; same-value updates would report no rows")
	}
	if !cfg.ParseTime || cfg.Loc != time.UTC {
		t.Errorf("parseTime = %v, loc = %v", cfg.ParseTime, cfg.Loc)
	}

	if _, err := resolveDSN("mysql", StoreOptions{}); err == nil {
		t.Error("expected an error without a dsn")
	}
}

func TestUnbanIdentityNotBanned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := &model.Identity{Email: "calm@example.com", Name: "Calm"}
	if err := s.CreateIdentity(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := s.UnbanIdentity(ctx, id.ID); err != nil {
		t.Errorf("UnbanIdentity on an identity that is not banned: %v", err)
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return newStoreWithDB(sqlx.NewDb(db, "sqlmock"), dialects["sqlite"]), mock
}

func TestFindSessionByTokenDriverError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM sessions s").
		WithArgs(HashToken("tok")).
		WillReturnError(errors.New("connection reset"))

	_, _, err := s.FindSessionByToken(context.Background(), "tok")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want wrapped driver error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestTouchSessionNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE sessions SET expires_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.TouchSession(context.Background(), "gone", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestCreateIdentityConflictFromDriver(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO identities").
		WillReturnError(errors.New("UNIQUE constraint failed: identities.email"))

	err := s.CreateIdentity(context.Background(), &model.Identity{Email: "x@example.com"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}
