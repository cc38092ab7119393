package config

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
)

// StoreOptions selects the engine backing the credential store. The zero
// value opens an in-memory SQLite database.
type StoreOptions struct {
	Driver  string // sqlite (default), postgres, mysql
	DSN     string
	DataDir string // sqlite only, used when DSN is empty
}

// Store is the credential store: identities and their sessions.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	now     func() time.Time
}

// NewStore opens the credential store and applies migrations.
func NewStore(opts StoreOptions) (*Store, error) {
	driver := strings.ToLower(opts.Driver)
	if driver == "" {
		driver = "sqlite"
	}
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q (want sqlite, postgres or mysql)", opts.Driver)
	}

	dsn, err := resolveDSN(driver, opts)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := newStoreWithDB(db, d)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate credential database: %w", err)
	}
	return s, nil
}

func newStoreWithDB(db *sqlx.DB, d dialect) *Store {
	return &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

func resolveDSN(driver string, opts StoreOptions) (string, error) {
	switch driver {
	case "sqlite":
		if opts.DSN != "" {
			return opts.DSN, nil
		}
		if opts.DataDir == "" {
			return ":memory:?_journal_mode=WAL&_time_format=sqlite", nil
		}
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
		return filepath.Join(opts.DataDir, "smartclin.db") + "?_journal_mode=WAL&_busy_timeout=5000&_time_format=sqlite", nil
	case "mysql":
		if opts.DSN == "" {
			return "", fmt.Errorf("store.dsn is required for driver %q", driver)
		}
		cfg, err := mysql.ParseDSN(opts.DSN)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		// Affected rows must count matched rows; execOne maps zero to ErrNotFound.
		cfg.ClientFoundRows = true
		return cfg.FormatDSN(), nil
	default:
		if opts.DSN == "" {
			return "", fmt.Errorf("store.dsn is required for driver %q", driver)
		}
		return opts.DSN, nil
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured engine name.
func (s *Store) Driver() string {
	for name, d := range dialects {
		if d.driver == s.dialect.driver {
			return name
		}
	}
	return s.dialect.driver
}

// ---------------------------------------------------------------------------
// Identities
// ---------------------------------------------------------------------------

const identityColumns = `id, name, email, email_verified, roles, password_hash,
	banned, ban_reason, ban_expires, created_at, updated_at`

type identityRow struct {
	ID            string       `db:"id"`
	Name          string       `db:"name"`
	Email         string       `db:"email"`
	EmailVerified bool         `db:"email_verified"`
	Roles         string       `db:"roles"`
	PasswordHash  string       `db:"password_hash"`
	Banned        bool         `db:"banned"`
	BanReason     string       `db:"ban_reason"`
	BanExpires    sql.NullTime `db:"ban_expires"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func identityRowFromModel(id *model.Identity) identityRow {
	row := identityRow{
		ID:            id.ID,
		Name:          id.Name,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		Roles:         authz.JoinRoles(id.Roles),
		PasswordHash:  id.PasswordHash,
		Banned:        id.Banned,
		BanReason:     id.BanReason,
		CreatedAt:     id.CreatedAt,
		UpdatedAt:     id.UpdatedAt,
	}
	if id.BanExpires != nil {
		row.BanExpires = sql.NullTime{Time: id.BanExpires.UTC(), Valid: true}
	}
	return row
}

func (r identityRow) toModel() model.Identity {
	id := model.Identity{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		Roles:         authz.ParseRoles(r.Roles),
		PasswordHash:  r.PasswordHash,
		Banned:        r.Banned,
		BanReason:     r.BanReason,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.BanExpires.Valid {
		t := r.BanExpires.Time.UTC()
		id.BanExpires = &t
	}
	return id
}

// CreateIdentity inserts a new identity. ID, CreatedAt and UpdatedAt are
// populated on success, and an empty role set is replaced by the default
// role. A duplicate e-mail returns ErrConflict.
func (s *Store) CreateIdentity(ctx context.Context, id *model.Identity) error {
	now := s.now()
	id.ID = uuid.Must(uuid.NewV7()).String()
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))
	id.Roles = authz.Normalize(authz.Names(id.Roles))
	id.CreatedAt = now
	id.UpdatedAt = now

	const q = `INSERT INTO identities
		(id, name, email, email_verified, roles, password_hash, banned, ban_reason, ban_expires, created_at, updated_at)
		VALUES
		(:id, :name, :email, :email_verified, :roles, :password_hash, :banned, :ban_reason, :ban_expires, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, identityRowFromModel(id)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert identity %s: %w", id.Email, ErrConflict)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// FindIdentityByID returns an identity by its id.
func (s *Store) FindIdentityByID(ctx context.Context, id string) (*model.Identity, error) {
	return s.getIdentity(ctx, "id", id)
}

// FindIdentityByEmail returns an identity by e-mail, compared case-insensitively.
func (s *Store) FindIdentityByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return s.getIdentity(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) getIdentity(ctx context.Context, column, value string) (*model.Identity, error) {
	var row identityRow
	q := s.db.Rebind("SELECT " + identityColumns + " FROM identities WHERE " + column + " = ?")
	if err := s.db.GetContext(ctx, &row, q, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity by %s: %w", column, err)
	}
	id := row.toModel()
	return &id, nil
}

// ListIdentities returns identities ordered by creation, newest first. A
// limit of zero or less returns every identity.
func (s *Store) ListIdentities(ctx context.Context, limit, offset int) ([]model.Identity, error) {
	q := "SELECT " + identityColumns + " FROM identities ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(offset, 0))
	}

	var rows []identityRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	out := make([]model.Identity, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// CountIdentities returns the number of identities. The CLI uses it for
// first-run detection.
func (s *Store) CountIdentities(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM identities"); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

// SetIdentityRoles replaces an identity's role set. An empty set stores the
// default role.
func (s *Store) SetIdentityRoles(ctx context.Context, id string, roles []authz.Role) error {
	joined := authz.JoinRoles(authz.Normalize(authz.Names(roles)))
	return s.execOne(ctx, "set identity roles",
		"UPDATE identities SET roles = ?, updated_at = ? WHERE id = ?", joined, s.now(), id)
}

// BanIdentity marks an identity banned. A nil expires bans indefinitely.
func (s *Store) BanIdentity(ctx context.Context, id, reason string, expires *time.Time) error {
	var exp sql.NullTime
	if expires != nil {
		exp = sql.NullTime{Time: expires.UTC(), Valid: true}
	}
	return s.execOne(ctx, "ban identity",
		"UPDATE identities SET banned = ?, ban_reason = ?, ban_expires = ?, updated_at = ? WHERE id = ?",
		true, reason, exp, s.now(), id)
}

// UnbanIdentity lifts a ban.
func (s *Store) UnbanIdentity(ctx context.Context, id string) error {
	return s.execOne(ctx, "unban identity",
		"UPDATE identities SET banned = ?, ban_reason = '', ban_expires = NULL, updated_at = ? WHERE id = ?",
		false, s.now(), id)
}

// SetPasswordHash replaces the stored bcrypt hash of an identity.
func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.execOne(ctx, "set password hash",
		"UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?", hash, s.now(), id)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

const sessionColumns = `id, token_hash, identity_id, expires_at, created_at, updated_at,
	ip_address, user_agent, impersonated_by`

type sessionRow struct {
	ID             string    `db:"id"`
	TokenHash      string    `db:"token_hash"`
	IdentityID     string    `db:"identity_id"`
	ExpiresAt      time.Time `db:"expires_at"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	IPAddress      string    `db:"ip_address"`
	UserAgent      string    `db:"user_agent"`
	ImpersonatedBy string    `db:"impersonated_by"`
}

func (r sessionRow) toModel() model.Session {
	return model.Session{
		ID:             r.ID,
		TokenHash:      r.TokenHash,
		IdentityID:     r.IdentityID,
		ExpiresAt:      r.ExpiresAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		IPAddress:      r.IPAddress,
		UserAgent:      r.UserAgent,
		ImpersonatedBy: r.ImpersonatedBy,
	}
}

// sessionIdentityRow is the flat result of the session/identity join.
type sessionIdentityRow struct {
	SID             string    `db:"s_id"`
	STokenHash      string    `db:"s_token_hash"`
	SExpiresAt      time.Time `db:"s_expires_at"`
	SCreatedAt      time.Time `db:"s_created_at"`
	SUpdatedAt      time.Time `db:"s_updated_at"`
	SIPAddress      string    `db:"s_ip_address"`
	SUserAgent      string    `db:"s_user_agent"`
	SImpersonatedBy string    `db:"s_impersonated_by"`
	identityRow
}

func (r sessionIdentityRow) split() (model.Session, model.Identity) {
	sess := sessionRow{
		ID:             r.SID,
		TokenHash:      r.STokenHash,
		IdentityID:     r.identityRow.ID,
		ExpiresAt:      r.SExpiresAt,
		CreatedAt:      r.SCreatedAt,
		UpdatedAt:      r.SUpdatedAt,
		IPAddress:      r.SIPAddress,
		UserAgent:      r.SUserAgent,
		ImpersonatedBy: r.SImpersonatedBy,
	}.toModel()
	return sess, r.identityRow.toModel()
}

// FindSessionByToken looks up a session by its raw token and returns it with
// its owning identity in a single query. The caller decides whether the
// session is still valid; expired rows are returned as stored.
func (s *Store) FindSessionByToken(ctx context.Context, token string) (*model.Session, *model.Identity, error) {
	const q = `SELECT
		s.id AS s_id, s.token_hash AS s_token_hash, s.expires_at AS s_expires_at,
		s.created_at AS s_created_at, s.updated_at AS s_updated_at,
		s.ip_address AS s_ip_address, s.user_agent AS s_user_agent,
		s.impersonated_by AS s_impersonated_by,
		i.id, i.name, i.email, i.email_verified, i.roles, i.password_hash,
		i.banned, i.ban_reason, i.ban_expires, i.created_at, i.updated_at
		FROM sessions s
		JOIN identities i ON i.id = s.identity_id
		WHERE s.token_hash = ?`

	var row sessionIdentityRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(q), HashToken(token)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("find session by token: %w", err)
	}
	sess, id := row.split()
	return &sess, &id, nil
}

// CreateSession stores a session for the given raw token. Only the token's
// digest is persisted. ID, CreatedAt and UpdatedAt are populated on success.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session, token string) error {
	now := s.now()
	sess.ID = uuid.Must(uuid.NewV7()).String()
	sess.TokenHash = HashToken(token)
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.ExpiresAt = sess.ExpiresAt.UTC()

	const q = `INSERT INTO sessions
		(id, token_hash, identity_id, expires_at, created_at, updated_at, ip_address, user_agent, impersonated_by)
		VALUES
		(:id, :token_hash, :identity_id, :expires_at, :created_at, :updated_at, :ip_address, :user_agent, :impersonated_by)`

	row := sessionRow{
		ID:             sess.ID,
		TokenHash:      sess.TokenHash,
		IdentityID:     sess.IdentityID,
		ExpiresAt:      sess.ExpiresAt,
		CreatedAt:      sess.CreatedAt,
		UpdatedAt:      sess.UpdatedAt,
		IPAddress:      sess.IPAddress,
		UserAgent:      sess.UserAgent,
		ImpersonatedBy: sess.ImpersonatedBy,
	}
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert session: %w", ErrConflict)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// TouchSession moves a session's expiry. It is the only write the session
// resolver performs.
func (s *Store) TouchSession(ctx context.Context, id string, expiresAt time.Time) error {
	return s.execOne(ctx, "touch session",
		"UPDATE sessions SET expires_at = ?, updated_at = ? WHERE id = ?", expiresAt.UTC(), s.now(), id)
}

// ListSessions returns the sessions owned by an identity, newest first.
func (s *Store) ListSessions(ctx context.Context, identityID string) ([]model.Session, error) {
	var rows []sessionRow
	q := s.db.Rebind("SELECT " + sessionColumns + " FROM sessions WHERE identity_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &rows, q, identityID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.Session, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// DeleteSession removes a session by id.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.execOne(ctx, "delete session", "DELETE FROM sessions WHERE id = ?", id)
}

// DeleteSessionByToken removes the session a raw token refers to.
func (s *Store) DeleteSessionByToken(ctx context.Context, token string) error {
	return s.execOne(ctx, "delete session by token", "DELETE FROM sessions WHERE token_hash = ?", HashToken(token))
}

// DeleteIdentitySessions removes every session of an identity and returns
// how many were removed.
func (s *Store) DeleteIdentitySessions(ctx context.Context, identityID string) (int64, error) {
	return s.execCount(ctx, "delete identity sessions", "DELETE FROM sessions WHERE identity_id = ?", identityID)
}

// DeleteExpiredSessions removes sessions that expired before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.execCount(ctx, "delete expired sessions", "DELETE FROM sessions WHERE expires_at <= ?", now.UTC())
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// execOne runs a statement that must affect exactly one row; zero affected
// rows returns ErrNotFound.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	n, err := s.execCount(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n, nil
}

// HashToken returns the hex-encoded SHA-256 hash of a raw session token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
