package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrBanned             = errors.New("account is banned")
)

// ClientMeta describes the client a session is issued to.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Issued is a freshly created session together with the signed token the
// client should present.
type Issued struct {
	Identity *model.Identity
	Session  *model.Session
	Token    string
}

// AuthOptions configures AuthService.
type AuthOptions struct {
	// SessionTTL is the lifetime of sessions created by sign-in and sign-up.
	SessionTTL time.Duration
	// ImpersonationTTL bounds impersonation sessions. Defaults to one hour.
	ImpersonationTTL time.Duration
	// BcryptCost is the hashing cost; zero uses bcrypt.DefaultCost.
	BcryptCost int
	Logger     *slog.Logger
	Now        func() time.Time
}

// AuthService exchanges credentials for sessions and performs the
// administrative operations on identities. Authorization of the caller is
// the gate's job; AuthService only enforces rules about the target.
type AuthService struct {
	store  *config.Store
	signer *session.Signer
	opts   AuthOptions
	logger *slog.Logger

	// dummyHash keeps sign-in timing uniform for unknown e-mails.
	dummyHash []byte
}

// NewAuthService creates an AuthService.
func NewAuthService(store *config.Store, signer *session.Signer, opts AuthOptions) *AuthService {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.ImpersonationTTL <= 0 {
		opts.ImpersonationTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("smartclin-placeholder"), cost)
	return &AuthService{store: store, signer: signer, opts: opts, logger: logger, dummyHash: dummy}
}

// SignUp creates a patient identity and signs it in.
func (s *AuthService) SignUp(ctx context.Context, name, email, password string, meta ClientMeta) (*Issued, error) {
	hash, err := HashPassword(password, s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}
	id := &model.Identity{
		Name:         strings.TrimSpace(name),
		Email:        email,
		Roles:        []authz.Role{authz.DefaultRole},
		PasswordHash: hash,
	}
	if err := s.store.CreateIdentity(ctx, id); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("identity signed up", "identity_id", id.ID)
	return s.issue(ctx, id, meta, "", s.opts.SessionTTL)
}

// SignIn verifies an e-mail and password and creates a session. Unknown
// e-mails and wrong passwords are indistinguishable to the caller.
func (s *AuthService) SignIn(ctx context.Context, email, password string, meta ClientMeta) (*Issued, error) {
	id, err := s.store.FindIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !VerifyPassword(id.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if id.IsBanned(s.opts.Now()) {
		return nil, ErrBanned
	}
	return s.issue(ctx, id, meta, "", s.opts.SessionTTL)
}

// SignOut destroys a session. Signing out an already removed session is not
// an error.
func (s *AuthService) SignOut(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, config.ErrNotFound) {
		return err
	}
	return nil
}

// IssueToken signs the raw token of a session for its owner.
func (s *AuthService) IssueToken(rawToken string, sess *model.Session) (string, error) {
	return s.signer.Sign(rawToken, sess.IdentityID, sess.CreatedAt)
}

func (s *AuthService) issue(ctx context.Context, id *model.Identity, meta ClientMeta, impersonatedBy string, ttl time.Duration) (*Issued, error) {
	raw, err := session.NewToken()
	if err != nil {
		return nil, err
	}
	sess := &model.Session{
		IdentityID:     id.ID,
		ExpiresAt:      s.opts.Now().Add(ttl),
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		ImpersonatedBy: impersonatedBy,
	}
	if err := s.store.CreateSession(ctx, sess, raw); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	signed, err := s.IssueToken(raw, sess)
	if err != nil {
		return nil, err
	}
	return &Issued{Identity: id, Session: sess, Token: signed}, nil
}
