package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
)

var (
	ErrSelfAction          = errors.New("operation not allowed on your own account")
	ErrImpersonateAdmin    = errors.New("admins cannot be impersonated")
	ErrNotImpersonating    = errors.New("session is not an impersonation session")
	ErrAlreadyImpersonated = errors.New("cannot impersonate from an impersonation session")
)

// CreateIdentityInput is an admin-provisioned identity. Roles must all be
// known names; an empty list gets the default role.
type CreateIdentityInput struct {
	Name     string
	Email    string
	Password string
	Roles    []string
}

// ListIdentities returns a page of identities and the total count.
func (s *AuthService) ListIdentities(ctx context.Context, limit, offset int) ([]model.Identity, int64, error) {
	ids, err := s.store.ListIdentities(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountIdentities(ctx)
	if err != nil {
		return nil, 0, err
	}
	return ids, total, nil
}

// GetIdentity returns one identity by id.
func (s *AuthService) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	return s.store.FindIdentityByID(ctx, id)
}

// CreateIdentity provisions an identity with any roles.
func (s *AuthService) CreateIdentity(ctx context.Context, in CreateIdentityInput) (*model.Identity, error) {
	roles, err := lookupRoles(in.Roles)
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}
	id := &model.Identity{
		Name:         strings.TrimSpace(in.Name),
		Email:        in.Email,
		Roles:        roles,
		PasswordHash: hash,
	}
	if err := s.store.CreateIdentity(ctx, id); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("identity created", "identity_id", id.ID, "roles", authz.JoinRoles(id.Roles))
	return id, nil
}

// SetRoles replaces the roles of target. An admin cannot drop their own
// admin role.
func (s *AuthService) SetRoles(ctx context.Context, actorID, targetID string, names []string) (*model.Identity, error) {
	roles, err := lookupRoles(names)
	if err != nil {
		return nil, err
	}
	if actorID == targetID && !authz.HasRole(roles, authz.RoleAdmin) {
		return nil, ErrSelfAction
	}
	if err := s.store.SetIdentityRoles(ctx, targetID, roles); err != nil {
		return nil, err
	}
	s.logger.Info("identity roles changed", "identity_id", targetID, "actor_id", actorID, "roles", authz.JoinRoles(roles))
	return s.store.FindIdentityByID(ctx, targetID)
}

// Ban bans target and revokes all of its sessions. A zero expiresIn bans
// indefinitely.
func (s *AuthService) Ban(ctx context.Context, actorID, targetID, reason string, expiresIn time.Duration) error {
	if actorID == targetID {
		return ErrSelfAction
	}
	var expires *time.Time
	if expiresIn > 0 {
		t := s.opts.Now().Add(expiresIn)
		expires = &t
	}
	if err := s.store.BanIdentity(ctx, targetID, reason, expires); err != nil {
		return err
	}
	n, err := s.store.DeleteIdentitySessions(ctx, targetID)
	if err != nil {
		return fmt.Errorf("revoke sessions of banned identity: %w", err)
	}
	s.logger.Info("identity banned", "identity_id", targetID, "actor_id", actorID, "revoked_sessions", n)
	return nil
}

// Unban lifts a ban.
func (s *AuthService) Unban(ctx context.Context, targetID string) error {
	return s.store.UnbanIdentity(ctx, targetID)
}

// RevokeSessions removes every session of target.
func (s *AuthService) RevokeSessions(ctx context.Context, targetID string) (int64, error) {
	if _, err := s.store.FindIdentityByID(ctx, targetID); err != nil {
		return 0, err
	}
	return s.store.DeleteIdentitySessions(ctx, targetID)
}

// SetPassword replaces target's password and revokes its sessions.
func (s *AuthService) SetPassword(ctx context.Context, targetID, password string) error {
	hash, err := HashPassword(password, s.opts.BcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.SetPasswordHash(ctx, targetID, hash); err != nil {
		return err
	}
	_, err = s.store.DeleteIdentitySessions(ctx, targetID)
	return err
}

// Impersonate creates a short-lived session for target marked as opened by
// actor.
func (s *AuthService) Impersonate(ctx context.Context, actor *model.Session, targetID string, meta ClientMeta) (*Issued, error) {
	if actor.Impersonating() {
		return nil, ErrAlreadyImpersonated
	}
	if actor.IdentityID == targetID {
		return nil, ErrSelfAction
	}
	target, err := s.store.FindIdentityByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.HasRole(authz.RoleAdmin) {
		return nil, ErrImpersonateAdmin
	}
	if target.IsBanned(s.opts.Now()) {
		return nil, ErrBanned
	}
	issued, err := s.issue(ctx, target, meta, actor.IdentityID, s.opts.ImpersonationTTL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("impersonation started", "identity_id", target.ID, "actor_id", actor.IdentityID, "session_id", issued.Session.ID)
	return issued, nil
}

// StopImpersonating ends an impersonation session and returns the
// impersonator to a session of their own.
func (s *AuthService) StopImpersonating(ctx context.Context, current *model.Session, meta ClientMeta) (*Issued, error) {
	if !current.Impersonating() {
		return nil, ErrNotImpersonating
	}
	if err := s.SignOut(ctx, current.ID); err != nil {
		return nil, err
	}
	admin, err := s.store.FindIdentityByID(ctx, current.ImpersonatedBy)
	if err != nil {
		return nil, err
	}
	if admin.IsBanned(s.opts.Now()) {
		return nil, ErrBanned
	}
	s.logger.Info("impersonation stopped", "identity_id", current.IdentityID, "actor_id", admin.ID)
	return s.issue(ctx, admin, meta, "", s.opts.SessionTTL)
}

// ListOwnSessions returns the caller's sessions.
func (s *AuthService) ListOwnSessions(ctx context.Context, identityID string) ([]model.Session, error) {
	return s.store.ListSessions(ctx, identityID)
}

// RevokeOwnSession removes one of the caller's sessions. A session owned by
// someone else reports config.ErrNotFound.
func (s *AuthService) RevokeOwnSession(ctx context.Context, identityID, sessionID string) error {
	sessions, err := s.store.ListSessions(ctx, identityID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.ID == sessionID {
			return s.store.DeleteSession(ctx, sessionID)
		}
	}
	return fmt.Errorf("session %s: %w", sessionID, config.ErrNotFound)
}

// PurgeExpiredSessions deletes every expired session.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.opts.Now())
}

func lookupRoles(names []string) ([]authz.Role, error) {
	roles := make([]authz.Role, 0, len(names))
	for _, n := range names {
		r, err := authz.Lookup(n)
		if err != nil {
			return nil, err
		}
		if !authz.HasRole(roles, r) {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		roles = append(roles, authz.DefaultRole)
	}
	return roles, nil
}
