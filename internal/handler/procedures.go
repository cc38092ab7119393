package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
	"github.com/smartclin/smart-app-clinic-sub000/internal/rpc"
	"github.com/smartclin/smart-app-clinic-sub000/internal/service"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// Procedures are the application's remote procedures over the credential
// exchange service.
type Procedures struct {
	auth     *service.AuthService
	resolver *session.Resolver
	now      func() time.Time
}

// NewProcedures creates the procedure set.
func NewProcedures(auth *service.AuthService, resolver *session.Resolver) *Procedures {
	return &Procedures{auth: auth, resolver: resolver, now: time.Now}
}

// Register adds every procedure to reg. It panics on a misdeclared
// procedure so a bad role or statement stops startup.
func (p *Procedures) Register(reg *rpc.Registry) {
	reg.MustRegister(
		rpc.Procedure{
			Name:        "health.ping",
			Description: "Liveness probe for RPC clients.",
			Exposure:    rpc.Public,
			Handler:     p.ping,
		},
		rpc.Procedure{
			Name:        "session.get",
			Description: "The caller's identity and session.",
			Exposure:    rpc.Authenticated,
			Handler:     p.sessionGet,
		},
		rpc.Procedure{
			Name:        "session.list",
			Description: "Every session of the caller.",
			Exposure:    rpc.Authenticated,
			Handler:     p.sessionList,
		},
		rpc.Procedure{
			Name:        "session.revoke",
			Description: "Revoke one of the caller's sessions.",
			Exposure:    rpc.Authenticated,
			Input:       idInput{},
			Handler:     p.sessionRevoke,
		},
		rpc.Procedure{
			Name:        "patient.profile",
			Description: "The caller's own patient profile.",
			Exposure:    rpc.Authenticated,
			Permission:  "patient:read-own",
			Handler:     p.patientProfile,
		},
		rpc.Procedure{
			Name:        "dashboard.summary",
			Description: "The caller's landing route and granted statements.",
			Exposure:    rpc.Authenticated,
			Handler:     p.dashboardSummary,
		},
		rpc.Procedure{
			Name:        "admin.listUsers",
			Description: "Page through identities.",
			Exposure:    rpc.RoleRestricted,
			Role:        "admin",
			Permission:  "user:list",
			Input:       pageInput{},
			Handler:     p.listUsers,
		},
		rpc.Procedure{
			Name:        "admin.createUser",
			Description: "Provision an identity with any roles.",
			Exposure:    rpc.RoleRestricted,
			Role:        "admin",
			Permission:  "user:create",
			Input:       createUserInput{},
			Handler:     p.createUser,
		},
		rpc.Procedure{
			Name:        "admin.setRole",
			Description: "Replace an identity's roles.",
			Exposure:    rpc.RoleRestricted,
			Role:        "admin",
			Permission:  "user:set-role",
			Input:       setRoleInput{},
			Handler:     p.setRole,
		},
		rpc.Procedure{
			Name:        "admin.setUserPassword",
			Description: "Replace an identity's password and revoke its sessions.",
			Exposure:    rpc.RoleRestricted,
			Role:        "admin",
			Permission:  "user:set-password",
			Input:       setPasswordInput{},
			Handler:     p.setUserPassword,
		},
		rpc.Procedure{
			Name:        "admin.banUser",
			Description: "Ban an identity and revoke its sessions.",
			Exposure:    rpc.RoleRestricted,
			Role:        "admin",
			Permission:  "user:ban",
			Input:       banInput{},
			Handler:     p.banUser,
		},
		rpc.Procedure{
			Name:        "admin.unbanUser",
			Description: "Lift a ban.",
			Exposure:    rpc.RoleRestricted,
			Role:        "admin",
			Permission:  "user:ban",
			Input:       userInput{},
			Handler:     p.unbanUser,
		},
		rpc.Procedure{
			Name:        "admin.revokeSessions",
			Description: "Revoke every session of an identity.",
			Exposure:    rpc.RoleRestricted,
			Role:        "admin",
			Permission:  "session:revoke",
			Input:       userInput{},
			Handler:     p.revokeSessions,
		},
		rpc.Procedure{
			Name:        "admin.impersonateUser",
			Description: "Open a one-hour session as a non-admin identity.",
			Exposure:    rpc.RoleRestricted,
			Role:        "admin",
			Permission:  "user:impersonate",
			Fresh:       true,
			Input:       userInput{},
			Handler:     p.impersonateUser,
		},
		// Called from the impersonation session, whose owner is not an admin.
		rpc.Procedure{
			Name:        "admin.stopImpersonating",
			Description: "End an impersonation session and return to the admin's own session.",
			Exposure:    rpc.Authenticated,
			Handler:     p.stopImpersonating,
		},
	)
}

func principal(ctx context.Context) *gate.Principal {
	return gate.PrincipalFromContext(ctx)
}

func (p *Procedures) meta(ctx context.Context) service.ClientMeta {
	if r := rpc.HTTPRequest(ctx); r != nil {
		return clientMeta(r)
	}
	return service.ClientMeta{}
}

// issue hands a new session to the client as both a cookie and a token.
func (p *Procedures) issue(ctx context.Context, issued *service.Issued) any {
	rpc.SetCookie(ctx, p.resolver.Cookie(issued.Token, issued.Session.ExpiresAt))
	return authResponse{
		Token:    issued.Token,
		User:     issued.Identity,
		Session:  issued.Session,
		Redirect: gate.LandingRoute(issued.Identity.Roles),
	}
}

func (p *Procedures) ping(context.Context, json.RawMessage) (any, error) {
	return map[string]any{"status": "ok", "time": p.now().UTC()}, nil
}

func (p *Procedures) sessionGet(ctx context.Context, _ json.RawMessage) (any, error) {
	pr := principal(ctx)
	return sessionResponse{User: pr.Identity, Session: pr.Session}, nil
}

type sessionListItem struct {
	model.Session
	Current bool `json:"current"`
}

func (p *Procedures) sessionList(ctx context.Context, _ json.RawMessage) (any, error) {
	pr := principal(ctx)
	sessions, err := p.auth.ListOwnSessions(ctx, pr.ID())
	if err != nil {
		return nil, serviceError(err)
	}
	items := make([]sessionListItem, len(sessions))
	for i, s := range sessions {
		items[i] = sessionListItem{Session: s, Current: s.ID == pr.Session.ID}
	}
	return model.ListResponse[sessionListItem]{
		Resource: items,
		Meta:     &model.ResponseMeta{Count: len(items)},
	}, nil
}

type idInput struct {
	ID string `json:"id" validate:"required"`
}

func (p *Procedures) sessionRevoke(ctx context.Context, input json.RawMessage) (any, error) {
	var in idInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	pr := principal(ctx)
	if err := p.auth.RevokeOwnSession(ctx, pr.ID(), in.ID); err != nil {
		return nil, serviceError(err)
	}
	if in.ID == pr.Session.ID {
		rpc.SetCookie(ctx, p.resolver.ExpiredCookie())
	}
	return map[string]bool{"success": true}, nil
}

type profile struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Roles         []string `json:"roles"`
}

func (p *Procedures) patientProfile(ctx context.Context, _ json.RawMessage) (any, error) {
	id := principal(ctx).Identity
	return profile{
		ID:            id.ID,
		Name:          id.Name,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		Roles:         authz.Names(id.Roles),
	}, nil
}

type summary struct {
	Landing       string            `json:"landing"`
	PrimaryRole   string            `json:"primary_role"`
	Roles         []string          `json:"roles"`
	Permissions   []authz.Statement `json:"permissions"`
	Impersonating bool              `json:"impersonating"`
}

func (p *Procedures) dashboardSummary(ctx context.Context, _ json.RawMessage) (any, error) {
	pr := principal(ctx)
	return summary{
		Landing:       gate.LandingRoute(pr.Roles()),
		PrimaryRole:   authz.Primary(pr.Roles()).String(),
		Roles:         authz.Names(pr.Roles()),
		Permissions:   authz.Merged(pr.Roles()),
		Impersonating: pr.Session.Impersonating(),
	}, nil
}

type pageInput struct {
	Limit  int `json:"limit" validate:"gte=0"`
	Offset int `json:"offset" validate:"gte=0"`
}

func (p *Procedures) listUsers(ctx context.Context, input json.RawMessage) (any, error) {
	in := pageInput{Limit: defaultPageSize}
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	in.Limit = clampInt(in.Limit, 1, maxPageSize)
	ids, total, err := p.auth.ListIdentities(ctx, in.Limit, in.Offset)
	if err != nil {
		return nil, serviceError(err)
	}
	return model.ListResponse[model.Identity]{
		Resource: ids,
		Meta:     &model.ResponseMeta{Count: len(ids), Total: &total, Limit: in.Limit, Offset: in.Offset},
	}, nil
}

type createUserInput struct {
	Name     string   `json:"name" validate:"required,max=120"`
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=8,max=72"`
	Roles    []string `json:"roles" validate:"dive,role"`
}

func (p *Procedures) createUser(ctx context.Context, input json.RawMessage) (any, error) {
	var in createUserInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := p.auth.CreateIdentity(ctx, service.CreateIdentityInput{
		Name: in.Name, Email: in.Email, Password: in.Password, Roles: in.Roles,
	})
	if err != nil {
		return nil, serviceError(err)
	}
	return id, nil
}

type setRoleInput struct {
	UserID string   `json:"userId" validate:"required"`
	Roles  []string `json:"roles" validate:"required,min=1,dive,role"`
}

func (p *Procedures) setRole(ctx context.Context, input json.RawMessage) (any, error) {
	var in setRoleInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	id, err := p.auth.SetRoles(ctx, principal(ctx).ID(), in.UserID, in.Roles)
	if err != nil {
		return nil, serviceError(err)
	}
	return id, nil
}

type setPasswordInput struct {
	UserID   string `json:"userId" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (p *Procedures) setUserPassword(ctx context.Context, input json.RawMessage) (any, error) {
	var in setPasswordInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := p.auth.SetPassword(ctx, in.UserID, in.Password); err != nil {
		return nil, serviceError(err)
	}
	return map[string]bool{"success": true}, nil
}

type banInput struct {
	UserID string `json:"userId" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
	// ExpiresIn is the ban length in seconds; zero bans indefinitely.
	ExpiresIn int64 `json:"expiresIn" validate:"gte=0"`
}

func (p *Procedures) banUser(ctx context.Context, input json.RawMessage) (any, error) {
	var in banInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	err := p.auth.Ban(ctx, principal(ctx).ID(), in.UserID, in.Reason, time.Duration(in.ExpiresIn)*time.Second)
	if err != nil {
		return nil, serviceError(err)
	}
	return p.auth.GetIdentity(ctx, in.UserID)
}

type userInput struct {
	UserID string `json:"userId" validate:"required"`
}

func (p *Procedures) unbanUser(ctx context.Context, input json.RawMessage) (any, error) {
	var in userInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := p.auth.Unban(ctx, in.UserID); err != nil {
		return nil, serviceError(err)
	}
	return p.auth.GetIdentity(ctx, in.UserID)
}

func (p *Procedures) revokeSessions(ctx context.Context, input json.RawMessage) (any, error) {
	var in userInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	n, err := p.auth.RevokeSessions(ctx, in.UserID)
	if err != nil {
		return nil, serviceError(err)
	}
	return map[string]int64{"revoked": n}, nil
}

func (p *Procedures) impersonateUser(ctx context.Context, input json.RawMessage) (any, error) {
	var in userInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	issued, err := p.auth.Impersonate(ctx, principal(ctx).Session, in.UserID, p.meta(ctx))
	if err != nil {
		return nil, serviceError(err)
	}
	return p.issue(ctx, issued), nil
}

func (p *Procedures) stopImpersonating(ctx context.Context, _ json.RawMessage) (any, error) {
	issued, err := p.auth.StopImpersonating(ctx, principal(ctx).Session, p.meta(ctx))
	if err != nil {
		return nil, serviceError(err)
	}
	return p.issue(ctx, issued), nil
}
