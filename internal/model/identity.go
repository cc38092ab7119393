package model

import (
	"time"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
)

// Identity is an authenticated actor of the clinic. Roles is never empty;
// the credential store applies authz.DefaultRole when nothing valid is stored.
type Identity struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Email         string       `json:"email"`
	EmailVerified bool         `json:"email_verified"`
	Roles         []authz.Role `json:"roles"`
	PasswordHash  string       `json:"-"` // bcrypt hash, never expose
	Banned        bool         `json:"banned"`
	BanReason     string       `json:"ban_reason,omitempty"`
	BanExpires    *time.Time   `json:"ban_expires,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IsBanned reports whether the ban is in effect at now. A ban without an
// expiry never lapses.
func (i *Identity) IsBanned(now time.Time) bool {
	if !i.Banned {
		return false
	}
	return i.BanExpires == nil || now.Before(*i.BanExpires)
}

// HasRole reports whether the identity holds r.
func (i *Identity) HasRole(r authz.Role) bool {
	return authz.HasRole(i.Roles, r)
}

// PrimaryRole returns the identity's highest-privilege role.
func (i *Identity) PrimaryRole() authz.Role {
	return authz.Primary(i.Roles)
}
