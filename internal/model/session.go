package model

import "time"

// Session is one authenticated client context. The raw token is never
// persisted; TokenHash holds its SHA-256 hex digest.
type Session struct {
	ID             string    `json:"id"`
	TokenHash      string    `json:"-"`
	IdentityID     string    `json:"identity_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	ImpersonatedBy string    `json:"impersonated_by,omitempty"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsFresh reports whether the session was created within freshAge of now.
// Sensitive operations require a fresh session.
func (s *Session) IsFresh(now time.Time, freshAge time.Duration) bool {
	return now.Sub(s.CreatedAt) < freshAge
}

// Impersonating reports whether an admin is acting as the session owner.
func (s *Session) Impersonating() bool {
	return s.ImpersonatedBy != ""
}
