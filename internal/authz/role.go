package authz

import (
	"fmt"
	"strings"
)

// Role is one of the clinic's fixed capability buckets. The zero value is not
// a valid role; roles only come into existence through Lookup or ParseRoles.
type Role uint8

// Roles ordered by privilege, lowest first.
const (
	RolePatient Role = iota + 1
	RoleStaff
	RoleDoctor
	RoleAdmin
)

// DefaultRole is assigned to identities that hold no recognised role.
const DefaultRole = RolePatient

var roleNames = [...]string{
	RolePatient: "patient",
	RoleStaff:   "staff",
	RoleDoctor:  "doctor",
	RoleAdmin:   "admin",
}

// All returns every role, lowest privilege first.
func All() []Role {
	return []Role{RolePatient, RoleStaff, RoleDoctor, RoleAdmin}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	return r >= RolePatient && r <= RoleAdmin
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

// MarshalText encodes the role as its lowercase name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRoleReference, uint8(r))
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText decodes a role name strictly.
func (r *Role) UnmarshalText(b []byte) error {
	role, err := Lookup(string(b))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Lookup resolves a role name, ignoring case and surrounding space. Unknown
// names return ErrInvalidRoleReference. Use it where a role is declared by
// configuration or code; use ParseRoles for values read from storage or tokens.
func Lookup(name string) (Role, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, r := range All() {
		if roleNames[r] == n {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRoleReference, name)
}

// MustLookup is Lookup for package-level tables; it panics on unknown names.
func MustLookup(name string) Role {
	r, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return r
}

// ParseRoles converts a comma-separated role string, as stored by the
// credential store, into a role set. Unknown entries are dropped and the
// result is never empty: when nothing valid remains it holds DefaultRole.
func ParseRoles(raw string) []Role {
	return Normalize(strings.Split(raw, ","))
}

// Normalize converts free-form role names into a deduplicated role set in the
// order first seen. Like ParseRoles it never returns an empty set.
func Normalize(names []string) []Role {
	out := make([]Role, 0, len(names))
	for _, name := range names {
		r, err := Lookup(name)
		if err != nil {
			continue
		}
		if HasRole(out, r) {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		out = append(out, DefaultRole)
	}
	return out
}

// JoinRoles serializes a role set for storage. Invalid roles are skipped.
func JoinRoles(roles []Role) string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		if r.Valid() {
			names = append(names, roleNames[r])
		}
	}
	return strings.Join(names, ",")
}

// Names returns the role names of a set.
func Names(roles []Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.String())
	}
	return out
}

// HasRole reports whether candidate is a member of roles.
func HasRole(roles []Role, candidate Role) bool {
	if !candidate.Valid() {
		return false
	}
	for _, r := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}

// HasRoleName is HasRole for raw role strings arriving from outside the
// process. Both sides are compared case-insensitively.
func HasRoleName(roles []string, candidate string) bool {
	c, err := Lookup(candidate)
	if err != nil {
		return false
	}
	for _, name := range roles {
		if r, err := Lookup(name); err == nil && r == c {
			return true
		}
	}
	return false
}

// Primary returns the highest-privilege role in the set, or DefaultRole for
// an empty set.
func Primary(roles []Role) Role {
	best := Role(0)
	for _, r := range roles {
		if r.Valid() && r > best {
			best = r
		}
	}
	if best == 0 {
		return DefaultRole
	}
	return best
}
