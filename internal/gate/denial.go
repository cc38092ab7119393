package gate

import "net/http"

// Kind classifies a denial.
type Kind string

const (
	// KindUnauthenticated means no valid identity could be resolved.
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	// KindForbidden means the identity is known but lacks the requirement.
	KindForbidden Kind = "FORBIDDEN"
	// KindInvalidRoleReference means the requirement itself names a role or
	// statement that does not exist. It is a programming error.
	KindInvalidRoleReference Kind = "INVALID_ROLE_REFERENCE"
)

// Denial is the structured failure the gate reports.
type Denial struct {
	Kind   Kind
	Reason string
}

func (d *Denial) Error() string {
	if d.Reason == "" {
		return string(d.Kind)
	}
	return string(d.Kind) + ": " + d.Reason
}

// HTTPStatus maps the denial kind to a response status.
func (d *Denial) HTTPStatus() int {
	switch d.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func deny(kind Kind, reason string) *Denial {
	return &Denial{Kind: kind, Reason: reason}
}
