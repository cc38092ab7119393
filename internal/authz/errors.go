package authz

import "errors"

var (
	// ErrInvalidRoleReference is returned when a role name is not part of the
	// static role table.
	ErrInvalidRoleReference = errors.New("invalid role reference")

	// ErrInvalidStatement is returned when a resource-action pair is not part
	// of the statement catalogue.
	ErrInvalidStatement = errors.New("invalid permission statement")
)
