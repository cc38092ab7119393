package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is a business-logic failure raised by a procedure body. It is kept
// apart from gate denials so callers can tell "not allowed" from "failed".
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Errorf builds an Error with a formatted message.
func Errorf(status int, code, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

// BadRequest reports invalid input.
func BadRequest(format string, args ...any) *Error {
	return Errorf(http.StatusBadRequest, "BAD_REQUEST", format, args...)
}

// NotFound reports a missing record.
func NotFound(format string, args ...any) *Error {
	return Errorf(http.StatusNotFound, "NOT_FOUND", format, args...)
}

// Conflict reports a uniqueness or state conflict.
func Conflict(format string, args ...any) *Error {
	return Errorf(http.StatusConflict, "CONFLICT", format, args...)
}

// Decode unmarshals a procedure input into v. Empty input leaves v
// untouched.
func Decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return BadRequest("invalid input: %v", err)
	}
	return nil
}
