package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
	"github.com/smartclin/smart-app-clinic-sub000/internal/rpc"
	"github.com/smartclin/smart-app-clinic-sub000/internal/service"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		_, err := authz.Lookup(fl.Field().String())
		return err == nil
	})
	return v
}

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope.
func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{Code: code, Kind: kind, Message: message},
	})
}

// writeDenial writes a gate denial with its kind.
func writeDenial(w http.ResponseWriter, d *gate.Denial) {
	writeError(w, d.HTTPStatus(), string(d.Kind), d.Reason)
}

// readJSON decodes the request body into v and validates it. The body is
// closed after decoding regardless of success or failure.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return validateInput(v)
}

// decodeInput is readJSON for procedure inputs.
func decodeInput(input json.RawMessage, v any) error {
	if err := rpc.Decode(input, v); err != nil {
		return err
	}
	if err := validateInput(v); err != nil {
		return rpc.BadRequest("%s", err.Error())
	}
	return nil
}

func validateInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, ", "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "role":
		return field + " must be one of " + strings.Join(authz.Names(authz.All()), ", ")
	default:
		return field + " is invalid"
	}
}

// serviceError maps credential store and service errors to rpc errors.
// Anything unrecognized is returned unchanged and reported as internal.
func serviceError(err error) error {
	switch {
	case errors.Is(err, config.ErrNotFound):
		return rpc.NotFound("record not found")
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, config.ErrConflict):
		return rpc.Conflict("%s", service.ErrEmailTaken.Error())
	case errors.Is(err, authz.ErrInvalidRoleReference),
		errors.Is(err, service.ErrWeakPassword):
		return rpc.BadRequest("%s", err.Error())
	case errors.Is(err, service.ErrSelfAction),
		errors.Is(err, service.ErrImpersonateAdmin),
		errors.Is(err, service.ErrAlreadyImpersonated),
		errors.Is(err, service.ErrNotImpersonating),
		errors.Is(err, service.ErrBanned):
		return rpc.Errorf(http.StatusUnprocessableEntity, "UNPROCESSABLE", "%s", err.Error())
	default:
		return err
	}
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// clampInt constrains val to be within [lo, hi].
func clampInt(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
