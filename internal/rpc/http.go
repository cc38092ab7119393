package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
)

const maxInputBytes = 1 << 20

// Handler serves a registry over HTTP:
//
//	GET  /              list procedure descriptors
//	POST /{procedure}   call a procedure with a JSON body
//
// When resolver is set and the call slid the caller's session expiry, the
// session cookie is re-issued with the new lifetime.
func Handler(reg *Registry, resolver *session.Resolver, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		procs := reg.Procedures()
		writeJSON(w, http.StatusOK, model.ListResponse[Descriptor]{
			Resource: procs,
			Meta:     &model.ResponseMeta{Count: len(procs)},
		})
	})
	r.Post("/{procedure}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "procedure")
		input, err := io.ReadAll(io.LimitReader(req.Body, maxInputBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to read request body")
			return
		}
		if len(input) > maxInputBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "BAD_REQUEST", "request body too large")
			return
		}
		if len(input) > 0 && !json.Valid(input) {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "request body is not valid JSON")
			return
		}

		ctx, cl := withCall(req)
		out, err := reg.Call(ctx, name, input)
		if c := refreshedCookie(ctx, resolver); c != nil && !cl.sets(c.Name) {
			http.SetCookie(w, c)
		}
		for _, c := range cl.cookies {
			http.SetCookie(w, c)
		}
		if err != nil {
			respondError(w, logger, name, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": out})
	})
	return r
}

// refreshedCookie returns the re-issued session cookie when this request's
// resolution moved the session expiry. It never triggers a resolution.
func refreshedCookie(ctx context.Context, resolver *session.Resolver) *http.Cookie {
	if resolver == nil || session.StateFromContext(ctx) != session.StateAuthenticated {
		return nil
	}
	res := session.Current(ctx)
	if res == nil || !res.Refreshed {
		return nil
	}
	return resolver.Cookie(res.Token, res.Session.ExpiresAt)
}

func respondError(w http.ResponseWriter, logger *slog.Logger, name string, err error) {
	var denial *gate.Denial
	var rpcErr *Error
	switch {
	case errors.As(err, &denial):
		writeError(w, denial.HTTPStatus(), string(denial.Kind), denial.Reason)
	case errors.As(err, &rpcErr):
		writeError(w, rpcErr.Status, rpcErr.Code, rpcErr.Message)
	case errors.Is(err, ErrProcedureNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		logger.Error("procedure failed", "procedure", name, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Kind: kind, Message: message},
	})
}
