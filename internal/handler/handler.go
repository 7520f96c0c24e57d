// Package handler provides the HTTP handlers of the wallet API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tournament-wallet/internal/model"
	"tournament-wallet/internal/pkg/apperr"
)

// Errors raised at the HTTP boundary.
var (
	ErrUnauthenticated  = apperr.New(apperr.KindUnauthorized, "unauthenticated", "missing or invalid bearer token")
	ErrAdminOnly        = apperr.Forbidden("admin_only", "admin role required")
	ErrInvalidRequest   = apperr.Validation("invalid_request", "request is not valid")
	ErrInvalidID        = apperr.Validation("invalid_id", "path id is not a valid uuid")
	ErrRouteNotFound    = apperr.NotFound("route_not_found", "no such route")
	ErrMethodNotAllowed = apperr.Validation("method_not_allowed", "method not allowed")
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

type ctxKey int

const identityKey ctxKey = iota

// Identity is the authenticated caller.
type Identity struct {
	AccountID uuid.UUID
	Role      model.Role
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool { return i.Role == model.RoleAdmin }

// WithIdentity stores the caller in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the caller stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// fieldError carries per-field validation failures to WriteError.
type fieldError struct {
	err    *apperr.Error
	fields map[string]string
}

func (e *fieldError) Error() string { return e.err.Error() }

func (e *fieldError) Unwrap() error { return e.err }

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// WriteError writes err in the error envelope with its kind's status.
// Causes of internal failures never reach the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	status := ae.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
		WriteJSON(w, status, errorBody{Error: errorDetail{Code: "internal_error", Message: "internal error"}})
		return
	}

	body := errorBody{Error: errorDetail{Code: ae.Code, Message: ae.Message}}
	var fe *fieldError
	if errors.As(err, &fe) {
		body.Error.Fields = fe.fields
	}
	WriteJSON(w, status, body)
}

// NotFound answers unknown routes in the error envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, ErrRouteNotFound)
}

// MethodNotAllowed answers known routes called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{
		Code:    ErrMethodNotAllowed.Code,
		Message: ErrMethodNotAllowed.Message,
	}})
}

// binder decodes and validates request bodies.
type binder struct {
	validate *validator.Validate
	maxBody  int64
}

func newBinder(maxBody int64) *binder {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &binder{validate: v, maxBody: maxBody}
}

// bind decodes a JSON body into dst, rejecting unknown fields and oversized
// bodies, then runs struct validation.
func (b *binder) bind(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, b.maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrInvalidRequest.WithMessage("request body exceeds %d bytes", tooLarge.Limit)
		}
		return ErrInvalidRequest.WithMessage("malformed JSON body: %v", err)
	}
	return b.check(dst)
}

func (b *binder) check(v any) error {
	err := b.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ErrInvalidRequest.WithMessage("%v", err)
	}
	fields := make(map[string]string, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fmt.Sprintf("failed on '%s' rule", fe.Tag())
		names = append(names, fe.Field())
	}
	return &fieldError{
		err:    ErrInvalidRequest.WithMessage("invalid fields: %s", strings.Join(names, ", ")),
		fields: fields,
	}
}

// caller returns the authenticated identity of r.
func caller(r *http.Request) (Identity, error) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// pathID parses the chi URL parameter name as a uuid.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}

// optionalID parses an optional uuid, returning uuid.Nil for an empty value.
func optionalID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidRequest.WithMessage("%q is not a valid uuid", raw)
	}
	return id, nil
}
