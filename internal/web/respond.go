// Package web holds the HTTP edge shared by every handler: the
// {success, error, payload} envelope, caller identity in the request context
// and middleware.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bookswap/pkg/apperr"
	"bookswap/pkg/logger"
)

type callerKey struct{}

// WithCaller stores the authenticated caller on ctx.
func WithCaller(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// Caller returns the authenticated caller, or uuid.Nil for anonymous requests.
func Caller(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(callerKey{}).(uuid.UUID)
	return id
}

// Respond writes a success envelope. An empty key writes no payload field.
func Respond(w http.ResponseWriter, status int, key string, payload any) {
	body := map[string]any{"success": true}
	if key != "" {
		body[key] = payload
	}
	writeJSON(w, status, body)
}

// RespondFields writes a success envelope with several payload fields.
func RespondFields(w http.ResponseWriter, status int, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	writeJSON(w, status, body)
}

// Fail writes the failure envelope for err. Causes are logged, never sent.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()

	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("kind", string(kind)).
		Msg("request failed")

	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   apperr.Message(err),
	})
}

// Decode reads a JSON body into dst. An empty body leaves dst untouched.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.Validation, "Request body is not valid JSON.", err)
	}
	return nil
}

// PathUUID parses a chi URL parameter as a UUID.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.Validation, "%s must be a UUID.", name)
	}
	return id, nil
}

// QueryInt reads a non-negative integer query parameter, fallback when absent.
func QueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Newf(apperr.Validation, "%s must be a non-negative integer.", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Msg("encode response")
	}
}
