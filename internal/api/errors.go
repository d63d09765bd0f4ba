// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/log"
)

// hdhrAllTunersBusy is the HDHomeRun error code for "all tuners in use".
const hdhrAllTunersBusy = "805"

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err through the domain taxonomy.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatus(err)
	code := domain.Code(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set(domain.HDHomeRunErrorHeader, hdhrAllTunersBusy)
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	ev := logger.Warn()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		ev = logger.Error()
	}
	ev.Err(err).
		Str(log.FieldEvent, "api.request_failed").
		Str("code", code).
		Int("status", status).
		Msg("request failed")

	writeJSON(w, status, errorResponse{
		Error:     code,
		Message:   err.Error(),
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// decodeJSON reads a strict JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

// pathParam returns the unescaped route parameter.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
