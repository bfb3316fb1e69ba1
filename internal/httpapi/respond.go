package httpapi

// respond.go centralizes response writing. Success responses are wrapped in
// {"success":true,"data":...}; errors in {"success":false,"error":...} with
// the sanitized UserMessage. Technical error details stay in the server log,
// keyed by request id.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fieldserve/importer/internal/importer"
	"github.com/fieldserve/importer/internal/logging"
)

type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success bool                 `json:"success"`
	Error   importer.UserMessage `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		// Headers are already sent; nothing to do but record it.
		slog.Error("json encode", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := importer.MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"code", msg.Code,
		"error", err,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: msg})
}

// writeErrorMessage writes an error envelope without going through the
// pipeline taxonomy, for middleware rejections.
func writeErrorMessage(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{
		Error: importer.UserMessage{Message: message, Code: code},
	})
}

func statusFor(err error) int {
	var (
		conflict *importer.ConflictError
		parse    *importer.ParseError
		mapping  importer.MappingErrors
	)
	switch {
	case errors.Is(err, importer.ErrJobNotFound),
		errors.Is(err, importer.ErrUnknownEntityType):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, importer.ErrInvalidTransition),
		errors.Is(err, importer.ErrMappingLocked):
		return http.StatusConflict
	case errors.As(err, &parse), errors.As(err, &mapping):
		return http.StatusUnprocessableEntity
	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
