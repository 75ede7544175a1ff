package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jinford/interview-pipeline/internal/core/merge"
	"github.com/jinford/interview-pipeline/internal/core/transcription"
	"github.com/jinford/interview-pipeline/internal/infra/blob"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Warn("failed to write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// writeServiceError はサービス層のエラーを状態コードに対応付けます
func (h *handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, merge.ErrSessionRequired),
		errors.Is(err, merge.ErrEmptySegments),
		errors.Is(err, merge.ErrInvalidSegment),
		errors.Is(err, transcription.ErrSessionRequired),
		errors.Is(err, transcription.ErrVideoURLRequired):
		return http.StatusBadRequest
	case errors.Is(err, merge.ErrTaskNotFound),
		errors.Is(err, transcription.ErrJobNotFound),
		errors.Is(err, transcription.ErrNothingToDo),
		errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
