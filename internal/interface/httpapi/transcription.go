package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jinford/interview-pipeline/internal/core/transcription"
)

type enqueueTranscriptionRequest struct {
	SessionID string `json:"sessionId"`
	VideoURL  string `json:"videoUrl"`
}

type transcriptionStatusResponse struct {
	Success    bool                          `json:"success"`
	SessionID  string                        `json:"sessionId"`
	JobID      string                        `json:"jobId,omitempty"`
	Status     transcription.Status          `json:"status"`
	Transcript *string                       `json:"transcript,omitempty"`
	Summary    *string                       `json:"summary,omitempty"`
	Metadata   *transcription.ResultMetadata `json:"metadata,omitempty"`
	Error      *string                       `json:"error,omitempty"`
}

func (h *handler) enqueueTranscription(w http.ResponseWriter, r *http.Request) {
	var req enqueueTranscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, created, err := h.deps.Transcription.Enqueue(r.Context(), strings.TrimSpace(req.SessionID), strings.TrimSpace(req.VideoURL))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"success": true,
		"jobId":   job.JobID,
		"status":  job.Status,
		"created": created,
	})
}

func (h *handler) retryTranscription(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	res, err := h.deps.Transcription.Retry(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"jobId":   res.Job.JobID,
		"status":  res.Job.Status,
		"message": retryMessage(res.Action),
	})
}

func (h *handler) transcriptionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	view, err := h.deps.Transcription.Status(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, transcriptionStatusResponse{
		Success:    true,
		SessionID:  view.SessionID,
		JobID:      view.JobID,
		Status:     view.Status,
		Transcript: view.Transcript,
		Summary:    view.Summary,
		Metadata:   view.Metadata,
		Error:      view.Error,
	})
}

func retryMessage(action transcription.RetryAction) string {
	switch action {
	case transcription.RetryAlreadyRunning:
		return "transcription is already in progress"
	case transcription.RetryResumed:
		return "pending transcription resubmitted"
	case transcription.RetryRequeued:
		return "transcription requeued"
	case transcription.RetryCreated:
		return "transcription started"
	default:
		return string(action)
	}
}
