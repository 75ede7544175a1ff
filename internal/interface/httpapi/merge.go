package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jinford/interview-pipeline/internal/core/merge"
	"github.com/jinford/interview-pipeline/internal/platform/worker"
)

type createMergeTaskRequest struct {
	SessionID string          `json:"sessionId"`
	Segments  []merge.Segment `json:"segments"`
}

type mergeTaskResponse struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"sessionId"`
	Status           merge.Status    `json:"status"`
	Segments         []merge.Segment `json:"segments"`
	StartedAt        *time.Time      `json:"startedAt,omitempty"`
	HeartbeatAt      *time.Time      `json:"heartbeatAt,omitempty"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	MergedVideoURL   *string         `json:"mergedVideoUrl,omitempty"`
	TotalDuration    *float64        `json:"totalDuration,omitempty"`
	SegmentDurations []float64       `json:"segmentDurations,omitempty"`
	ErrorMessage     *string         `json:"errorMessage,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func toMergeTaskResponse(t *merge.Task) mergeTaskResponse {
	return mergeTaskResponse{
		ID:               t.ID.String(),
		SessionID:        t.SessionID,
		Status:           t.Status,
		Segments:         t.Segments,
		StartedAt:        t.StartedAt,
		HeartbeatAt:      t.HeartbeatAt,
		CompletedAt:      t.CompletedAt,
		MergedVideoURL:   t.MergedVideoURL,
		TotalDuration:    t.TotalDuration,
		SegmentDurations: t.SegmentDurations,
		ErrorMessage:     t.ErrorMessage,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

// createMergeTask はタスクを登録して即座に 202 を返します
func (h *handler) createMergeTask(w http.ResponseWriter, r *http.Request) {
	var req createMergeTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.deps.Merge.Enqueue(r.Context(), merge.EnqueueParams{
		SessionID: strings.TrimSpace(req.SessionID),
		Segments:  req.Segments,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"taskId":  task.ID.String(),
		"status":  task.Status,
	})
}

func (h *handler) listMergeTasks(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, merge.ErrSessionRequired.Error())
		return
	}
	tasks, err := h.deps.Merge.ListBySession(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]mergeTaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toMergeTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tasks": out})
}

func (h *handler) getMergeTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.deps.Merge.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": toMergeTaskResponse(task)})
}

// runMergeTask は既存タスクの実行を予約します
func (h *handler) runMergeTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}
	task, err := h.deps.Merge.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if task.Status == merge.StatusCompleted {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "taskId": task.ID.String(), "status": task.Status})
		return
	}

	if err := h.deps.Merge.Schedule(id); err != nil {
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrPoolClosed) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "taskId": task.ID.String(), "status": task.Status})
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return uuid.Nil, false
	}
	return id, true
}
