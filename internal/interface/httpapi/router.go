// Package httpapi はパイプラインの HTTP インターフェースを提供します
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jinford/interview-pipeline/internal/core/merge"
	"github.com/jinford/interview-pipeline/internal/core/transcription"
)

// MergeService はマージタスクの操作
type MergeService interface {
	Enqueue(ctx context.Context, params merge.EnqueueParams) (*merge.Task, error)
	Get(ctx context.Context, taskID uuid.UUID) (*merge.Task, error)
	ListBySession(ctx context.Context, sessionID string) ([]*merge.Task, error)
	Schedule(taskID uuid.UUID) error
}

// TranscriptionService は文字起こしジョブの操作
type TranscriptionService interface {
	Enqueue(ctx context.Context, sessionID, videoURL string) (*transcription.Job, bool, error)
	Retry(ctx context.Context, sessionID string) (*transcription.RetryResult, error)
	Status(ctx context.Context, sessionID string) (*transcription.StatusView, error)
}

// ObjectStore は公開オブジェクトの読み出し元
type ObjectStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Attributes(ctx context.Context, key string) (string, int64, error)
}

// Deps はルーターが使う依存
type Deps struct {
	Merge         MergeService
	Transcription TranscriptionService
	// Objects が nil の場合 /objects は公開しない
	Objects ObjectStore
	// Metrics は /metrics のハンドラ
	Metrics http.Handler
	// Health は /healthz の確認処理。nil なら常に ok
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

type handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewRouter は HTTP ルーターを構築します
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Objects != nil {
		r.Get("/objects/*", h.getObject)
		r.Head("/objects/*", h.getObject)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/merge-tasks", func(r chi.Router) {
			r.Post("/", h.createMergeTask)
			r.Get("/", h.listMergeTasks)
			r.Get("/{taskId}", h.getMergeTask)
			r.Post("/{taskId}/run", h.runMergeTask)
		})
		r.Route("/transcriptions", func(r chi.Router) {
			r.Post("/", h.enqueueTranscription)
			r.Get("/{sessionId}", h.transcriptionStatus)
			r.Post("/{sessionId}/retry", h.retryTranscription)
		})
	})

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.deps.Health(ctx); err != nil {
			h.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// requestLogger はリクエスト1件ごとにアクセスログを出力します
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
				"requestID", middleware.GetReqID(r.Context()),
			)
		})
	}
}
