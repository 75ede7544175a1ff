package merge

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/interview-pipeline/internal/core/interview"
	"github.com/samber/mo"
)

// Repository はマージタスクの永続化を担うインターフェース
// テスト時のモック用に消費者側で定義
type Repository interface {
	Create(ctx context.Context, sessionID string, segments []Segment) (*Task, error)
	FindByID(ctx context.Context, id uuid.UUID) (mo.Option[*Task], error)
	ListBySession(ctx context.Context, sessionID string) ([]*Task, error)
	// ListRecoverable は pending のタスクと staleBefore より前から更新のない processing タスクを返す
	ListRecoverable(ctx context.Context, staleBefore time.Time) ([]*Task, error)

	// ResetStuck は staleBefore より古い processing タスクを pending に戻す。戻した場合 true
	ResetStuck(ctx context.Context, id uuid.UUID, staleBefore time.Time, message string) (bool, error)
	// Claim は pending のタスクを processing に遷移させる。他者が先に遷移させた場合は None
	Claim(ctx context.Context, id uuid.UUID) (mo.Option[*Task], error)
	// Heartbeat は startedAt で claim したタスクが processing のままなら heartbeat を更新して true を返す
	Heartbeat(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, startedAt time.Time, result CompletionResult) (*Task, error)
	Fail(ctx context.Context, id uuid.UUID, startedAt time.Time, message string) (*Task, error)
}

// Storage はオブジェクトストレージ
type Storage interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// MediaTool は外部のメディアツール (ffmpeg / ffprobe)
type MediaTool interface {
	Probe(ctx context.Context, path string) (float64, error)
	Concat(ctx context.Context, inputs []string, output string) error
}

// InterviewWriter はマージ結果の書き込み先
// 行が存在しない場合は interview.ErrNotFound を返す
type InterviewWriter interface {
	ApplyMerge(ctx context.Context, sessionID string, update interview.MergeUpdate) error
}

// TranscriptionTrigger はマージ完了後に文字起こしを起動する
type TranscriptionTrigger interface {
	Trigger(ctx context.Context, sessionID, videoURL string) error
}

// Scheduler はバックグラウンド実行先 (worker.Pool が実装)
type Scheduler interface {
	Submit(name string, job func(ctx context.Context)) error
}
