package transcription

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/interview-pipeline/internal/core/interview"
	"github.com/samber/mo"
)

// Repository は文字起こしジョブの永続化を担うインターフェース
// テスト時のモック用に消費者側で定義
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (mo.Option[*Job], error)
	FindLatestBySession(ctx context.Context, sessionID string) (mo.Option[*Job], error)
	// CreateIfNoLive はセッション単位で排他を取り、生存中のジョブがあればそれを返す
	// なければ pending のジョブを作成し、面接行の文字起こし状態を pending にする
	CreateIfNoLive(ctx context.Context, sessionID, jobID, videoURL string) (*Job, bool, error)
	ListRecoverable(ctx context.Context, staleBefore time.Time) ([]*Job, error)

	ResetStuck(ctx context.Context, id uuid.UUID, staleBefore time.Time, message string) (bool, error)
	Claim(ctx context.Context, id uuid.UUID) (mo.Option[*Job], error)
	Heartbeat(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, startedAt time.Time, result ResultMetadata) (*Job, error)
	Fail(ctx context.Context, id uuid.UUID, startedAt time.Time, message string) (*Job, error)
	// Requeue は終端状態のジョブを pending に戻す
	// 同じセッションに生存中のジョブがある場合や終端状態でない場合は None
	Requeue(ctx context.Context, id uuid.UUID) (mo.Option[*Job], error)
}

// InterviewStore は面接行の文字起こし列
type InterviewStore interface {
	FindBySession(ctx context.Context, sessionID string) (mo.Option[*interview.Record], error)
	SetTranscriptionState(ctx context.Context, sessionID, jobID string, status interview.TranscriptionStatus) error
	ApplyTranscription(ctx context.Context, sessionID string, update interview.TranscriptionUpdate) error
	// MarkTranscriptionFailedByJob は jobID を参照する全ての行を failed にし、更新件数を返す
	MarkTranscriptionFailedByJob(ctx context.Context, jobID string) (int64, error)
}

// Downloader は動画の取得元
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// AudioExtractor は動画から音声トラックを取り出す
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, input, output string, format AudioFormat) error
}

// Transcriber は音声認識プロバイダー
type Transcriber interface {
	Name() string
	// CheckCredentials は外部呼び出しの前に認証情報の有無を確認する
	CheckCredentials() error
	// AudioRequirements は送信する音声の形式とサイズ上限
	AudioRequirements() AudioRequirements
	Transcribe(ctx context.Context, req TranscribeRequest) (*Transcript, error)
}

// Summarizer は文字起こし結果の要約を生成する
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Scheduler はバックグラウンド実行先 (worker.Pool が実装)
type Scheduler interface {
	Submit(name string, job func(ctx context.Context)) error
}
