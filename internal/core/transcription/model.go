package transcription

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/interview-pipeline/internal/core/lease"
)

var (
	// ErrJobNotFound はジョブも面接行も見つからない
	ErrJobNotFound = errors.New("transcription job not found")
	// ErrSessionRequired はセッションIDが空
	ErrSessionRequired = errors.New("session id is required")
	// ErrVideoURLRequired は動画URLが空
	ErrVideoURLRequired = errors.New("video url is required")
	// ErrCredentialMissing は音声認識の認証情報が設定されていない
	ErrCredentialMissing = errors.New("speech-to-text credential is not configured")
	// ErrNothingToDo は再実行できるジョブも動画もない
	ErrNothingToDo = errors.New("no transcription job or merged video for session")
	// ErrAudioTooLarge は音声がプロバイダーに送れるサイズを超えている
	ErrAudioTooLarge = errors.New("audio exceeds the provider upload limit")
	// ErrUnsupportedAudio はプロバイダーが受け付けない入力形式
	ErrUnsupportedAudio = errors.New("audio format not supported by the provider")
)

// Status は文字起こしジョブの状態
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsLive は pending または processing かどうかを返します
func (s Status) IsLive() bool {
	return s == StatusPending || s == StatusProcessing
}

// Job は1本の結合済み動画に対する文字起こしの永続レコード
type Job struct {
	ID             uuid.UUID
	JobID          string
	SessionID      string
	Status         Status
	VideoURL       string
	StartedAt      *time.Time
	HeartbeatAt    *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	ResultMetadata *ResultMetadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsStale は processing のまま閾値を超えて更新が止まっているかを返します
func (j *Job) IsStale(now time.Time, threshold time.Duration) bool {
	if j.Status != StatusProcessing {
		return false
	}
	return lease.IsStale(j.HeartbeatAt, j.StartedAt, now, threshold)
}

// NewJobID は外部に公開するジョブ識別子を生成します
func NewJobID(sessionID string, now time.Time) string {
	return fmt.Sprintf("transcribe_%s_%d", sessionID, now.UnixMilli())
}

// TimedSegment はタイムスタンプ付きの発話区間
type TimedSegment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ResultMetadata は completed のジョブに記録する結果
type ResultMetadata struct {
	Language       string         `json:"language"`
	TotalDuration  float64        `json:"totalDuration"`
	MeanConfidence *float64       `json:"meanConfidence"`
	Provider       string         `json:"provider,omitempty"`
	Segments       []TimedSegment `json:"segments"`
}

// Transcript は音声認識プロバイダーの結果
type Transcript struct {
	Text     string
	Language string
	Duration float64
	Segments []TimedSegment
}

// AudioFormat は音声抽出の出力形式
type AudioFormat string

const (
	// AudioOggOpus は 16kHz モノラル Opus (32kbps) の Ogg。1分あたり約240KB
	AudioOggOpus AudioFormat = "ogg_opus"
	// AudioFLAC は 16kHz モノラル FLAC
	AudioFLAC AudioFormat = "flac"
	// AudioWAV は 16kHz モノラル LINEAR16 の WAV
	AudioWAV AudioFormat = "wav"
)

// Ext は出力ファイルの拡張子を返します
func (f AudioFormat) Ext() string {
	switch f {
	case AudioFLAC:
		return ".flac"
	case AudioWAV:
		return ".wav"
	default:
		return ".ogg"
	}
}

// AudioRequirements はプロバイダーが受け付ける入力
type AudioRequirements struct {
	Format AudioFormat
	// MaxBytes は1回の認識に送れる上限。0 は無制限
	MaxBytes int64
	// AcceptsVideo は音声を抽出できなかったとき元の動画をそのまま送れるか
	AcceptsVideo bool
}

// TranscribeRequest は音声認識の入力
type TranscribeRequest struct {
	FilePath string
	Language string
}

// MeanConfidence は信頼度を持つ区間の平均を返します
// 区間が0件、または信頼度を持つ区間がない場合は nil
func MeanConfidence(segments []TimedSegment) *float64 {
	sum := 0.0
	n := 0
	for _, s := range segments {
		if s.Confidence == nil || math.IsNaN(*s.Confidence) {
			continue
		}
		sum += *s.Confidence
		n++
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// BuildResultMetadata はプロバイダーの結果から記録用のメタデータを作ります
func BuildResultMetadata(t *Transcript, provider string) ResultMetadata {
	segments := t.Segments
	if segments == nil {
		segments = []TimedSegment{}
	}
	duration := t.Duration
	if duration <= 0 && len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}
	return ResultMetadata{
		Language:       t.Language,
		TotalDuration:  duration,
		MeanConfidence: MeanConfidence(segments),
		Provider:       provider,
		Segments:       segments,
	}
}

// StatusView はセッション単位の文字起こし状態
type StatusView struct {
	SessionID  string
	JobID      string
	Status     Status
	Transcript *string
	Summary    *string
	Metadata   *ResultMetadata
	Error      *string
}

// RetryAction は Retry が行った操作
type RetryAction string

const (
	RetryAlreadyRunning RetryAction = "already_running"
	RetryResumed        RetryAction = "resumed"
	RetryRequeued       RetryAction = "requeued"
	RetryCreated        RetryAction = "created"
)

// RetryResult は Retry の結果
type RetryResult struct {
	Job    *Job
	Action RetryAction
}
