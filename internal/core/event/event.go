// Package event はパイプラインの状態遷移イベントを定義します
package event

import (
	"context"
	"time"
)

// イベント種別
const (
	TypeMergeCompleted         = "merge.completed"
	TypeMergeFailed            = "merge.failed"
	TypeTranscriptionQueued    = "transcription.queued"
	TypeTranscriptionCompleted = "transcription.completed"
	TypeTranscriptionFailed    = "transcription.failed"
)

// Event は外部に配信される状態遷移の通知
type Event struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"sessionId"`
	TaskID     string    `json:"taskId,omitempty"`
	JobID      string    `json:"jobId,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher はイベントの配信先
// 配信の失敗はタスクの状態に影響させないこと
type Publisher interface {
	Publish(ctx context.Context, key string, e Event) error
}

// NopPublisher は何もしない Publisher
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
