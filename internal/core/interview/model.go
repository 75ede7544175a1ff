// Package interview は面接セッションのレコードと、パイプラインが書き込める列の集合を定義します
// 行の作成や他の列の更新はWebアプリ側のCRUD層の責務です
package interview

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound はセッションに対応する行が存在しない
var ErrNotFound = errors.New("interview not found")

// StatusCompleted は動画の結合が完了したセッションの状態
const StatusCompleted = "completed"

// TranscriptionStatus は面接行に記録される文字起こし状態
type TranscriptionStatus string

const (
	TranscriptionPending    TranscriptionStatus = "pending"
	TranscriptionProcessing TranscriptionStatus = "processing"
	TranscriptionCompleted  TranscriptionStatus = "completed"
	TranscriptionFailed     TranscriptionStatus = "failed"
)

// Record は面接行のうちパイプラインが参照する列
type Record struct {
	SessionID             string
	Status                string
	VideoURL              *string
	SubtitleURL           *string
	TotalDuration         *float64
	CompletedAt           *time.Time
	MergeMetadata         json.RawMessage
	TranscriptionStatus   *TranscriptionStatus
	TranscriptionJobID    *string
	TranscriptionText     *string
	TranscriptionMetadata json.RawMessage
	AISummary             *string
}

// MergeMetadata はマージ結果の付帯情報
type MergeMetadata struct {
	SegmentCount      int     `json:"segmentCount"`
	EstimatedDuration float64 `json:"estimatedDuration"`
	ActualDuration    float64 `json:"actualDuration"`
	ScaleFactor       float64 `json:"scaleFactor"`
	Concatenated      bool    `json:"concatenated"`
}

// MergeUpdate はマージ完了時に書き込む列の集合
// video_url, subtitle_url, total_duration, status, completed_at, merge_metadata のみ
type MergeUpdate struct {
	VideoURL      string
	SubtitleURL   string
	TotalDuration float64
	CompletedAt   time.Time
	Metadata      MergeMetadata
}

// TranscriptionUpdate は文字起こし完了時に書き込む列の集合
// Summary が nil の場合 ai_summary は変更しない
type TranscriptionUpdate struct {
	JobID    string
	Text     string
	Metadata json.RawMessage
	Summary  *string
}
