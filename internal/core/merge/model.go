package merge

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/interview-pipeline/internal/core/lease"
)

var (
	// ErrTaskNotFound は指定IDのマージタスクが存在しない
	ErrTaskNotFound = errors.New("merge task not found")
	// ErrSessionRequired はセッションIDが空
	ErrSessionRequired = errors.New("session id is required")
	// ErrEmptySegments はセグメントが1件も指定されていない
	ErrEmptySegments = errors.New("at least one segment is required")
	// ErrInvalidSegment はセグメント記述子が不正
	ErrInvalidSegment = errors.New("invalid segment")
)

// Status はマージタスクの状態
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal は終端状態かどうかを返します
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Segment は質問1件分の録画クリップ記述子
type Segment struct {
	URL            string  `json:"url"`
	SequenceNumber int     `json:"sequenceNumber"`
	Duration       float64 `json:"duration"`
	PromptID       string  `json:"promptId"`
	QuestionText   string  `json:"questionText"`
	Category       string  `json:"category"`
}

// Ext はURLから推定したコンテナ拡張子を返します (既定は .webm)
func (s Segment) Ext() string {
	return extFromURL(s.URL)
}

// Task はセッション1件分の結合処理の永続レコード
type Task struct {
	ID               uuid.UUID
	SessionID        string
	Status           Status
	Segments         []Segment
	StartedAt        *time.Time
	HeartbeatAt      *time.Time
	CompletedAt      *time.Time
	MergedVideoURL   *string
	TotalDuration    *float64
	SegmentDurations []float64
	ErrorMessage     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsStale は processing のまま閾値を超えて更新が止まっているかを返します
func (t *Task) IsStale(now time.Time, threshold time.Duration) bool {
	if t.Status != StatusProcessing {
		return false
	}
	return lease.IsStale(t.HeartbeatAt, t.StartedAt, now, threshold)
}

// EnqueueParams はマージタスクの登録パラメータ
type EnqueueParams struct {
	SessionID string
	Segments  []Segment
}

// Validate は登録パラメータを検証します
func (p EnqueueParams) Validate() error {
	if strings.TrimSpace(p.SessionID) == "" {
		return ErrSessionRequired
	}
	if len(p.Segments) == 0 {
		return ErrEmptySegments
	}

	seen := make(map[int]struct{}, len(p.Segments))
	for i, seg := range p.Segments {
		if strings.TrimSpace(seg.URL) == "" {
			return fmt.Errorf("%w: segment[%d] has no url", ErrInvalidSegment, i)
		}
		if seg.Duration < 0 {
			return fmt.Errorf("%w: segment[%d] has negative duration", ErrInvalidSegment, i)
		}
		if _, dup := seen[seg.SequenceNumber]; dup {
			return fmt.Errorf("%w: duplicate sequenceNumber %d", ErrInvalidSegment, seg.SequenceNumber)
		}
		seen[seg.SequenceNumber] = struct{}{}
	}
	return nil
}

// CompletionResult は completed への遷移時に記録する値
type CompletionResult struct {
	MergedVideoURL   string
	TotalDuration    float64
	SegmentDurations []float64
}

// FetchedSegment はローカルに取得済みのセグメント
type FetchedSegment struct {
	Segment  Segment
	Path     string
	Size     int64
	Duration float64
	// Measured は Duration が実測値かどうか (false の場合は申告値)
	Measured bool
}

// SortBySequence は sequenceNumber 昇順に並べた複製を返します
func SortBySequence(segments []Segment) []Segment {
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SequenceNumber < sorted[j].SequenceNumber
	})
	return sorted
}

func extFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 6 || strings.Contains(ext, "/") {
		return ".webm"
	}
	return ext
}
