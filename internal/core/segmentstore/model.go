package segmentstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrInvalidID はセッションIDまたは質問IDがパスとして使えない
	ErrInvalidID = errors.New("invalid identifier")
	// ErrSessionNotFound はセッションのキャッシュが存在しない
	ErrSessionNotFound = errors.New("segment session not found")
	// ErrEntryNotFound は指定の質問IDのセグメントが存在しない
	ErrEntryNotFound = errors.New("segment entry not found")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

func validateID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %s %q", ErrInvalidID, kind, id)
	}
	return nil
}

// Entry は録画済みセグメント1件のマニフェスト項目
type Entry struct {
	PromptID       string    `json:"promptId"`
	SequenceNumber int       `json:"sequenceNumber"`
	Duration       float64   `json:"duration"`
	QuestionText   string    `json:"questionText,omitempty"`
	Category       string    `json:"category,omitempty"`
	Ext            string    `json:"ext"`
	Size           int64     `json:"size"`
	RecordedAt     time.Time `json:"recordedAt"`
	// UploadedURL はアップロード済みの場合のみ設定される
	UploadedURL string `json:"uploadedUrl,omitempty"`
}

// Uploaded はオブジェクトストレージへの転送が済んでいるかを返します
func (e Entry) Uploaded() bool {
	return e.UploadedURL != ""
}

func (e Entry) fileName() string {
	return fmt.Sprintf("%03d_%s%s", e.SequenceNumber, e.PromptID, e.Ext)
}

// manifest はセッションディレクトリ直下の manifest.json
type manifest struct {
	SessionID string    `json:"sessionId"`
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *manifest) find(promptID string) int {
	for i, e := range m.Entries {
		if e.PromptID == promptID {
			return i
		}
	}
	return -1
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ".webm"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if len(ext) > 6 || !idPattern.MatchString(ext[1:]) {
		return ".webm"
	}
	return ext
}
