package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"

	"github.com/jinford/interview-pipeline/internal/core/interview"
)

// Publisher は結合済み動画と字幕JSONをストレージに公開し、面接行を更新します
type Publisher struct {
	storage    Storage
	interviews InterviewWriter
	logger     *slog.Logger
}

// NewPublisher は新しい Publisher を作成します
func NewPublisher(storage Storage, interviews InterviewWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{storage: storage, interviews: interviews, logger: logger}
}

// VideoKey は結合済み動画のオブジェクトキーを返します
func VideoKey(sessionID string, stamp int64, ext string) string {
	return fmt.Sprintf("interviews/%s/merged_%d%s", sessionID, stamp, ext)
}

// SubtitleKey は字幕JSONのオブジェクトキーを返します
func SubtitleKey(sessionID string, stamp int64) string {
	return fmt.Sprintf("interviews/%s/subtitles_%d.json", sessionID, stamp)
}

// PublishVideo は動画を公開してURLを返します
func (p *Publisher) PublishVideo(ctx context.Context, sessionID string, stamp int64, ext string, r io.Reader) (string, error) {
	key := VideoKey(sessionID, stamp, ext)
	url, err := p.storage.Upload(ctx, key, r, VideoContentType(ext))
	if err != nil {
		return "", fmt.Errorf("failed to upload merged video: %w", err)
	}
	return url, nil
}

// PublishSubtitle は字幕JSONを公開してURLを返します
func (p *Publisher) PublishSubtitle(ctx context.Context, stamp int64, subtitle *Subtitle) (string, error) {
	body, err := json.MarshalIndent(subtitle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal subtitle: %w", err)
	}

	url, err := p.storage.Upload(ctx, SubtitleKey(subtitle.SessionID, stamp), bytes.NewReader(body), "application/json")
	if err != nil {
		return "", fmt.Errorf("failed to upload subtitle: %w", err)
	}
	return url, nil
}

// UpdateInterview は面接行にマージ結果を書き込みます
// 行が存在しない場合は警告のみでエラーにしません
func (p *Publisher) UpdateInterview(ctx context.Context, sessionID string, update interview.MergeUpdate) error {
	err := p.interviews.ApplyMerge(ctx, sessionID, update)
	if errors.Is(err, interview.ErrNotFound) {
		p.logger.Warn("interview row not found, skipping merge result update", "sessionID", sessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update interview: %w", err)
	}
	return nil
}

// VideoContentType は拡張子に対応する Content-Type を返します
func VideoContentType(ext string) string {
	switch ext {
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
