package segmentstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jinford/interview-pipeline/internal/core/merge"
)

// Storage はアップロード先のオブジェクトストレージ
type Storage interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// Uploader はキャッシュ済みセグメントをオブジェクトストレージへ転送します
type Uploader struct {
	store   *Store
	storage Storage
	logger  *slog.Logger
}

// NewUploader は新しい Uploader を作成する
func NewUploader(store *Store, storage Storage, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{store: store, storage: storage, logger: logger}
}

// ObjectKey はセグメントの保存先キーを返します
func ObjectKey(sessionID string, e Entry) string {
	return fmt.Sprintf("recordings/%s/%s", sessionID, e.fileName())
}

// UploadSession は未アップロードのセグメントを転送し、結合に渡せる記述子を返します
//
// 1件ごとにマニフェストへ記録するので、途中で失敗しても再実行時は残りだけを送ります。
func (u *Uploader) UploadSession(ctx context.Context, sessionID string) ([]merge.Segment, error) {
	pending, err := u.store.Pending(sessionID)
	if err != nil {
		return nil, err
	}

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		url, err := u.upload(ctx, sessionID, e)
		if err != nil {
			return nil, fmt.Errorf("failed to upload segment %s: %w", e.PromptID, err)
		}
		if err := u.store.MarkUploaded(sessionID, e.PromptID, url); err != nil {
			return nil, err
		}
		u.logger.Info("segment uploaded", "sessionID", sessionID, "promptID", e.PromptID, "url", url)
	}

	entries, err := u.store.List(sessionID)
	if err != nil {
		return nil, err
	}
	segments := make([]merge.Segment, 0, len(entries))
	for _, e := range entries {
		segments = append(segments, merge.Segment{
			URL:            e.UploadedURL,
			SequenceNumber: e.SequenceNumber,
			Duration:       e.Duration,
			PromptID:       e.PromptID,
			QuestionText:   e.QuestionText,
			Category:       e.Category,
		})
	}
	return segments, nil
}

func (u *Uploader) upload(ctx context.Context, sessionID string, e Entry) (string, error) {
	rc, err := u.store.Open(sessionID, e.PromptID)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return u.storage.Upload(ctx, ObjectKey(sessionID, e), rc, merge.VideoContentType(e.Ext))
}
