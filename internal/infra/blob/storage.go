// Package blob は gocloud.dev/blob 上のオブジェクトストレージを提供します
//
// バケットは URL で指定します (file:///..., s3://..., gs://..., mem://)。
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// ErrNotFound はオブジェクトが存在しない
var ErrNotFound = errors.New("object not found")

// Config はオブジェクトストレージの設定
type Config struct {
	BucketURL string
	// PublicBaseURL はアップロードしたオブジェクトの公開URLの接頭辞
	PublicBaseURL string
	// DownloadTimeout は外部URLからの取得1件あたりの上限
	DownloadTimeout time.Duration
}

// Storage は merge.Storage / transcription.Downloader / segmentstore.Storage を実装します
type Storage struct {
	bucket     *blob.Bucket
	publicBase string
	nativeBase string
	httpClient *http.Client
	logger     *slog.Logger
}

// Open はバケットを開きます
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Storage, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", cfg.BucketURL, err)
	}
	return New(bucket, cfg, logger), nil
}

// New は開いたバケットから Storage を作成します
func New(bucket *blob.Bucket, cfg Config, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Storage{
		bucket:     bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		nativeBase: gcsBase(cfg.BucketURL),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Close はバケットを閉じます
func (s *Storage) Close() error {
	return s.bucket.Close()
}

// Upload はオブジェクトを書き込み、公開URLを返します
// 書き込みに失敗した場合はオブジェクトを作成しない
func (s *Storage) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	// Close 前に writer の ctx をキャンセルすると書き込みは破棄される
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(writeCtx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to open writer for %s: %w", key, err)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to commit %s: %w", key, err)
	}

	s.logger.Debug("object uploaded", "key", key, "bytes", n, "contentType", contentType)
	return s.PublicURL(key), nil
}

// Delete はオブジェクトを削除します。存在しない場合は何もしない
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// NativeURI は gs:// バケットのとき、キーに対応する gs://bucket/key を返します
func (s *Storage) NativeURI(key string) (string, bool) {
	if s.nativeBase == "" {
		return "", false
	}
	return s.nativeBase + strings.TrimLeft(key, "/"), true
}

// gcsBase は gs:// のバケットURLから "gs://bucket/prefix" を作ります
func gcsBase(bucketURL string) string {
	u, err := url.Parse(bucketURL)
	if err != nil || u.Scheme != "gs" || u.Host == "" {
		return ""
	}
	return "gs://" + u.Host + "/" + strings.TrimLeft(u.Query().Get("prefix"), "/")
}

// PublicURL はキーに対応する公開URLを返します
func (s *Storage) PublicURL(key string) string {
	if s.publicBase == "" {
		return key
	}
	return s.publicBase + "/" + strings.TrimLeft(key, "/")
}

// KeyFor は公開URLからキーを取り出します。自バケットのURLでなければ false
func (s *Storage) KeyFor(url string) (string, bool) {
	if s.publicBase == "" {
		return "", false
	}
	prefix := s.publicBase + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	return key, key != ""
}

// Download は URL の内容を開きます
// 自バケットの公開URLはバケットから直接読み、それ以外は HTTP で取得します
func (s *Storage) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	if key, ok := s.KeyFor(url); ok {
		return s.Open(ctx, key)
	}
	if !strings.Contains(url, "://") {
		return s.Open(ctx, url)
	}
	return s.fetch(ctx, url)
}

// Open はキーを指定してオブジェクトを開きます
func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return r, nil
}

// Attributes はオブジェクトの Content-Type とサイズを返します
func (s *Storage) Attributes(ctx context.Context, key string) (string, int64, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return "", 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", 0, fmt.Errorf("failed to read attributes of %s: %w", key, err)
	}
	return attrs.ContentType, attrs.Size, nil
}

func (s *Storage) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
