package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jinford/interview-pipeline/internal/platform/metrics"
)

// Fetcher はセグメントをスクラッチ領域に取得し、実際の長さを計測します
type Fetcher struct {
	storage Storage
	media   MediaTool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewFetcher は新しい Fetcher を作成します
func NewFetcher(storage Storage, media MediaTool, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{storage: storage, media: media, metrics: m, logger: logger}
}

// Fetch は segments を sequenceNumber 順に dir へダウンロードします
//
// 各ファイルは probe で長さを計測し、失敗した場合は申告値を使います。
// ダウンロードや書き込みに失敗した場合は途中までに作成したファイルを削除してエラーを返します。
// 成功時のファイルは呼び出し側が dir ごと削除します。
func (f *Fetcher) Fetch(ctx context.Context, taskID uuid.UUID, dir string, segments []Segment) (fetched []FetchedSegment, err error) {
	ordered := SortBySequence(segments)
	fetched = make([]FetchedSegment, 0, len(ordered))

	defer func() {
		if err != nil {
			for _, fs := range fetched {
				_ = os.Remove(fs.Path)
			}
			fetched = nil
		}
	}()

	for _, seg := range ordered {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_seg_%03d%s", taskID, seg.SequenceNumber, seg.Ext()))
		size, err := f.download(ctx, seg.URL, path)
		if err != nil {
			return fetched, fmt.Errorf("failed to fetch segment %d: %w", seg.SequenceNumber, err)
		}

		item := FetchedSegment{Segment: seg, Path: path, Size: size, Duration: seg.Duration}
		measured, probeErr := f.media.Probe(ctx, path)
		switch {
		case probeErr == nil && measured > 0:
			item.Duration = measured
			item.Measured = true
		default:
			if probeErr == nil {
				probeErr = errors.New("non-positive duration")
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				fetched = append(fetched, item)
				return fetched, ctxErr
			}
			f.logger.Warn("failed to probe segment, using declared duration",
				"taskID", taskID,
				"sequenceNumber", seg.SequenceNumber,
				"declaredDuration", seg.Duration,
				"error", probeErr,
			)
			f.metrics.RecordProbeFallback()
		}

		fetched = append(fetched, item)
		f.logger.Debug("segment fetched",
			"taskID", taskID,
			"sequenceNumber", seg.SequenceNumber,
			"bytes", size,
			"duration", item.Duration,
			"measured", item.Measured,
		)
	}

	return fetched, nil
}

func (f *Fetcher) download(ctx context.Context, url, path string) (int64, error) {
	rc, err := f.storage.Download(ctx, url)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	return writeFile(path, rc)
}

// writeFile は r の内容を path に書き込みます。失敗時は path を残しません
func writeFile(path string, r io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}

	n, err := io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return n, nil
}
