package merge

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

type mergedFile struct {
	path         string
	duration     float64
	concatenated bool
}

// concatenate は取得済みセグメントを順番どおりに1ファイルへ結合します
//
// セグメントが1件の場合は結合せず、そのファイルと計測済みの長さをそのまま使います。
// 結合後の長さは再計測し、失敗した場合はセグメント長の合計を使います。
func (s *Service) concatenate(ctx context.Context, taskID uuid.UUID, dir string, fetched []FetchedSegment) (*mergedFile, error) {
	if len(fetched) == 1 {
		return &mergedFile{path: fetched[0].Path, duration: fetched[0].Duration}, nil
	}

	inputs := make([]string, len(fetched))
	estimated := 0.0
	for i, fs := range fetched {
		inputs[i] = fs.Path
		estimated += fs.Duration
	}

	output := filepath.Join(dir, fmt.Sprintf("%s_merged%s", taskID, fetched[0].Segment.Ext()))
	if err := s.media.Concat(ctx, inputs, output); err != nil {
		return nil, fmt.Errorf("failed to concatenate segments: %w", err)
	}

	actual, err := s.media.Probe(ctx, output)
	if err != nil || actual <= 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("failed to probe merged video, using sum of segment durations",
			"taskID", taskID,
			"estimatedDuration", estimated,
			"error", err,
		)
		s.metrics.RecordProbeFallback()
		actual = estimated
	}

	return &mergedFile{path: output, duration: actual, concatenated: true}, nil
}
