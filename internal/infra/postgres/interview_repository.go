package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jinford/interview-pipeline/internal/core/interview"
	"github.com/jinford/interview-pipeline/internal/core/merge"
	"github.com/jinford/interview-pipeline/internal/core/transcription"
	"github.com/jinford/interview-pipeline/internal/infra/postgres/sqlc"
	"github.com/samber/mo"
)

// InterviewRepository は面接行のうちパイプラインが所有する列だけを更新します
type InterviewRepository struct {
	q sqlc.Querier
}

// NewInterviewRepository は新しい InterviewRepository を作成します
func NewInterviewRepository(q sqlc.Querier) *InterviewRepository {
	return &InterviewRepository{q: q}
}

// コンパイル時の型チェック
var (
	_ merge.InterviewWriter        = (*InterviewRepository)(nil)
	_ transcription.InterviewStore = (*InterviewRepository)(nil)
)

func (r *InterviewRepository) FindBySession(ctx context.Context, sessionID string) (mo.Option[*interview.Record], error) {
	row, err := r.q.GetInterview(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*interview.Record](), nil
		}
		return mo.None[*interview.Record](), fmt.Errorf("failed to get interview: %w", err)
	}

	rec := &interview.Record{
		SessionID:             row.SessionID,
		Status:                row.Status,
		VideoURL:              PgtextToStringPtr(row.VideoUrl),
		SubtitleURL:           PgtextToStringPtr(row.SubtitleUrl),
		TotalDuration:         PgFloat8ToFloat64Ptr(row.TotalDuration),
		CompletedAt:           PgtzToTimePtr(row.CompletedAt),
		MergeMetadata:         row.MergeMetadata,
		TranscriptionJobID:    PgtextToStringPtr(row.TranscriptionJobID),
		TranscriptionText:     PgtextToStringPtr(row.TranscriptionText),
		TranscriptionMetadata: row.TranscriptionMetadata,
		AISummary:             PgtextToStringPtr(row.AiSummary),
	}
	if row.TranscriptionStatus.Valid {
		st := interview.TranscriptionStatus(row.TranscriptionStatus.String)
		rec.TranscriptionStatus = &st
	}
	return mo.Some(rec), nil
}

func (r *InterviewRepository) ApplyMerge(ctx context.Context, sessionID string, update interview.MergeUpdate) error {
	meta, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal merge metadata: %w", err)
	}
	n, err := r.q.ApplyMergeResult(ctx, sqlc.ApplyMergeResultParams{
		VideoUrl:      StringToPgtext(update.VideoURL),
		SubtitleUrl:   StringToPgtext(update.SubtitleURL),
		TotalDuration: Float64ToPgFloat8(update.TotalDuration),
		CompletedAt:   TimeToPgtz(update.CompletedAt),
		MergeMetadata: meta,
		SessionID:     sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to apply merge result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", interview.ErrNotFound, sessionID)
	}
	return nil
}

func (r *InterviewRepository) SetTranscriptionState(ctx context.Context, sessionID, jobID string, status interview.TranscriptionStatus) error {
	n, err := r.q.SetInterviewTranscriptionState(ctx, sqlc.SetInterviewTranscriptionStateParams{
		TranscriptionStatus: StringToPgtext(string(status)),
		TranscriptionJobID:  StringToPgtext(jobID),
		SessionID:           sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to set interview transcription state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", interview.ErrNotFound, sessionID)
	}
	return nil
}

func (r *InterviewRepository) ApplyTranscription(ctx context.Context, sessionID string, update interview.TranscriptionUpdate) error {
	n, err := r.q.ApplyTranscriptionResult(ctx, sqlc.ApplyTranscriptionResultParams{
		TranscriptionJobID:    StringToPgtext(update.JobID),
		TranscriptionText:     StringToPgtext(update.Text),
		TranscriptionMetadata: update.Metadata,
		AiSummary:             StringPtrToPgtext(update.Summary),
		SessionID:             sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to apply transcription result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", interview.ErrNotFound, sessionID)
	}
	return nil
}

func (r *InterviewRepository) MarkTranscriptionFailedByJob(ctx context.Context, jobID string) (int64, error) {
	n, err := r.q.MarkTranscriptionFailedByJob(ctx, StringToPgtext(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interviews transcription failed: %w", err)
	}
	return n, nil
}
