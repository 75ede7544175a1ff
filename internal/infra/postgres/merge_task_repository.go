package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jinford/interview-pipeline/internal/core/merge"
	"github.com/jinford/interview-pipeline/internal/infra/postgres/sqlc"
	"github.com/samber/mo"
)

// MergeTaskRepository は merge.Repository を実装する PostgreSQL リポジトリです
type MergeTaskRepository struct {
	q sqlc.Querier
}

// NewMergeTaskRepository は新しい MergeTaskRepository を作成します
func NewMergeTaskRepository(q sqlc.Querier) *MergeTaskRepository {
	return &MergeTaskRepository{q: q}
}

// コンパイル時の型チェック
var _ merge.Repository = (*MergeTaskRepository)(nil)

func (r *MergeTaskRepository) Create(ctx context.Context, sessionID string, segments []merge.Segment) (*merge.Task, error) {
	raw, err := json.Marshal(segments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal segments: %w", err)
	}
	row, err := r.q.CreateMergeTask(ctx, sqlc.CreateMergeTaskParams{SessionID: sessionID, Segments: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to create merge task: %w", err)
	}
	return toMergeTask(row)
}

func (r *MergeTaskRepository) FindByID(ctx context.Context, id uuid.UUID) (mo.Option[*merge.Task], error) {
	row, err := r.q.GetMergeTask(ctx, UUIDToPgtype(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*merge.Task](), nil
		}
		return mo.None[*merge.Task](), fmt.Errorf("failed to get merge task: %w", err)
	}
	task, err := toMergeTask(row)
	if err != nil {
		return mo.None[*merge.Task](), err
	}
	return mo.Some(task), nil
}

func (r *MergeTaskRepository) ListBySession(ctx context.Context, sessionID string) ([]*merge.Task, error) {
	rows, err := r.q.ListMergeTasksBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge tasks: %w", err)
	}
	return toMergeTasks(rows)
}

func (r *MergeTaskRepository) ListRecoverable(ctx context.Context, staleBefore time.Time) ([]*merge.Task, error) {
	rows, err := r.q.ListRecoverableMergeTasks(ctx, TimeToPgtz(staleBefore))
	if err != nil {
		return nil, fmt.Errorf("failed to list recoverable merge tasks: %w", err)
	}
	return toMergeTasks(rows)
}

func (r *MergeTaskRepository) ResetStuck(ctx context.Context, id uuid.UUID, staleBefore time.Time, message string) (bool, error) {
	n, err := r.q.ResetStuckMergeTask(ctx, sqlc.ResetStuckMergeTaskParams{
		Message:     StringToPgtext(message),
		ID:          UUIDToPgtype(id),
		StaleBefore: TimeToPgtz(staleBefore),
	})
	if err != nil {
		return false, fmt.Errorf("failed to reset stuck merge task: %w", err)
	}
	return n > 0, nil
}

func (r *MergeTaskRepository) Claim(ctx context.Context, id uuid.UUID) (mo.Option[*merge.Task], error) {
	row, err := r.q.ClaimMergeTask(ctx, UUIDToPgtype(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*merge.Task](), nil
		}
		return mo.None[*merge.Task](), fmt.Errorf("failed to claim merge task: %w", err)
	}
	task, err := toMergeTask(row)
	if err != nil {
		return mo.None[*merge.Task](), err
	}
	return mo.Some(task), nil
}

func (r *MergeTaskRepository) Heartbeat(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	n, err := r.q.HeartbeatMergeTask(ctx, sqlc.HeartbeatMergeTaskParams{
		ID:        UUIDToPgtype(id),
		StartedAt: TimeToPgtz(startedAt),
	})
	if err != nil {
		return false, fmt.Errorf("failed to update merge task heartbeat: %w", err)
	}
	return n > 0, nil
}

func (r *MergeTaskRepository) Complete(ctx context.Context, id uuid.UUID, startedAt time.Time, result merge.CompletionResult) (*merge.Task, error) {
	durations := result.SegmentDurations
	if durations == nil {
		durations = []float64{}
	}
	row, err := r.q.CompleteMergeTask(ctx, sqlc.CompleteMergeTaskParams{
		MergedVideoUrl:   StringToPgtext(result.MergedVideoURL),
		TotalDuration:    Float64ToPgFloat8(result.TotalDuration),
		SegmentDurations: durations,
		ID:               UUIDToPgtype(id),
		StartedAt:        TimeToPgtz(startedAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("merge task %s is no longer owned by this run", id)
		}
		return nil, fmt.Errorf("failed to complete merge task: %w", err)
	}
	return toMergeTask(row)
}

func (r *MergeTaskRepository) Fail(ctx context.Context, id uuid.UUID, startedAt time.Time, message string) (*merge.Task, error) {
	row, err := r.q.FailMergeTask(ctx, sqlc.FailMergeTaskParams{
		Message:   StringToPgtext(message),
		ID:        UUIDToPgtype(id),
		StartedAt: TimeToPgtz(startedAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("merge task %s is no longer owned by this run", id)
		}
		return nil, fmt.Errorf("failed to fail merge task: %w", err)
	}
	return toMergeTask(row)
}

func toMergeTasks(rows []sqlc.MergeTask) ([]*merge.Task, error) {
	tasks := make([]*merge.Task, 0, len(rows))
	for _, row := range rows {
		task, err := toMergeTask(row)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func toMergeTask(row sqlc.MergeTask) (*merge.Task, error) {
	var segments []merge.Segment
	if err := json.Unmarshal(row.Segments, &segments); err != nil {
		return nil, fmt.Errorf("failed to decode segments of merge task %s: %w", PgtypeToUUID(row.ID), err)
	}
	return &merge.Task{
		ID:               PgtypeToUUID(row.ID),
		SessionID:        row.SessionID,
		Status:           merge.Status(row.Status),
		Segments:         segments,
		StartedAt:        PgtzToTimePtr(row.StartedAt),
		HeartbeatAt:      PgtzToTimePtr(row.HeartbeatAt),
		CompletedAt:      PgtzToTimePtr(row.CompletedAt),
		MergedVideoURL:   PgtextToStringPtr(row.MergedVideoUrl),
		TotalDuration:    PgFloat8ToFloat64Ptr(row.TotalDuration),
		SegmentDurations: row.SegmentDurations,
		ErrorMessage:     PgtextToStringPtr(row.ErrorMessage),
		CreatedAt:        PgtzToTime(row.CreatedAt),
		UpdatedAt:        PgtzToTime(row.UpdatedAt),
	}, nil
}
