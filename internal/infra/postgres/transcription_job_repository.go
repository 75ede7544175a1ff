package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jinford/interview-pipeline/internal/core/interview"
	"github.com/jinford/interview-pipeline/internal/core/transcription"
	"github.com/jinford/interview-pipeline/internal/infra/postgres/sqlc"
	"github.com/jinford/interview-pipeline/internal/platform/database"
	"github.com/samber/mo"
)

const pgErrCodeUniqueViolation = "23505"

// Pool はクエリ発行とトランザクション開始ができる接続 (pgxpool.Pool)
type Pool interface {
	sqlc.DBTX
	database.TxBeginner
}

// TranscriptionJobRepository は transcription.Repository を実装する PostgreSQL リポジトリです
type TranscriptionJobRepository struct {
	db Pool
	q  *sqlc.Queries
}

// NewTranscriptionJobRepository は新しい TranscriptionJobRepository を作成します
func NewTranscriptionJobRepository(db Pool) *TranscriptionJobRepository {
	return &TranscriptionJobRepository{db: db, q: sqlc.New(db)}
}

// コンパイル時の型チェック
var _ transcription.Repository = (*TranscriptionJobRepository)(nil)

func (r *TranscriptionJobRepository) FindByID(ctx context.Context, id uuid.UUID) (mo.Option[*transcription.Job], error) {
	row, err := r.q.GetTranscriptionJob(ctx, UUIDToPgtype(id))
	return optionalJob(row, err, "failed to get transcription job")
}

func (r *TranscriptionJobRepository) FindLatestBySession(ctx context.Context, sessionID string) (mo.Option[*transcription.Job], error) {
	row, err := r.q.GetLatestTranscriptionJobBySession(ctx, sessionID)
	return optionalJob(row, err, "failed to get latest transcription job")
}

type createResult struct {
	job     *transcription.Job
	created bool
}

// CreateIfNoLive はセッション単位のアドバイザリロックを取得した上で生存中のジョブを探し、
// なければ作成して面接行を pending にします
func (r *TranscriptionJobRepository) CreateIfNoLive(ctx context.Context, sessionID, jobID, videoURL string) (*transcription.Job, bool, error) {
	res, err := database.Transact(ctx, r.db, func(tx pgx.Tx) (createResult, error) {
		if err := acquireXactLock(ctx, tx, sessionLockID(sessionID)); err != nil {
			return createResult{}, err
		}
		q := r.q.WithTx(tx)

		live, err := q.GetLiveTranscriptionJobBySession(ctx, sessionID)
		if err == nil {
			job, err := toJob(live)
			return createResult{job: job}, err
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return createResult{}, fmt.Errorf("failed to find live transcription job: %w", err)
		}

		row, err := q.CreateTranscriptionJob(ctx, sqlc.CreateTranscriptionJobParams{
			JobID:     jobID,
			SessionID: sessionID,
			VideoUrl:  videoURL,
		})
		if err != nil {
			return createResult{}, fmt.Errorf("failed to create transcription job: %w", err)
		}

		if _, err := q.SetInterviewTranscriptionState(ctx, sqlc.SetInterviewTranscriptionStateParams{
			TranscriptionStatus: StringToPgtext(string(interview.TranscriptionPending)),
			TranscriptionJobID:  StringToPgtext(jobID),
			SessionID:           sessionID,
		}); err != nil {
			return createResult{}, fmt.Errorf("failed to mark interview transcription pending: %w", err)
		}

		job, err := toJob(row)
		return createResult{job: job, created: true}, err
	})
	if err != nil {
		// ロック外から作成された場合は部分ユニークインデックスで弾かれる
		if isUniqueViolation(err) {
			opt, findErr := r.findLive(ctx, sessionID)
			if findErr != nil {
				return nil, false, findErr
			}
			if job, ok := opt.Get(); ok {
				return job, false, nil
			}
		}
		return nil, false, err
	}
	return res.job, res.created, nil
}

func (r *TranscriptionJobRepository) findLive(ctx context.Context, sessionID string) (mo.Option[*transcription.Job], error) {
	row, err := r.q.GetLiveTranscriptionJobBySession(ctx, sessionID)
	return optionalJob(row, err, "failed to find live transcription job")
}

func (r *TranscriptionJobRepository) ListRecoverable(ctx context.Context, staleBefore time.Time) ([]*transcription.Job, error) {
	rows, err := r.q.ListRecoverableTranscriptionJobs(ctx, TimeToPgtz(staleBefore))
	if err != nil {
		return nil, fmt.Errorf("failed to list recoverable transcription jobs: %w", err)
	}
	jobs := make([]*transcription.Job, 0, len(rows))
	for _, row := range rows {
		job, err := toJob(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *TranscriptionJobRepository) ResetStuck(ctx context.Context, id uuid.UUID, staleBefore time.Time, message string) (bool, error) {
	n, err := r.q.ResetStuckTranscriptionJob(ctx, sqlc.ResetStuckTranscriptionJobParams{
		Message:     StringToPgtext(message),
		ID:          UUIDToPgtype(id),
		StaleBefore: TimeToPgtz(staleBefore),
	})
	if err != nil {
		return false, fmt.Errorf("failed to reset stuck transcription job: %w", err)
	}
	return n > 0, nil
}

func (r *TranscriptionJobRepository) Claim(ctx context.Context, id uuid.UUID) (mo.Option[*transcription.Job], error) {
	row, err := r.q.ClaimTranscriptionJob(ctx, UUIDToPgtype(id))
	return optionalJob(row, err, "failed to claim transcription job")
}

func (r *TranscriptionJobRepository) Heartbeat(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	n, err := r.q.HeartbeatTranscriptionJob(ctx, sqlc.HeartbeatTranscriptionJobParams{
		ID:        UUIDToPgtype(id),
		StartedAt: TimeToPgtz(startedAt),
	})
	if err != nil {
		return false, fmt.Errorf("failed to update transcription heartbeat: %w", err)
	}
	return n > 0, nil
}

func (r *TranscriptionJobRepository) Complete(ctx context.Context, id uuid.UUID, startedAt time.Time, result transcription.ResultMetadata) (*transcription.Job, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result metadata: %w", err)
	}
	row, err := r.q.CompleteTranscriptionJob(ctx, sqlc.CompleteTranscriptionJobParams{
		ResultMetadata: raw,
		ID:             UUIDToPgtype(id),
		StartedAt:      TimeToPgtz(startedAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transcription job %s is no longer owned by this run", id)
		}
		return nil, fmt.Errorf("failed to complete transcription job: %w", err)
	}
	return toJob(row)
}

func (r *TranscriptionJobRepository) Fail(ctx context.Context, id uuid.UUID, startedAt time.Time, message string) (*transcription.Job, error) {
	row, err := r.q.FailTranscriptionJob(ctx, sqlc.FailTranscriptionJobParams{
		Message:   StringToPgtext(message),
		ID:        UUIDToPgtype(id),
		StartedAt: TimeToPgtz(startedAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transcription job %s is no longer owned by this run", id)
		}
		return nil, fmt.Errorf("failed to fail transcription job: %w", err)
	}
	return toJob(row)
}

// Requeue は終端状態のジョブを pending に戻します
// 同じセッションのロックを取るため CreateIfNoLive と競合しません
func (r *TranscriptionJobRepository) Requeue(ctx context.Context, id uuid.UUID) (mo.Option[*transcription.Job], error) {
	current, err := r.q.GetTranscriptionJob(ctx, UUIDToPgtype(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*transcription.Job](), nil
		}
		return mo.None[*transcription.Job](), fmt.Errorf("failed to get transcription job: %w", err)
	}

	opt, err := database.Transact(ctx, r.db, func(tx pgx.Tx) (mo.Option[*transcription.Job], error) {
		if err := acquireXactLock(ctx, tx, sessionLockID(current.SessionID)); err != nil {
			return mo.None[*transcription.Job](), err
		}
		row, err := r.q.WithTx(tx).RequeueTranscriptionJob(ctx, current.ID)
		return optionalJob(row, err, "failed to requeue transcription job")
	})
	if err != nil {
		if isUniqueViolation(err) {
			return mo.None[*transcription.Job](), nil
		}
		return mo.None[*transcription.Job](), err
	}
	return opt, nil
}

func optionalJob(row sqlc.TranscriptionJob, err error, msg string) (mo.Option[*transcription.Job], error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*transcription.Job](), nil
		}
		return mo.None[*transcription.Job](), fmt.Errorf("%s: %w", msg, err)
	}
	job, err := toJob(row)
	if err != nil {
		return mo.None[*transcription.Job](), err
	}
	return mo.Some(job), nil
}

func toJob(row sqlc.TranscriptionJob) (*transcription.Job, error) {
	job := &transcription.Job{
		ID:           PgtypeToUUID(row.ID),
		JobID:        row.JobID,
		SessionID:    row.SessionID,
		Status:       transcription.Status(row.Status),
		VideoURL:     row.VideoUrl,
		StartedAt:    PgtzToTimePtr(row.StartedAt),
		HeartbeatAt:  PgtzToTimePtr(row.HeartbeatAt),
		CompletedAt:  PgtzToTimePtr(row.CompletedAt),
		ErrorMessage: PgtextToStringPtr(row.ErrorMessage),
		CreatedAt:    PgtzToTime(row.CreatedAt),
		UpdatedAt:    PgtzToTime(row.UpdatedAt),
	}
	if len(row.ResultMetadata) > 0 {
		var meta transcription.ResultMetadata
		if err := json.Unmarshal(row.ResultMetadata, &meta); err != nil {
			return nil, fmt.Errorf("failed to decode result metadata of %s: %w", row.JobID, err)
		}
		job.ResultMetadata = &meta
	}
	return job, nil
}

// isUniqueViolation は PostgreSQL の unique_violation(23505) かどうかを判定します
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrCodeUniqueViolation
}
