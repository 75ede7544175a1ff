package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jinford/interview-pipeline/internal/core/interview"
)

// Retry はセッションの文字起こしを手動で再実行します
//
// 最新のジョブが生存中ならそれを返し、pending であれば再投入します。
// 最新のジョブが終端状態なら pending に戻して再投入します。
// ジョブがなく面接行に結合済み動画がある場合は新規に登録します。
func (s *Service) Retry(ctx context.Context, sessionID string) (*RetryResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionRequired
	}

	latestOpt, err := s.repo.FindLatestBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find latest transcription: %w", err)
	}

	if latest, ok := latestOpt.Get(); ok {
		return s.retryExisting(ctx, latest)
	}

	recOpt, err := s.interviews.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interview: %w", err)
	}
	rec, ok := recOpt.Get()
	if !ok || rec.VideoURL == nil || strings.TrimSpace(*rec.VideoURL) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNothingToDo, sessionID)
	}

	job, created, err := s.Enqueue(ctx, sessionID, *rec.VideoURL)
	if err != nil {
		return nil, err
	}
	action := RetryCreated
	if !created {
		action = RetryAlreadyRunning
	}
	return &RetryResult{Job: job, Action: action}, nil
}

func (s *Service) retryExisting(ctx context.Context, job *Job) (*RetryResult, error) {
	switch job.Status {
	case StatusProcessing:
		if job.IsStale(s.now(), s.config.StuckThreshold) {
			s.schedule(job)
			return &RetryResult{Job: job, Action: RetryResumed}, nil
		}
		return &RetryResult{Job: job, Action: RetryAlreadyRunning}, nil
	case StatusPending:
		s.schedule(job)
		return &RetryResult{Job: job, Action: RetryResumed}, nil
	}

	requeuedOpt, err := s.repo.Requeue(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue transcription: %w", err)
	}
	requeued, ok := requeuedOpt.Get()
	if !ok {
		// 他の呼び出しが先に再登録した
		current, err := s.repo.FindLatestBySession(ctx, job.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload transcription: %w", err)
		}
		if latest, ok := current.Get(); ok {
			return &RetryResult{Job: latest, Action: RetryAlreadyRunning}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, job.JobID)
	}

	if err := s.interviews.SetTranscriptionState(ctx, requeued.SessionID, requeued.JobID, interview.TranscriptionPending); err != nil && !errors.Is(err, interview.ErrNotFound) {
		s.logger.Warn("failed to mark interview transcription pending", "jobID", requeued.JobID, "error", err)
	}

	s.logger.Info("transcription requeued", "jobID", requeued.JobID, "previousStatus", job.Status)
	s.schedule(requeued)
	return &RetryResult{Job: requeued, Action: RetryRequeued}, nil
}

// Status はセッションの文字起こし状態を返します
// 面接行に状態がない場合は最新のジョブから組み立てます
func (s *Service) Status(ctx context.Context, sessionID string) (*StatusView, error) {
	recOpt, err := s.interviews.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interview: %w", err)
	}
	latestOpt, err := s.repo.FindLatestBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find latest transcription: %w", err)
	}

	rec, hasRec := recOpt.Get()
	latest, hasJob := latestOpt.Get()
	if !hasJob && (!hasRec || rec.TranscriptionStatus == nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, sessionID)
	}

	view := &StatusView{SessionID: sessionID}
	if hasJob {
		view.JobID = latest.JobID
		view.Status = latest.Status
		view.Metadata = latest.ResultMetadata
		view.Error = latest.ErrorMessage
	}
	if hasRec {
		if rec.TranscriptionStatus != nil {
			view.Status = Status(*rec.TranscriptionStatus)
		}
		if rec.TranscriptionJobID != nil && view.JobID == "" {
			view.JobID = *rec.TranscriptionJobID
		}
		view.Transcript = rec.TranscriptionText
		view.Summary = rec.AISummary
		if view.Metadata == nil && len(rec.TranscriptionMetadata) > 0 {
			var meta ResultMetadata
			if err := json.Unmarshal(rec.TranscriptionMetadata, &meta); err == nil {
				view.Metadata = &meta
			}
		}
	}
	return view, nil
}
