package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/interview-pipeline/internal/core/event"
	"github.com/jinford/interview-pipeline/internal/core/interview"
	"github.com/jinford/interview-pipeline/internal/core/lease"
	"github.com/jinford/interview-pipeline/internal/platform/metrics"
)

const (
	stuckResetMessage = "processing was interrupted (no heartbeat within threshold), reset to pending"
	persistTimeout    = 30 * time.Second
)

// Config はマージ処理の設定
type Config struct {
	StuckThreshold    time.Duration
	HeartbeatInterval time.Duration
	ScratchDir        string
}

// DefaultConfig はデフォルト設定を返します
func DefaultConfig() Config {
	return Config{
		StuckThreshold:    30 * time.Minute,
		HeartbeatInterval: time.Minute,
		ScratchDir:        os.TempDir(),
	}
}

// Service はマージタスクの登録と実行を提供します
type Service struct {
	repo      Repository
	fetcher   *Fetcher
	media     MediaTool
	publisher *Publisher
	trigger   TranscriptionTrigger
	scheduler Scheduler
	events    event.Publisher
	metrics   *metrics.Metrics
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

type serviceOptions struct {
	trigger   TranscriptionTrigger
	scheduler Scheduler
	events    event.Publisher
	metrics   *metrics.Metrics
	config    *Config
	logger    *slog.Logger
	now       func() time.Time
}

// Option は Service のオプション設定
type Option func(*serviceOptions)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithConfig は設定を上書きする
func WithConfig(cfg Config) Option {
	return func(o *serviceOptions) {
		o.config = &cfg
	}
}

// WithTranscriptionTrigger は完了後に文字起こしを起動する
func WithTranscriptionTrigger(t TranscriptionTrigger) Option {
	return func(o *serviceOptions) {
		o.trigger = t
	}
}

// WithScheduler はバックグラウンド実行先を設定する
func WithScheduler(s Scheduler) Option {
	return func(o *serviceOptions) {
		o.scheduler = s
	}
}

// WithEventPublisher は状態遷移イベントの配信先を設定する
func WithEventPublisher(p event.Publisher) Option {
	return func(o *serviceOptions) {
		o.events = p
	}
}

// WithMetrics はメトリクスを設定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}

// WithClock は現在時刻の取得関数を差し替える (テスト用)
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		o.now = now
	}
}

// NewService は新しい Service を作成する
func NewService(repo Repository, storage Storage, media MediaTool, interviews InterviewWriter, opts ...Option) *Service {
	options := serviceOptions{
		events: event.NopPublisher{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.events == nil {
		options.events = event.NopPublisher{}
	}
	cfg := DefaultConfig()
	if options.config != nil {
		cfg = *options.config
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}

	return &Service{
		repo:      repo,
		fetcher:   NewFetcher(storage, media, options.metrics, options.logger),
		media:     media,
		publisher: NewPublisher(storage, interviews, options.logger),
		trigger:   options.trigger,
		scheduler: options.scheduler,
		events:    options.events,
		metrics:   options.metrics,
		config:    cfg,
		logger:    options.logger,
		now:       options.now,
	}
}

// Enqueue はマージタスクを pending で登録し、バックグラウンド実行を予約します
// 実行の完了は待ちません
func (s *Service) Enqueue(ctx context.Context, params EnqueueParams) (*Task, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	task, err := s.repo.Create(ctx, params.SessionID, params.Segments)
	if err != nil {
		return nil, fmt.Errorf("failed to create merge task: %w", err)
	}

	s.logger.Info("merge task enqueued",
		"taskID", task.ID,
		"sessionID", task.SessionID,
		"segments", len(task.Segments),
	)

	if err := s.Schedule(task.ID); err != nil {
		// レコードは pending のまま残り、Recover で再投入される
		s.logger.Warn("failed to schedule merge task", "taskID", task.ID, "error", err)
	}
	return task, nil
}

// Schedule は Run をバックグラウンドで実行するよう予約します
func (s *Service) Schedule(taskID uuid.UUID) error {
	if s.scheduler == nil {
		return errors.New("no scheduler configured")
	}
	return s.scheduler.Submit("merge:"+taskID.String(), func(ctx context.Context) {
		if _, err := s.Run(ctx, taskID); err != nil {
			s.logger.Error("merge task run failed", "taskID", taskID, "error", err)
		}
	})
}

// Get はタスクを取得します
func (s *Service) Get(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	opt, err := s.repo.FindByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get merge task: %w", err)
	}
	task, ok := opt.Get()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, nil
}

// ListBySession はセッションのタスクを新しい順に返します
func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]*Task, error) {
	tasks, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge tasks: %w", err)
	}
	return tasks, nil
}

// Run はタスクの処理本体を実行します。何度呼び出しても安全です
//
// completed のタスクと、ハートビートが生きている processing のタスクには何もしません。
// 閾値を超えて止まっている processing のタスクは pending に戻してから claim します。
// 処理中の失敗はタスクに記録され、戻り値のエラーにはなりません。
func (s *Service) Run(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case StatusCompleted:
		s.logger.Debug("merge task already completed", "taskID", task.ID)
		s.metrics.RecordMerge(metrics.OutcomeSkipped, 0)
		return task, nil
	case StatusProcessing:
		if !task.IsStale(s.now(), s.config.StuckThreshold) {
			s.logger.Info("merge task is being processed elsewhere", "taskID", task.ID)
			s.metrics.RecordMerge(metrics.OutcomeSkipped, 0)
			return task, nil
		}
		reset, err := s.repo.ResetStuck(ctx, task.ID, s.staleBefore(), stuckResetMessage)
		if err != nil {
			return nil, fmt.Errorf("failed to reset stuck merge task: %w", err)
		}
		if reset {
			s.logger.Warn("stuck merge task reset to pending", "taskID", task.ID, "startedAt", task.StartedAt)
			s.metrics.RecordRecovered("merge")
		}
	}

	claimedOpt, err := s.repo.Claim(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim merge task: %w", err)
	}
	claimed, ok := claimedOpt.Get()
	if !ok {
		// 他のワーカーが先に claim したか、終端状態
		s.metrics.RecordMerge(metrics.OutcomeSkipped, 0)
		return s.Get(ctx, task.ID)
	}

	return s.process(ctx, claimed), nil
}

// Recover は pending のタスクと止まっている processing のタスクを再投入します
func (s *Service) Recover(ctx context.Context) (int, error) {
	tasks, err := s.repo.ListRecoverable(ctx, s.staleBefore())
	if err != nil {
		return 0, fmt.Errorf("failed to list recoverable merge tasks: %w", err)
	}

	scheduled := 0
	for _, task := range tasks {
		if err := s.Schedule(task.ID); err != nil {
			s.logger.Warn("failed to reschedule merge task", "taskID", task.ID, "error", err)
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		s.logger.Info("merge tasks rescheduled", "count", scheduled)
	}
	return scheduled, nil
}

func (s *Service) staleBefore() time.Time {
	return s.now().Add(-s.config.StuckThreshold)
}

// process は claim 済みのタスクを実行し、結果を記録します
func (s *Service) process(ctx context.Context, task *Task) *Task {
	start := s.now()
	startedAt := *task.StartedAt
	logger := s.logger.With("taskID", task.ID, "sessionID", task.SessionID)
	logger.Info("merge task started", "segments", len(task.Segments))

	runCtx, stop := lease.Keep(ctx, s.config.HeartbeatInterval, func(ctx context.Context) (bool, error) {
		return s.repo.Heartbeat(ctx, task.ID, startedAt)
	}, logger)
	result, mergeErr := s.execute(runCtx, task)
	lost := lease.Lost(runCtx)
	stop()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if lost {
		logger.Warn("merge task lease lost, leaving record to its new owner", "error", mergeErr)
		s.metrics.RecordMerge(metrics.OutcomeSkipped, s.now().Sub(start))
		return task
	}
	if mergeErr != nil && ctx.Err() != nil {
		// シャットダウンによる中断。processing のまま残し、stale 判定後に再実行される
		logger.Warn("merge task interrupted", "error", mergeErr)
		s.metrics.RecordMerge(metrics.OutcomeSkipped, s.now().Sub(start))
		return task
	}

	if mergeErr == nil {
		completed, err := s.repo.Complete(persistCtx, task.ID, startedAt, *result)
		if err == nil {
			elapsed := s.now().Sub(start)
			logger.Info("merge task completed",
				"mergedVideoURL", result.MergedVideoURL,
				"totalDuration", result.TotalDuration,
				"elapsed", elapsed,
			)
			s.metrics.RecordMerge(metrics.OutcomeCompleted, elapsed)
			s.publish(persistCtx, completed, event.TypeMergeCompleted, "")
			s.triggerTranscription(persistCtx, completed)
			return completed
		}
		mergeErr = fmt.Errorf("failed to persist completion: %w", err)
	}

	logger.Error("merge task failed", "error", mergeErr)
	s.metrics.RecordMerge(metrics.OutcomeFailed, s.now().Sub(start))

	failed, err := s.repo.Fail(persistCtx, task.ID, startedAt, mergeErr.Error())
	if err != nil {
		logger.Error("failed to record merge task failure", "error", err)
		return task
	}
	s.publish(persistCtx, failed, event.TypeMergeFailed, mergeErr.Error())
	return failed
}

// execute は取得から面接行の更新までを行います
func (s *Service) execute(ctx context.Context, task *Task) (*CompletionResult, error) {
	scratch, err := os.MkdirTemp(s.config.ScratchDir, fmt.Sprintf("merge-%s-*", task.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			s.logger.Warn("failed to remove scratch dir", "dir", scratch, "error", err)
		}
	}()

	fetched, err := s.fetcher.Fetch(ctx, task.ID, scratch, task.Segments)
	if err != nil {
		return nil, err
	}

	ordered := make([]Segment, len(fetched))
	durations := make([]float64, len(fetched))
	for i, fs := range fetched {
		ordered[i] = fs.Segment
		durations[i] = fs.Duration
	}

	merged, err := s.concatenate(ctx, task.ID, scratch, fetched)
	if err != nil {
		return nil, err
	}

	stamp := s.now().UnixMilli()
	videoURL, err := s.uploadVideo(ctx, task.SessionID, stamp, merged.path)
	if err != nil {
		return nil, err
	}

	subtitle := &Subtitle{
		SessionID:      task.SessionID,
		TotalDuration:  merged.duration,
		CreatedAt:      s.now().UTC(),
		MergedVideoURL: videoURL,
		Questions:      BuildTimeline(ordered, durations, merged.duration),
	}
	subtitleURL, err := s.publisher.PublishSubtitle(ctx, stamp, subtitle)
	if err != nil {
		return nil, err
	}

	update := interview.MergeUpdate{
		VideoURL:      videoURL,
		SubtitleURL:   subtitleURL,
		TotalDuration: merged.duration,
		CompletedAt:   s.now().UTC(),
		Metadata: interview.MergeMetadata{
			SegmentCount:      len(fetched),
			EstimatedDuration: sumDurations(durations),
			ActualDuration:    merged.duration,
			ScaleFactor:       ScaleFactor(durations, merged.duration),
			Concatenated:      merged.concatenated,
		},
	}
	if err := s.publisher.UpdateInterview(ctx, task.SessionID, update); err != nil {
		return nil, err
	}

	return &CompletionResult{
		MergedVideoURL:   videoURL,
		TotalDuration:    merged.duration,
		SegmentDurations: durations,
	}, nil
}

func (s *Service) uploadVideo(ctx context.Context, sessionID string, stamp int64, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open merged video: %w", err)
	}
	defer f.Close()

	return s.publisher.PublishVideo(ctx, sessionID, stamp, filepath.Ext(path), f)
}

func (s *Service) triggerTranscription(ctx context.Context, task *Task) {
	if s.trigger == nil || task.MergedVideoURL == nil {
		return
	}
	if err := s.trigger.Trigger(ctx, task.SessionID, *task.MergedVideoURL); err != nil {
		s.logger.Error("failed to trigger transcription", "taskID", task.ID, "sessionID", task.SessionID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, task *Task, eventType, errMsg string) {
	err := s.events.Publish(ctx, task.SessionID, event.Event{
		Type:       eventType,
		SessionID:  task.SessionID,
		TaskID:     task.ID.String(),
		Status:     string(task.Status),
		Error:      errMsg,
		OccurredAt: s.now().UTC(),
	})
	s.metrics.RecordEvent(eventType, err)
	if err != nil {
		s.logger.Warn("failed to publish merge event", "taskID", task.ID, "type", eventType, "error", err)
	}
}
