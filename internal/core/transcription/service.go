package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/interview-pipeline/internal/core/event"
	"github.com/jinford/interview-pipeline/internal/core/interview"
	"github.com/jinford/interview-pipeline/internal/core/lease"
	"github.com/jinford/interview-pipeline/internal/platform/metrics"
)

const (
	stuckResetMessage = "transcription was interrupted (no heartbeat within threshold), reset to pending"
	persistTimeout    = 30 * time.Second
)

// Config は文字起こし処理の設定
type Config struct {
	StuckThreshold    time.Duration
	HeartbeatInterval time.Duration
	ScratchDir        string
	Language          string
	// Timeout は音声認識呼び出し1回の上限
	Timeout time.Duration
}

// DefaultConfig はデフォルト設定を返します
func DefaultConfig() Config {
	return Config{
		StuckThreshold:    30 * time.Minute,
		HeartbeatInterval: time.Minute,
		ScratchDir:        os.TempDir(),
		Timeout:           30 * time.Minute,
	}
}

// Service は文字起こしジョブの登録、実行、再実行、状態参照を提供します
type Service struct {
	repo        Repository
	interviews  InterviewStore
	downloader  Downloader
	transcriber Transcriber
	extractor   AudioExtractor
	summarizer  Summarizer
	scheduler   Scheduler
	events      event.Publisher
	metrics     *metrics.Metrics
	config      Config
	logger      *slog.Logger
	now         func() time.Time
}

type serviceOptions struct {
	extractor  AudioExtractor
	summarizer Summarizer
	scheduler  Scheduler
	events     event.Publisher
	metrics    *metrics.Metrics
	config     *Config
	logger     *slog.Logger
	now        func() time.Time
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

// WithAudioExtractor は音声抽出を有効にする
func WithAudioExtractor(e AudioExtractor) Option {
	return func(o *serviceOptions) {
		o.extractor = e
	}
}

// WithSummarizer は要約生成を有効にする
func WithSummarizer(s Summarizer) Option {
	return func(o *serviceOptions) {
		o.summarizer = s
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
func NewService(repo Repository, interviews InterviewStore, downloader Downloader, transcriber Transcriber, opts ...Option) *Service {
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
		repo:        repo,
		interviews:  interviews,
		downloader:  downloader,
		transcriber: transcriber,
		extractor:   options.extractor,
		summarizer:  options.summarizer,
		scheduler:   options.scheduler,
		events:      options.events,
		metrics:     options.metrics,
		config:      cfg,
		logger:      options.logger,
		now:         options.now,
	}
}

// Enqueue はセッションの文字起こしを登録します
// 生存中のジョブがあれば新規作成せずにそれを返します (created=false)
func (s *Service) Enqueue(ctx context.Context, sessionID, videoURL string) (*Job, bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, false, ErrSessionRequired
	}
	if strings.TrimSpace(videoURL) == "" {
		return nil, false, ErrVideoURLRequired
	}

	job, created, err := s.repo.CreateIfNoLive(ctx, sessionID, NewJobID(sessionID, s.now()), videoURL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue transcription: %w", err)
	}

	if !created {
		s.logger.Info("transcription already in progress", "sessionID", sessionID, "jobID", job.JobID, "status", job.Status)
		if job.Status == StatusPending {
			s.schedule(job)
		}
		return job, false, nil
	}

	s.logger.Info("transcription enqueued", "sessionID", sessionID, "jobID", job.JobID)
	s.publish(ctx, job, event.TypeTranscriptionQueued, "")
	s.schedule(job)
	return job, true, nil
}

// Trigger はマージ完了時の起動口です
func (s *Service) Trigger(ctx context.Context, sessionID, videoURL string) error {
	_, _, err := s.Enqueue(ctx, sessionID, videoURL)
	return err
}

// Schedule は Run をバックグラウンドで実行するよう予約します
func (s *Service) Schedule(id uuid.UUID) error {
	if s.scheduler == nil {
		return errors.New("no scheduler configured")
	}
	return s.scheduler.Submit("transcription:"+id.String(), func(ctx context.Context) {
		if _, err := s.Run(ctx, id); err != nil {
			s.logger.Error("transcription run failed", "id", id, "error", err)
		}
	})
}

func (s *Service) schedule(job *Job) {
	if err := s.Schedule(job.ID); err != nil {
		// レコードは pending のまま残り、Recover で再投入される
		s.logger.Warn("failed to schedule transcription", "jobID", job.JobID, "error", err)
	}
}

// Get はジョブを取得します
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	opt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcription job: %w", err)
	}
	job, ok := opt.Get()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// Run はジョブの処理本体を実行します。何度呼び出しても安全です
// 処理中の失敗はジョブと面接行に記録され、戻り値のエラーにはなりません
func (s *Service) Run(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case StatusCompleted, StatusFailed:
		s.metrics.RecordTranscription(metrics.OutcomeSkipped, 0)
		return job, nil
	case StatusProcessing:
		if !job.IsStale(s.now(), s.config.StuckThreshold) {
			s.logger.Info("transcription is being processed elsewhere", "jobID", job.JobID)
			s.metrics.RecordTranscription(metrics.OutcomeSkipped, 0)
			return job, nil
		}
		reset, err := s.repo.ResetStuck(ctx, job.ID, s.staleBefore(), stuckResetMessage)
		if err != nil {
			return nil, fmt.Errorf("failed to reset stuck transcription: %w", err)
		}
		if reset {
			s.logger.Warn("stuck transcription reset to pending", "jobID", job.JobID, "startedAt", job.StartedAt)
			s.metrics.RecordRecovered("transcription")
		}
	}

	claimedOpt, err := s.repo.Claim(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim transcription: %w", err)
	}
	claimed, ok := claimedOpt.Get()
	if !ok {
		s.metrics.RecordTranscription(metrics.OutcomeSkipped, 0)
		return s.Get(ctx, job.ID)
	}

	return s.process(ctx, claimed), nil
}

// Recover は pending のジョブと止まっている processing のジョブを再投入します
func (s *Service) Recover(ctx context.Context) (int, error) {
	jobs, err := s.repo.ListRecoverable(ctx, s.staleBefore())
	if err != nil {
		return 0, fmt.Errorf("failed to list recoverable transcriptions: %w", err)
	}

	scheduled := 0
	for _, job := range jobs {
		if err := s.Schedule(job.ID); err != nil {
			s.logger.Warn("failed to reschedule transcription", "jobID", job.JobID, "error", err)
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		s.logger.Info("transcriptions rescheduled", "count", scheduled)
	}
	return scheduled, nil
}

func (s *Service) staleBefore() time.Time {
	return s.now().Add(-s.config.StuckThreshold)
}

func (s *Service) process(ctx context.Context, job *Job) *Job {
	start := s.now()
	startedAt := *job.StartedAt
	logger := s.logger.With("jobID", job.JobID, "sessionID", job.SessionID)
	logger.Info("transcription started", "provider", s.transcriber.Name())

	runCtx, stop := lease.Keep(ctx, s.config.HeartbeatInterval, func(ctx context.Context) (bool, error) {
		return s.repo.Heartbeat(ctx, job.ID, startedAt)
	}, logger)
	transcript, runErr := s.transcribe(runCtx, job, logger)
	lost := lease.Lost(runCtx)
	stop()

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if lost {
		logger.Warn("transcription lease lost, leaving record to its new owner", "error", runErr)
		s.metrics.RecordTranscription(metrics.OutcomeSkipped, s.now().Sub(start))
		return job
	}
	if runErr != nil && ctx.Err() != nil {
		// シャットダウンによる中断。processing のまま残し、stale 判定後に再実行される
		logger.Warn("transcription interrupted", "error", runErr)
		s.metrics.RecordTranscription(metrics.OutcomeSkipped, s.now().Sub(start))
		return job
	}
	if runErr != nil {
		return s.fail(persistCtx, job, startedAt, runErr, start, logger)
	}

	meta := BuildResultMetadata(transcript, s.transcriber.Name())
	completed, err := s.repo.Complete(persistCtx, job.ID, startedAt, meta)
	if err != nil {
		return s.fail(persistCtx, job, startedAt, fmt.Errorf("failed to persist transcription: %w", err), start, logger)
	}

	elapsed := s.now().Sub(start)
	logger.Info("transcription completed",
		"language", meta.Language,
		"segments", len(meta.Segments),
		"chars", len(transcript.Text),
		"elapsed", elapsed,
	)
	s.metrics.RecordTranscription(metrics.OutcomeCompleted, elapsed)

	s.applyResult(persistCtx, completed, transcript.Text, meta, logger)
	s.publish(persistCtx, completed, event.TypeTranscriptionCompleted, "")
	return completed
}

// transcribe はダウンロードから音声認識までを行います
func (s *Service) transcribe(ctx context.Context, job *Job, logger *slog.Logger) (*Transcript, error) {
	if err := s.interviews.SetTranscriptionState(ctx, job.SessionID, job.JobID, interview.TranscriptionProcessing); err != nil && !errors.Is(err, interview.ErrNotFound) {
		logger.Warn("failed to mark interview transcription processing", "error", err)
	}

	if err := s.transcriber.CheckCredentials(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialMissing, err)
	}

	dir, err := os.MkdirTemp(s.config.ScratchDir, fmt.Sprintf("transcribe-%s-*", job.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove scratch dir", "dir", dir, "error", err)
		}
	}()

	videoPath := filepath.Join(dir, job.ID.String()+"_source"+videoExt(job.VideoURL))
	if err := s.download(ctx, job.VideoURL, videoPath); err != nil {
		return nil, fmt.Errorf("failed to download video: %w", err)
	}

	reqs := s.transcriber.AudioRequirements()
	input, err := s.prepareAudio(ctx, job, dir, videoPath, reqs, logger)
	if err != nil {
		return nil, err
	}
	if err := checkUploadSize(input, reqs.MaxBytes, s.transcriber.Name()); err != nil {
		return nil, err
	}

	callCtx := ctx
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	transcript, err := s.transcriber.Transcribe(callCtx, TranscribeRequest{FilePath: input, Language: s.config.Language})
	if err != nil {
		return nil, fmt.Errorf("speech-to-text failed: %w", err)
	}
	return transcript, nil
}

// prepareAudio はプロバイダー向けの音声ファイルを用意し、そのパスを返します
// 抽出できない場合に元の動画を送るのは、動画を受け付けるプロバイダーに限る
func (s *Service) prepareAudio(ctx context.Context, job *Job, dir, videoPath string, reqs AudioRequirements, logger *slog.Logger) (string, error) {
	if s.extractor == nil {
		if !reqs.AcceptsVideo {
			return "", fmt.Errorf("%w: %s needs extracted audio but no extractor is configured", ErrUnsupportedAudio, s.transcriber.Name())
		}
		return videoPath, nil
	}

	audioPath := filepath.Join(dir, job.ID.String()+"_audio"+reqs.Format.Ext())
	err := s.extractor.ExtractAudio(ctx, videoPath, audioPath, reqs.Format)
	if err == nil {
		return audioPath, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if !reqs.AcceptsVideo {
		return "", fmt.Errorf("failed to extract audio: %w", err)
	}
	logger.Warn("failed to extract audio, sending original video", "error", err)
	return videoPath, nil
}

// checkUploadSize は送信前にサイズ上限を確認します
func checkUploadSize(path string, maxBytes int64, provider string) error {
	if maxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat audio: %w", err)
	}
	if info.Size() > maxBytes {
		return fmt.Errorf("%w: %d bytes, %s accepts at most %d bytes", ErrAudioTooLarge, info.Size(), provider, maxBytes)
	}
	return nil
}

func (s *Service) download(ctx context.Context, url, dst string) error {
	rc, err := s.downloader.Download(ctx, url)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := out.ReadFrom(rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// applyResult は要約を生成して面接行に結果を書き込みます
// どちらの失敗もジョブの状態には影響しません
func (s *Service) applyResult(ctx context.Context, job *Job, text string, meta ResultMetadata, logger *slog.Logger) {
	update := interview.TranscriptionUpdate{JobID: job.JobID, Text: text}

	raw, err := json.Marshal(meta)
	if err != nil {
		logger.Error("failed to marshal transcription metadata", "error", err)
	} else {
		update.Metadata = raw
	}

	if s.summarizer != nil && strings.TrimSpace(text) != "" {
		summary, err := s.summarizer.Summarize(ctx, text)
		switch {
		case err != nil:
			logger.Warn("failed to generate summary", "error", err)
			s.metrics.RecordSummaryFailure()
		case strings.TrimSpace(summary) != "":
			update.Summary = &summary
		}
	}

	if err := s.interviews.ApplyTranscription(ctx, job.SessionID, update); err != nil {
		if errors.Is(err, interview.ErrNotFound) {
			logger.Warn("interview row not found, skipping transcription result update")
			return
		}
		logger.Error("failed to write transcription result to interview", "error", err)
	}
}

func (s *Service) fail(ctx context.Context, job *Job, startedAt time.Time, cause error, start time.Time, logger *slog.Logger) *Job {
	logger.Error("transcription failed", "error", cause)
	s.metrics.RecordTranscription(metrics.OutcomeFailed, s.now().Sub(start))

	result := job
	failed, err := s.repo.Fail(ctx, job.ID, startedAt, cause.Error())
	if err != nil {
		logger.Error("failed to record transcription failure", "error", err)
	} else {
		result = failed
	}

	n, err := s.interviews.MarkTranscriptionFailedByJob(ctx, job.JobID)
	if err != nil {
		logger.Error("failed to mark interviews transcription failed", "error", err)
	} else {
		logger.Debug("interviews marked transcription failed", "rows", n)
	}

	s.publish(ctx, result, event.TypeTranscriptionFailed, cause.Error())
	return result
}

func (s *Service) publish(ctx context.Context, job *Job, eventType, errMsg string) {
	err := s.events.Publish(ctx, job.SessionID, event.Event{
		Type:       eventType,
		SessionID:  job.SessionID,
		JobID:      job.JobID,
		Status:     string(job.Status),
		Error:      errMsg,
		OccurredAt: s.now().UTC(),
	})
	s.metrics.RecordEvent(eventType, err)
	if err != nil {
		s.logger.Warn("failed to publish transcription event", "jobID", job.JobID, "type", eventType, "error", err)
	}
}

func videoExt(raw string) string {
	p := raw
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 6 || strings.Contains(ext, "/") {
		return ".webm"
	}
	return ext
}
