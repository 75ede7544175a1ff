package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jinford/interview-pipeline/internal/core/merge"
	"github.com/jinford/interview-pipeline/internal/core/segmentstore"
	"github.com/jinford/interview-pipeline/internal/core/transcription"
	"github.com/jinford/interview-pipeline/internal/infra/blob"
	"github.com/jinford/interview-pipeline/internal/infra/ffmpeg"
	"github.com/jinford/interview-pipeline/internal/infra/googlestt"
	"github.com/jinford/interview-pipeline/internal/infra/kafka"
	"github.com/jinford/interview-pipeline/internal/infra/openai"
	"github.com/jinford/interview-pipeline/internal/infra/postgres"
	"github.com/jinford/interview-pipeline/internal/infra/postgres/sqlc"
	"github.com/jinford/interview-pipeline/internal/platform/config"
	"github.com/jinford/interview-pipeline/internal/platform/database"
	"github.com/jinford/interview-pipeline/internal/platform/metrics"
	"github.com/jinford/interview-pipeline/internal/platform/worker"
)

// ServiceContainer はアプリケーションの依存関係を保持する。
// ワーカープールは Start されるまでジョブを実行しない (server start が起動する)。
type ServiceContainer struct {
	Config        *config.Config
	Registry      *prometheus.Registry
	Metrics       *metrics.Metrics
	Pool          *worker.Pool
	Storage       *blob.Storage
	Interviews    *postgres.InterviewRepository
	Merge         *merge.Service
	Transcription *transcription.Service
	Segments      *segmentstore.Store
	Uploader      *segmentstore.Uploader

	logger   *slog.Logger
	database *database.Database
	closers  []func() error
}

type containerOptions struct {
	logger      *slog.Logger
	registry    *prometheus.Registry
	transcriber transcription.Transcriber
	summarizer  transcription.Summarizer
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerRegistry はメトリクスの登録先を差し替える
func WithContainerRegistry(reg *prometheus.Registry) ContainerOption {
	return func(opts *containerOptions) {
		opts.registry = reg
	}
}

// WithContainerTranscriber は音声認識プロバイダーを差し替える
func WithContainerTranscriber(t transcription.Transcriber) ContainerOption {
	return func(opts *containerOptions) {
		opts.transcriber = t
	}
}

// WithContainerSummarizer は要約生成を差し替える
func WithContainerSummarizer(s transcription.Summarizer) ContainerOption {
	return func(opts *containerOptions) {
		opts.summarizer = s
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	c, err := NewContainerWithDB(ctx, cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存の Database を受け取りコンテナを生成する。
func NewContainerWithDB(ctx context.Context, cfg *config.Config, db *database.Database, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	c := &ServiceContainer{Config: cfg, logger: logger, database: db}

	// Metrics
	reg := options.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	c.Registry = reg
	c.Metrics = metrics.New(reg)

	// Worker pool
	c.Pool = worker.New(cfg.Pipeline.WorkerConcurrency, cfg.Pipeline.WorkerQueueSize,
		worker.WithLogger(logger),
		worker.WithDepthRecorder(c.Metrics),
	)

	// Object storage
	storage, err := blob.Open(ctx, blob.Config{
		BucketURL:       cfg.Storage.BucketURL,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		DownloadTimeout: cfg.Pipeline.DownloadTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("ストレージ初期化に失敗しました: %w", err)
	}
	c.Storage = storage
	c.closers = append(c.closers, storage.Close)

	// Media tool
	media := ffmpeg.New(ffmpeg.Config{
		FFmpegPath:     cfg.Media.FFmpegPath,
		FFprobePath:    cfg.Media.FFprobePath,
		CommandTimeout: cfg.Media.CommandTimeout,
		ProbeTimeout:   cfg.Media.ProbeTimeout,
	}, ffmpeg.WithLogger(logger), ffmpeg.WithMetrics(c.Metrics))

	// Events
	events := kafka.New(kafka.Config{
		Enabled: cfg.Kafka.Enabled,
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	}, c.Metrics, logger)
	c.closers = append(c.closers, events.Close)

	// Speech-to-text / Summary
	transcriber := options.transcriber
	if transcriber == nil {
		transcriber = c.newTranscriber(cfg.STT, storage)
	}
	summarizer := options.summarizer
	if summarizer == nil {
		summarizer = newSummarizer(cfg.Summary, logger)
	}

	// Repository (PostgreSQL)
	queries := sqlc.New(db.Pool)
	mergeRepo := postgres.NewMergeTaskRepository(queries)
	jobRepo := postgres.NewTranscriptionJobRepository(db.Pool)
	c.Interviews = postgres.NewInterviewRepository(queries)

	// TranscriptionService
	transcriptionOpts := []transcription.Option{
		transcription.WithLogger(logger),
		transcription.WithConfig(transcription.Config{
			StuckThreshold:    cfg.Pipeline.StuckThreshold,
			HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
			ScratchDir:        cfg.Media.ScratchDir,
			Language:          cfg.STT.Language,
			Timeout:           cfg.STT.Timeout,
		}),
		transcription.WithAudioExtractor(media),
		transcription.WithScheduler(c.Pool),
		transcription.WithEventPublisher(events),
		transcription.WithMetrics(c.Metrics),
	}
	if summarizer != nil {
		transcriptionOpts = append(transcriptionOpts, transcription.WithSummarizer(summarizer))
	}
	c.Transcription = transcription.NewService(jobRepo, c.Interviews, storage, transcriber, transcriptionOpts...)

	// MergeService
	c.Merge = merge.NewService(mergeRepo, storage, media, c.Interviews,
		merge.WithLogger(logger),
		merge.WithConfig(merge.Config{
			StuckThreshold:    cfg.Pipeline.StuckThreshold,
			HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
			ScratchDir:        cfg.Media.ScratchDir,
		}),
		merge.WithTranscriptionTrigger(c.Transcription),
		merge.WithScheduler(c.Pool),
		merge.WithEventPublisher(events),
		merge.WithMetrics(c.Metrics),
	)

	// Segment store
	segments, err := segmentstore.New(cfg.Storage.SegmentCacheDir)
	if err != nil {
		_ = c.closeAll()
		return nil, fmt.Errorf("セグメントストア初期化に失敗しました: %w", err)
	}
	c.Segments = segments
	c.Uploader = segmentstore.NewUploader(segments, storage, logger)

	return c, nil
}

// newTranscriber はプロバイダーを選びます
// Google の場合、バケットが gs:// ならインライン上限を超える音声をそこへ置く
func (c *ServiceContainer) newTranscriber(cfg config.STTConfig, storage *blob.Storage) transcription.Transcriber {
	if cfg.Provider == config.STTProviderGoogle {
		t := googlestt.New(googlestt.Config{
			CredentialsFile: cfg.GoogleCredsFile,
			Language:        cfg.Language,
		}, c.logger, googlestt.WithStager(storage))
		c.closers = append(c.closers, t.Close)
		return t
	}
	return openai.NewWhisperTranscriber(cfg.OpenAIAPIKey, openai.WithWhisperModel(cfg.Model))
}

// newSummarizer は要約が無効、またはAPIキーがない場合 nil を返す
func newSummarizer(cfg config.SummaryConfig, logger *slog.Logger) transcription.Summarizer {
	if !cfg.Enabled {
		return nil
	}
	s, err := openai.NewSummarizer(cfg.APIKey,
		openai.WithModel(cfg.Model),
		openai.WithTimeout(cfg.Timeout),
		openai.WithTokenLimits(cfg.MaxInputTokens, cfg.MaxOutputTokens),
		openai.WithLogger(logger),
	)
	if err != nil {
		logger.Warn("summary disabled", "error", err)
		return nil
	}
	return s
}

// Recover はマージタスクと文字起こしジョブの取り残しを再投入する
func (c *ServiceContainer) Recover(ctx context.Context) error {
	var errs []error
	if n, err := c.Merge.Recover(ctx); err != nil {
		errs = append(errs, err)
	} else if n > 0 {
		c.logger.Info("recovery scheduled merge tasks", "count", n)
	}
	if n, err := c.Transcription.Recover(ctx); err != nil {
		errs = append(errs, err)
	} else if n > 0 {
		c.logger.Info("recovery scheduled transcriptions", "count", n)
	}
	return errors.Join(errs...)
}

func (c *ServiceContainer) closeAll() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if err := c.closeAll(); err != nil {
		c.Logger().Warn("failed to close resources", "error", err)
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す。
func (c *ServiceContainer) Database() *database.Database {
	if c == nil {
		return nil
	}
	return c.database
}
