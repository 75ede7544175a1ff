package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// STTプロバイダー名
const (
	STTProviderOpenAI = "openai"
	STTProviderGoogle = "google"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Storage  StorageConfig
	Media    MediaConfig
	Pipeline PipelineConfig
	STT      STTConfig
	Summary  SummaryConfig
	Kafka    KafkaConfig
	Log      LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// StorageConfig はオブジェクトストレージ設定
type StorageConfig struct {
	// BucketURL は gocloud.dev/blob の URL (file://, s3://, gs://, mem://)
	BucketURL string
	// PublicBaseURL はアップロード済みオブジェクトの公開URLの接頭辞
	PublicBaseURL string
	// SegmentCacheDir は録画セグメントのローカルキャッシュ
	SegmentCacheDir string
}

// MediaConfig は ffmpeg / ffprobe の設定
type MediaConfig struct {
	FFmpegPath     string
	FFprobePath    string
	CommandTimeout time.Duration
	ProbeTimeout   time.Duration
	ScratchDir     string
}

// PipelineConfig は非同期処理全体の設定
type PipelineConfig struct {
	StuckThreshold    time.Duration
	HeartbeatInterval time.Duration
	WorkerConcurrency int
	WorkerQueueSize   int
	RecoveryInterval  time.Duration
	DownloadTimeout   time.Duration
}

// STTConfig は文字起こし設定
type STTConfig struct {
	Provider        string // "openai" or "google"
	OpenAIAPIKey    string
	Model           string
	Language        string
	Timeout         time.Duration
	GoogleCredsFile string
}

// SummaryConfig は要約生成設定
type SummaryConfig struct {
	Enabled         bool
	APIKey          string
	Model           string
	MaxInputTokens  int
	MaxOutputTokens int
	Timeout         time.Duration
}

// KafkaConfig はイベント配信設定
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	openaiKey := getEnv("OPENAI_API_KEY", "")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "interview"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "interview"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Port:            getEnvAsInt("HTTP_PORT", 8080),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			BucketURL:       getEnv("STORAGE_BUCKET_URL", "file:///var/lib/interview-pipeline/objects"),
			PublicBaseURL:   getEnv("STORAGE_PUBLIC_BASE_URL", "http://localhost:8080/objects"),
			SegmentCacheDir: getEnv("SEGMENT_CACHE_DIR", "/var/lib/interview-pipeline/segments"),
		},
		Media: MediaConfig{
			FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:    getEnv("FFPROBE_PATH", "ffprobe"),
			CommandTimeout: getEnvAsDuration("MEDIA_COMMAND_TIMEOUT", 10*time.Minute),
			ProbeTimeout:   getEnvAsDuration("MEDIA_PROBE_TIMEOUT", 30*time.Second),
			ScratchDir:     getEnv("SCRATCH_DIR", os.TempDir()),
		},
		Pipeline: PipelineConfig{
			StuckThreshold:    getEnvAsDuration("STUCK_THRESHOLD", 30*time.Minute),
			HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", time.Minute),
			WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 1),
			WorkerQueueSize:   getEnvAsInt("WORKER_QUEUE_SIZE", 64),
			RecoveryInterval:  getEnvAsDuration("RECOVERY_INTERVAL", 5*time.Minute),
			DownloadTimeout:   getEnvAsDuration("DOWNLOAD_TIMEOUT", 5*time.Minute),
		},
		STT: STTConfig{
			Provider:        getEnv("STT_PROVIDER", STTProviderOpenAI),
			OpenAIAPIKey:    openaiKey,
			Model:           getEnv("STT_MODEL", "whisper-1"),
			Language:        getEnv("STT_LANGUAGE", ""),
			Timeout:         getEnvAsDuration("STT_TIMEOUT", 30*time.Minute),
			GoogleCredsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Summary: SummaryConfig{
			Enabled:         getEnvAsBool("SUMMARY_ENABLED", true),
			APIKey:          getEnv("SUMMARY_API_KEY", openaiKey),
			Model:           getEnv("SUMMARY_MODEL", "gpt-4o-mini"),
			MaxInputTokens:  getEnvAsInt("SUMMARY_MAX_INPUT_TOKENS", 6000),
			MaxOutputTokens: getEnvAsInt("SUMMARY_MAX_OUTPUT_TOKENS", 400),
			Timeout:         getEnvAsDuration("SUMMARY_TIMEOUT", 60*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvAsBool("KAFKA_ENABLED", false),
			Brokers: getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "interview-pipeline-events"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は矛盾した設定値を検出します
// STTの認証情報はここでは検証しない（ジョブ単位の設定エラーとして扱う）
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.StuckThreshold <= 0 {
		errs = append(errs, errors.New("STUCK_THRESHOLD must be positive"))
	}
	if c.Pipeline.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL must be positive"))
	}
	if c.Pipeline.HeartbeatInterval >= c.Pipeline.StuckThreshold {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL must be shorter than STUCK_THRESHOLD"))
	}
	if c.Pipeline.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.Pipeline.WorkerQueueSize < 1 {
		errs = append(errs, errors.New("WORKER_QUEUE_SIZE must be at least 1"))
	}
	if c.Media.CommandTimeout <= 0 || c.Media.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("media timeouts must be positive"))
	}
	switch c.STT.Provider {
	case STTProviderOpenAI, STTProviderGoogle:
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER: %q", c.STT.Provider))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required when KAFKA_ENABLED"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "90s" や "30m" 形式の環境変数を取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
