// Package openai は OpenAI API を使った音声認識と要約生成を提供します
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/interview-pipeline/internal/core/transcription"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second

	defaultMaxInputTokens  = 6000
	defaultMaxOutputTokens = 400
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrEmptySummary はモデルが空の要約を返した
	ErrEmptySummary = errors.New("empty summary returned")
)

const summarySystemPrompt = `あなたは採用面接の記録を整理するアシスタントです。
与えられた面接の文字起こしから、候補者の回答の要点を日本語で簡潔にまとめてください。
- 質問ごとの要点を箇条書きで示す
- 評価や推測は加えず、発言内容のみに基づく
- 文字起こしが途中で切れている場合もそのまま要約する`

// Summarizer は OpenAI Chat Completions を使った transcription.Summarizer 実装
type Summarizer struct {
	client          openai.Client
	model           string
	timeout         time.Duration
	maxInputTokens  int
	maxOutputTokens int
	baseBackoff     time.Duration
	counter         *TokenCounter
	logger          *slog.Logger
}

type summarizerOptions struct {
	model           string
	baseURL         string
	timeout         time.Duration
	maxInputTokens  int
	maxOutputTokens int
	baseBackoff     time.Duration
	counter         *TokenCounter
	logger          *slog.Logger
}

// SummarizerOption は Summarizer のオプション設定
type SummarizerOption func(*summarizerOptions)

// WithModel はモデル名を設定する
func WithModel(model string) SummarizerOption {
	return func(o *summarizerOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL は API のベースURLを上書きする
func WithBaseURL(baseURL string) SummarizerOption {
	return func(o *summarizerOptions) {
		o.baseURL = baseURL
	}
}

// WithTimeout はAPIコールのタイムアウトを設定する
func WithTimeout(timeout time.Duration) SummarizerOption {
	return func(o *summarizerOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithTokenLimits は入力と出力のトークン上限を設定する
func WithTokenLimits(maxInput, maxOutput int) SummarizerOption {
	return func(o *summarizerOptions) {
		if maxInput > 0 {
			o.maxInputTokens = maxInput
		}
		if maxOutput > 0 {
			o.maxOutputTokens = maxOutput
		}
	}
}

// WithTokenCounter は入力の切り詰めに使う TokenCounter を設定する
func WithTokenCounter(tc *TokenCounter) SummarizerOption {
	return func(o *summarizerOptions) {
		o.counter = tc
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) SummarizerOption {
	return func(o *summarizerOptions) {
		o.logger = logger
	}
}

func withBaseBackoff(d time.Duration) SummarizerOption {
	return func(o *summarizerOptions) {
		o.baseBackoff = d
	}
}

// NewSummarizer は新しい Summarizer を作成する
func NewSummarizer(apiKey string, opts ...SummarizerOption) (*Summarizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := summarizerOptions{
		model:           DefaultModel,
		timeout:         DefaultTimeout,
		maxInputTokens:  defaultMaxInputTokens,
		maxOutputTokens: defaultMaxOutputTokens,
		baseBackoff:     BaseBackoff,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	if options.counter == nil {
		counter, err := NewTokenCounter()
		if err != nil {
			options.logger.Warn("tiktoken encoding unavailable, falling back to estimate", "error", err)
			counter = NewEstimatingTokenCounter()
		}
		options.counter = counter
	}

	// レート制限のリトライはこのクライアント側で行う
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if options.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(options.baseURL))
	}

	return &Summarizer{
		client:          openai.NewClient(clientOpts...),
		model:           options.model,
		timeout:         options.timeout,
		maxInputTokens:  options.maxInputTokens,
		maxOutputTokens: options.maxOutputTokens,
		baseBackoff:     options.baseBackoff,
		counter:         options.counter,
		logger:          options.logger,
	}, nil
}

// ModelName はモデル名を返す
func (s *Summarizer) ModelName() string {
	return s.model
}

// Summarize は文字起こし全文の要約を生成する
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", errors.New("transcript is empty")
	}

	input, truncated := s.counter.Truncate(transcript, s.maxInputTokens)
	if truncated {
		s.logger.Info("transcript truncated for summary", "maxInputTokens", s.maxInputTokens)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt),
			openai.UserMessage(input),
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(int64(s.maxOutputTokens)),
	}

	content, err := s.completeWithRetry(ctx, params)
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptySummary
	}
	return content, nil
}

func (s *Summarizer) completeWithRetry(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(math.Pow(2, float64(attempt-1))) * s.baseBackoff
			if backoffDuration > MaxBackoff {
				backoffDuration = MaxBackoff
			}

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoffDuration):
			}
		}

		completion, err := s.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err

			if isRateLimitError(err) {
				s.logger.Debug("summary request rate limited", "attempt", attempt+1)
				continue
			}

			return "", fmt.Errorf("OpenAI API call failed: %w", err)
		}

		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("no completion choices returned")
		}

		s.logger.Debug("summary generated", "model", completion.Model, "tokens", completion.Usage.TotalTokens)
		return completion.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}

	return false
}

// インターフェース実装の確認
var _ transcription.Summarizer = (*Summarizer)(nil)
