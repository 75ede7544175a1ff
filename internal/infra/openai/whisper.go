package openai

import (
	"context"
	"fmt"
	"math"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/jinford/interview-pipeline/internal/core/transcription"
)

const (
	// DefaultWhisperModel はデフォルトの音声認識モデル
	DefaultWhisperModel = goopenai.Whisper1

	providerOpenAI = "openai"

	// WhisperMaxUploadBytes は音声認識 API が受け付けるファイルサイズの上限 (25MB)
	WhisperMaxUploadBytes int64 = 25 << 20
)

// WhisperTranscriber は OpenAI Whisper API を使った transcription.Transcriber 実装
type WhisperTranscriber struct {
	client *goopenai.Client
	apiKey string
	model  string
}

type whisperOptions struct {
	model   string
	baseURL string
}

// WhisperOption は WhisperTranscriber のオプション設定
type WhisperOption func(*whisperOptions)

// WithWhisperModel はモデル名を上書きする
func WithWhisperModel(model string) WhisperOption {
	return func(o *whisperOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithWhisperBaseURL は API のベースURLを上書きする (互換サーバーやテスト用)
func WithWhisperBaseURL(baseURL string) WhisperOption {
	return func(o *whisperOptions) {
		o.baseURL = baseURL
	}
}

// NewWhisperTranscriber は新しい WhisperTranscriber を作成する
// APIキーが空でも作成でき、CheckCredentials で失敗する
func NewWhisperTranscriber(apiKey string, opts ...WhisperOption) *WhisperTranscriber {
	options := whisperOptions{model: DefaultWhisperModel}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if options.baseURL != "" {
		cfg.BaseURL = options.baseURL
	}

	return &WhisperTranscriber{
		client: goopenai.NewClientWithConfig(cfg),
		apiKey: apiKey,
		model:  options.model,
	}
}

// Name はプロバイダー名を返す
func (w *WhisperTranscriber) Name() string {
	return providerOpenAI
}

// CheckCredentials はAPIキーが設定されているかを確認する
func (w *WhisperTranscriber) CheckCredentials() error {
	if strings.TrimSpace(w.apiKey) == "" {
		return ErrAPIKeyNotSet
	}
	return nil
}

// AudioRequirements は Opus 圧縮の音声を 25MB まで受け付ける
// API は mp4 / webm も受け付けるので、抽出に失敗した場合は元の動画を送れる
func (w *WhisperTranscriber) AudioRequirements() transcription.AudioRequirements {
	return transcription.AudioRequirements{
		Format:       transcription.AudioOggOpus,
		MaxBytes:     WhisperMaxUploadBytes,
		AcceptsVideo: true,
	}
}

// Transcribe は音声ファイルを文字起こしし、区間ごとのタイムスタンプを返す
func (w *WhisperTranscriber) Transcribe(ctx context.Context, req transcription.TranscribeRequest) (*transcription.Transcript, error) {
	resp, err := w.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    w.model,
		FilePath: req.FilePath,
		Language: req.Language,
		Format:   goopenai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []goopenai.TranscriptionTimestampGranularity{
			goopenai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	segments := make([]transcription.TimedSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		conf := logprobToConfidence(s.AvgLogprob)
		segments = append(segments, transcription.TimedSegment{
			Start:      s.Start,
			End:        s.End,
			Text:       strings.TrimSpace(s.Text),
			Confidence: &conf,
		})
	}

	return &transcription.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
		Segments: segments,
	}, nil
}

// logprobToConfidence は区間の平均対数確率を 0..1 の信頼度に変換する
func logprobToConfidence(avgLogprob float64) float64 {
	c := math.Exp(avgLogprob)
	switch {
	case math.IsNaN(c):
		return 0
	case c > 1:
		return 1
	case c < 0:
		return 0
	}
	return c
}

var _ transcription.Transcriber = (*WhisperTranscriber)(nil)
