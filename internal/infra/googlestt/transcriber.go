// Package googlestt は Google Cloud Speech-to-Text を使った音声認識を提供します
package googlestt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/jinford/interview-pipeline/internal/core/transcription"
)

const (
	providerGoogle = "google"

	defaultLanguage   = "ja-JP"
	defaultSampleRate = 16000
	credentialsEnvVar = "GOOGLE_APPLICATION_CREDENTIALS"

	// InlineLimitBytes はリクエストに直接埋め込める音声の上限 (10MB)
	// これを超える音声は gs:// URI で渡す必要がある
	InlineLimitBytes int64 = 10 << 20

	stagingPrefix = "stt-staging/"
)

// ErrCredentialsNotSet は認証情報ファイルが設定されていない
var ErrCredentialsNotSet = errors.New("google credentials not set: please set GOOGLE_APPLICATION_CREDENTIALS")

// Config は Google Speech-to-Text の設定
type Config struct {
	CredentialsFile string
	// Language は BCP-47 の言語コード。要求側で指定がなければこれを使う
	Language     string
	SampleRateHz int32
}

// Stager は大きな音声を GCS に置くための保存先 (blob.Storage が実装)
type Stager interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	NativeURI(key string) (string, bool)
}

// recognizer は LongRunningRecognize を完了まで待つ呼び出し
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)
	Close() error
}

// Transcriber は transcription.Transcriber の Google 実装
// クライアントは最初の Transcribe で作成する
type Transcriber struct {
	cfg    Config
	logger *slog.Logger
	stager Stager

	mu     sync.Mutex
	client recognizer
	dial   func(ctx context.Context) (recognizer, error)
}

// Option は Transcriber のオプション設定
type Option func(*Transcriber)

// WithStager は上限を超える音声の置き場所を設定します
// gs:// のバケットでなければ無視される
func WithStager(s Stager) Option {
	return func(t *Transcriber) {
		if s == nil {
			return
		}
		if _, ok := s.NativeURI(stagingPrefix); ok {
			t.stager = s
		}
	}
}

// New は新しい Transcriber を作成します
func New(cfg Config, logger *slog.Logger, opts ...Option) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = defaultSampleRate
	}
	t := &Transcriber{cfg: cfg, logger: logger}
	t.dial = t.dialSpeech
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name はプロバイダー名を返す
func (t *Transcriber) Name() string {
	return providerGoogle
}

// CheckCredentials は認証情報ファイルが設定され、読めるかを確認します
func (t *Transcriber) CheckCredentials() error {
	path := t.credentialsFile()
	if path == "" {
		return ErrCredentialsNotSet
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("google credentials file unreadable: %w", err)
	}
	return nil
}

// AudioRequirements は Opus 圧縮の音声を要求します
// 動画コンテナは認識できないため、抽出に失敗した場合は元の動画にフォールバックしない
// gs:// の置き場所がなければインライン上限がそのまま上限になる
func (t *Transcriber) AudioRequirements() transcription.AudioRequirements {
	reqs := transcription.AudioRequirements{Format: transcription.AudioOggOpus}
	if t.stager == nil {
		reqs.MaxBytes = InlineLimitBytes
	}
	return reqs
}

// Transcribe は 16kHz モノラルの音声を認識します
// 符号化方式は拡張子で決め、インライン上限を超える場合は GCS 経由で渡す
func (t *Transcriber) Transcribe(ctx context.Context, req transcription.TranscribeRequest) (*transcription.Transcript, error) {
	encoding, err := encodingFor(req.FilePath)
	if err != nil {
		return nil, err
	}

	audio, cleanup, err := t.audioSource(ctx, req.FilePath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	client, err := t.getClient(ctx)
	if err != nil {
		return nil, err
	}

	lang := req.Language
	if lang == "" {
		lang = t.cfg.Language
	}

	resp, err := client.Recognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            t.cfg.SampleRateHz,
			LanguageCode:               lang,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
		},
		Audio: audio,
	})
	if err != nil {
		return nil, fmt.Errorf("google speech recognition failed: %w", err)
	}

	transcript := fromResponse(resp, lang)
	t.logger.Debug("google speech recognition finished", "segments", len(transcript.Segments), "language", transcript.Language)
	return transcript, nil
}

// audioSource はインラインか gs:// URI の音声を返します
// cleanup は GCS に置いた一時オブジェクトを消す
func (t *Transcriber) audioSource(ctx context.Context, path string) (*speechpb.RecognitionAudio, func(), error) {
	noop := func() {}

	info, err := os.Stat(path)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to read audio: %w", err)
	}
	if info.Size() <= InlineLimitBytes {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to read audio: %w", err)
		}
		return &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: data}}, noop, nil
	}

	if t.stager == nil {
		return nil, noop, fmt.Errorf("%w: %d bytes exceeds the %d byte inline limit and no gs:// bucket is configured",
			transcription.ErrAudioTooLarge, info.Size(), InlineLimitBytes)
	}

	key := stagingPrefix + filepath.Base(path)
	uri, _ := t.stager.NativeURI(key)

	f, err := os.Open(path)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to read audio: %w", err)
	}
	defer f.Close()
	if _, err := t.stager.Upload(ctx, key, f, contentTypeFor(path)); err != nil {
		return nil, noop, fmt.Errorf("failed to stage audio: %w", err)
	}
	t.logger.Debug("audio staged for recognition", "uri", uri, "bytes", info.Size())

	cleanup := func() {
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := t.stager.Delete(delCtx, key); err != nil {
			t.logger.Warn("failed to delete staged audio", "uri", uri, "error", err)
		}
	}
	return &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri}}, cleanup, nil
}

// encodingFor は拡張子から RecognitionConfig の符号化方式を決めます
func encodingFor(path string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case ".flac":
		return speechpb.RecognitionConfig_FLAC, nil
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
			fmt.Errorf("%w: %s", transcription.ErrUnsupportedAudio, filepath.Base(path))
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	default:
		return "audio/ogg"
	}
}

// Close はクライアントを閉じます
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *Transcriber) credentialsFile() string {
	if t.cfg.CredentialsFile != "" {
		return t.cfg.CredentialsFile
	}
	return os.Getenv(credentialsEnvVar)
}

func (t *Transcriber) getClient(ctx context.Context) (recognizer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	c, err := t.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	t.client = c
	return c, nil
}

func (t *Transcriber) dialSpeech(ctx context.Context) (recognizer, error) {
	var opts []option.ClientOption
	if t.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(t.cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &speechClient{client: c}, nil
}

type speechClient struct {
	client *speech.Client
}

func (s *speechClient) Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	op, err := s.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (s *speechClient) Close() error {
	return s.client.Close()
}

// fromResponse は認識結果を区間列に変換します
// 結果1件を1区間とし、開始は先頭単語の時刻 (なければ直前の区間の終了)
func fromResponse(resp *speechpb.LongRunningRecognizeResponse, fallbackLang string) *transcription.Transcript {
	out := &transcription.Transcript{
		Language: fallbackLang,
		Segments: []transcription.TimedSegment{},
	}
	if resp == nil {
		return out
	}

	var texts []string
	prevEnd := 0.0
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}

		start := prevEnd
		if words := alt.GetWords(); len(words) > 0 && words[0].GetStartTime() != nil {
			start = words[0].GetStartTime().AsDuration().Seconds()
		}
		end := start
		if r.GetResultEndTime() != nil {
			end = r.GetResultEndTime().AsDuration().Seconds()
		}

		seg := transcription.TimedSegment{Start: start, End: end, Text: text}
		// 0 は信頼度が付与されていないことを示す
		if c := float64(alt.GetConfidence()); c > 0 {
			seg.Confidence = &c
		}
		out.Segments = append(out.Segments, seg)
		texts = append(texts, text)
		prevEnd = end

		if lc := r.GetLanguageCode(); lc != "" {
			out.Language = lc
		}
	}

	out.Text = strings.Join(texts, separatorFor(out.Language))
	out.Duration = prevEnd
	return out
}

// separatorFor は区間テキストを連結する区切りを返します
func separatorFor(lang string) string {
	lang = strings.ToLower(lang)
	if strings.HasPrefix(lang, "ja") || strings.HasPrefix(lang, "zh") {
		return ""
	}
	return " "
}

var _ transcription.Transcriber = (*Transcriber)(nil)
