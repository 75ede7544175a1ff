// Package ffmpeg は ffmpeg / ffprobe を呼び出すメディアツールを提供します
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jinford/interview-pipeline/internal/core/transcription"
	"github.com/jinford/interview-pipeline/internal/platform/metrics"
)

const (
	opProbe   = "probe"
	opConcat  = "concat"
	opExtract = "extract_audio"
)

// Config はメディアツールの設定
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// CommandTimeout は結合と音声抽出の上限
	CommandTimeout time.Duration
	ProbeTimeout   time.Duration
}

// Tool は merge.MediaTool と transcription.AudioExtractor を実装します
type Tool struct {
	cfg     Config
	runner  commandRunner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type toolOptions struct {
	runner  commandRunner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option は Tool のオプション設定
type Option func(*toolOptions)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(o *toolOptions) {
		o.logger = logger
	}
}

// WithMetrics はメトリクスを設定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *toolOptions) {
		o.metrics = m
	}
}

func withRunner(r commandRunner) Option {
	return func(o *toolOptions) {
		o.runner = r
	}
}

// New は新しい Tool を作成する
func New(cfg Config, opts ...Option) *Tool {
	options := toolOptions{
		runner: &execRunner{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &Tool{cfg: cfg, runner: options.runner, metrics: options.metrics, logger: options.logger}
}

// Probe はコンテナの再生時間 (秒) を返します
func (t *Tool) Probe(ctx context.Context, path string) (float64, error) {
	args := []string{"-v", "error", "-print_format", "json", "-show_format", path}
	res, err := t.run(ctx, opProbe, t.cfg.ProbeTimeout, t.cfg.FFprobePath, args)
	if err != nil {
		return 0, err
	}
	return parseProbeDuration(res.Stdout)
}

// Concat は入力を並び順のまま再エンコードなしで連結します
func (t *Tool) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("no inputs to concatenate")
	}

	listPath := output + ".txt"
	if err := os.WriteFile(listPath, []byte(concatList(inputs)), 0o600); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{"-hide_banner", "-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", output}
	if _, err := t.run(ctx, opConcat, t.cfg.CommandTimeout, t.cfg.FFmpegPath, args); err != nil {
		_ = os.Remove(output)
		return err
	}
	return nil
}

// ExtractAudio は 16kHz モノラルの音声を format で書き出します
func (t *Tool) ExtractAudio(ctx context.Context, input, output string, format transcription.AudioFormat) error {
	args := []string{"-hide_banner", "-y", "-i", input, "-vn", "-ac", "1", "-ar", "16000"}
	args = append(args, audioCodecArgs(format)...)
	args = append(args, output)
	if _, err := t.run(ctx, opExtract, t.cfg.CommandTimeout, t.cfg.FFmpegPath, args); err != nil {
		_ = os.Remove(output)
		return err
	}
	return nil
}

// audioCodecArgs は出力形式ごとのエンコーダ指定を返します
// Opus は音声向けの voip モードで 32kbps に固定する
func audioCodecArgs(format transcription.AudioFormat) []string {
	switch format {
	case transcription.AudioFLAC:
		return []string{"-c:a", "flac", "-f", "flac"}
	case transcription.AudioWAV:
		return []string{"-c:a", "pcm_s16le", "-f", "wav"}
	default:
		return []string{"-c:a", "libopus", "-b:a", "32k", "-application", "voip", "-f", "ogg"}
	}
}

func (t *Tool) run(ctx context.Context, op string, timeout time.Duration, name string, args []string) (commandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := t.runner.Run(ctx, name, args...)
	elapsed := time.Since(start)
	t.metrics.RecordMediaCommand(op, elapsed, err)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		t.logger.Debug("media command failed", "op", op, "elapsed", elapsed, "stderr", lastLine(res.Stderr))
		return res, &CommandError{Op: op, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	t.logger.Debug("media command finished", "op", op, "elapsed", elapsed)
	return res, nil
}

// concatList は concat demuxer 用のリストを作ります
func concatList(inputs []string) string {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			abs = in
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

func parseProbeDuration(out string) (float64, error) {
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if probe.Format.Duration == "" || probe.Format.Duration == "N/A" {
		return 0, errors.New("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", probe.Format.Duration, err)
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0, fmt.Errorf("invalid duration %q", probe.Format.Duration)
	}
	return d, nil
}
