package ffmpeg

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/interview-pipeline/internal/core/transcription"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type call struct {
	name        string
	args        []string
	hasDeadline bool
}

type fakeRunner struct {
	calls []call
	run   func(name string, args []string) (commandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	_, ok := ctx.Deadline()
	f.calls = append(f.calls, call{name: name, args: args, hasDeadline: ok})
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(name, args)
}

func newTestTool(r *fakeRunner) *Tool {
	return New(Config{FFmpegPath: "/usr/bin/ffmpeg", FFprobePath: "/usr/bin/ffprobe", CommandTimeout: time.Minute, ProbeTimeout: 10 * time.Second},
		withRunner(r), WithLogger(testLogger))
}

func TestProbe_ParsesDuration(t *testing.T) {
	r := &fakeRunner{run: func(string, []string) (commandResult, error) {
		return commandResult{Stdout: `{"format":{"filename":"a.webm","duration":"12.480000"}}`}, nil
	}}
	tool := newTestTool(r)

	d, err := tool.Probe(context.Background(), "/tmp/a.webm")

	require.NoError(t, err)
	assert.InDelta(t, 12.48, d, 1e-9)
	require.Len(t, r.calls, 1)
	assert.Equal(t, "/usr/bin/ffprobe", r.calls[0].name)
	assert.Equal(t, "/tmp/a.webm", r.calls[0].args[len(r.calls[0].args)-1])
	assert.True(t, r.calls[0].hasDeadline)
}

func TestProbe_MissingDuration(t *testing.T) {
	for _, out := range []string{`{"format":{}}`, `{"format":{"duration":"N/A"}}`, `not json`, `{"format":{"duration":"-1"}}`} {
		r := &fakeRunner{run: func(string, []string) (commandResult, error) {
			return commandResult{Stdout: out}, nil
		}}

		_, err := newTestTool(r).Probe(context.Background(), "a.webm")

		assert.Error(t, err, out)
	}
}

func TestConcat_WritesListAndStreamCopies(t *testing.T) {
	// Setup
	dir := t.TempDir()
	output := filepath.Join(dir, "task_merged.webm")
	var list string
	r := &fakeRunner{run: func(_ string, args []string) (commandResult, error) {
		for i, a := range args {
			if a == "-i" {
				data, err := os.ReadFile(args[i+1])
				require.NoError(t, err)
				list = string(data)
			}
		}
		return commandResult{}, os.WriteFile(args[len(args)-1], []byte("merged"), 0o600)
	}}

	// Execute
	err := newTestTool(r).Concat(context.Background(), []string{filepath.Join(dir, "a.webm"), filepath.Join(dir, "it's.webm")}, output)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "file '"+filepath.Join(dir, "a.webm")+"'\nfile '"+filepath.Join(dir, `it'\''s.webm`)+"'\n", list)
	args := r.calls[0].args
	assert.Contains(t, args, "concat")
	assert.Equal(t, []string{"-c", "copy", output}, args[len(args)-3:])
	_, err = os.Stat(output + ".txt")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestConcat_FailureReturnsCommandError(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.webm")
	r := &fakeRunner{run: func(_ string, args []string) (commandResult, error) {
		_ = os.WriteFile(args[len(args)-1], []byte("partial"), 0o600)
		return commandResult{ExitCode: 1, Stderr: "frame=1\n[concat] Invalid data found when processing input\n"}, errors.New("exit status 1")
	}}

	err := newTestTool(r).Concat(context.Background(), []string{"a.webm", "b.webm"}, output)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "concat", cmdErr.Op)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Equal(t, "concat failed (exit 1): [concat] Invalid data found when processing input", err.Error())
	_, statErr := os.Stat(output)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestConcat_NoInputs(t *testing.T) {
	assert.Error(t, newTestTool(&fakeRunner{}).Concat(context.Background(), nil, "out.webm"))
}

func TestExtractAudio_Args(t *testing.T) {
	tests := []struct {
		name   string
		format transcription.AudioFormat
		output string
		codec  []string
	}{
		{
			name:   "Opus (Ogg)",
			format: transcription.AudioOggOpus,
			output: "out.ogg",
			codec:  []string{"-c:a", "libopus", "-b:a", "32k", "-application", "voip", "-f", "ogg"},
		},
		{
			name:   "FLAC",
			format: transcription.AudioFLAC,
			output: "out.flac",
			codec:  []string{"-c:a", "flac", "-f", "flac"},
		},
		{
			name:   "WAV",
			format: transcription.AudioWAV,
			output: "out.wav",
			codec:  []string{"-c:a", "pcm_s16le", "-f", "wav"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}

			require.NoError(t, newTestTool(r).ExtractAudio(context.Background(), "in.webm", tt.output, tt.format))

			want := append([]string{"-hide_banner", "-y", "-i", "in.webm", "-vn", "-ac", "1", "-ar", "16000"}, tt.codec...)
			want = append(want, tt.output)
			assert.Equal(t, "/usr/bin/ffmpeg", r.calls[0].name)
			assert.Equal(t, want, r.calls[0].args)
		})
	}
}

func TestRun_ContextCancellationIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRunner{run: func(string, []string) (commandResult, error) {
		return commandResult{ExitCode: -1}, errors.New("signal: killed")
	}}

	err := newTestTool(r).ExtractAudio(ctx, "in.webm", "out.ogg", transcription.AudioOggOpus)

	assert.ErrorIs(t, err, context.Canceled)
}
