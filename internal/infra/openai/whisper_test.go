package openai

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/interview-pipeline/internal/core/transcription"
)

const verboseBody = `{
  "task": "transcribe",
  "language": "japanese",
  "duration": 12.5,
  "text": " こんにちは。よろしくお願いします。 ",
  "segments": [
    {"id": 0, "seek": 0, "start": 0.0, "end": 4.2, "text": " こんにちは。", "tokens": [1], "temperature": 0, "avg_logprob": -0.1, "compression_ratio": 1.0, "no_speech_prob": 0.01, "transient": false},
    {"id": 1, "seek": 0, "start": 4.2, "end": 12.5, "text": " よろしくお願いします。", "tokens": [2], "temperature": 0, "avg_logprob": 0.3, "compression_ratio": 1.0, "no_speech_prob": 0.01, "transient": false}
  ]
}`

func TestWhisperTranscriber_CheckCredentials(t *testing.T) {
	assert.ErrorIs(t, NewWhisperTranscriber("").CheckCredentials(), ErrAPIKeyNotSet)
	assert.NoError(t, NewWhisperTranscriber("sk-test").CheckCredentials())
	assert.Equal(t, "openai", NewWhisperTranscriber("").Name())
}

func TestWhisperTranscriber_AudioRequirements(t *testing.T) {
	reqs := NewWhisperTranscriber("sk-test").AudioRequirements()

	assert.Equal(t, transcription.AudioOggOpus, reqs.Format)
	assert.Equal(t, int64(25*1024*1024), reqs.MaxBytes)
	assert.True(t, reqs.AcceptsVideo)
}

func TestWhisperTranscriber_MapsVerboseSegments(t *testing.T) {
	// Setup
	audio := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o600))

	var model, format string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		model = r.FormValue("model")
		format = r.FormValue("response_format")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseBody))
	}))
	defer srv.Close()
	w := NewWhisperTranscriber("sk-test", WithWhisperBaseURL(srv.URL+"/v1"))

	// Execute
	got, err := w.Transcribe(context.Background(), transcription.TranscribeRequest{FilePath: audio, Language: "ja"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "whisper-1", model)
	assert.Equal(t, "verbose_json", format)
	assert.Equal(t, "こんにちは。よろしくお願いします。", got.Text)
	assert.Equal(t, "japanese", got.Language)
	assert.InDelta(t, 12.5, got.Duration, 1e-9)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, "こんにちは。", got.Segments[0].Text)
	assert.InDelta(t, 4.2, got.Segments[0].End, 1e-9)
	require.NotNil(t, got.Segments[0].Confidence)
	assert.InDelta(t, math.Exp(-0.1), *got.Segments[0].Confidence, 1e-9)
	require.NotNil(t, got.Segments[1].Confidence)
	assert.Equal(t, 1.0, *got.Segments[1].Confidence)
}

func TestWhisperTranscriber_APIError(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o600))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()
	w := NewWhisperTranscriber("sk-bad", WithWhisperBaseURL(srv.URL+"/v1"))

	_, err := w.Transcribe(context.Background(), transcription.TranscribeRequest{FilePath: audio})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "whisper transcription failed")
}

func TestLogprobToConfidence(t *testing.T) {
	assert.InDelta(t, 1.0, logprobToConfidence(0), 1e-9)
	assert.Equal(t, 1.0, logprobToConfidence(2))
	assert.Equal(t, 0.0, logprobToConfidence(math.NaN()))
	assert.InDelta(t, 0.0, logprobToConfidence(-100), 1e-9)
}
