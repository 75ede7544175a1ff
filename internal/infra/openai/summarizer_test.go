package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "  - 志望動機: 開発体験の改善  "}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

type chatRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestSummarizer(t *testing.T, url string, opts ...SummarizerOption) *Summarizer {
	t.Helper()
	base := []SummarizerOption{
		WithBaseURL(url + "/v1/"),
		WithTokenCounter(NewEstimatingTokenCounter()),
		WithLogger(testLogger),
		withBaseBackoff(time.Millisecond),
	}
	s, err := NewSummarizer("sk-test", append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func TestNewSummarizer_RequiresAPIKey(t *testing.T) {
	_, err := NewSummarizer("  ")

	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestSummarize_SendsPromptAndTrimsResult(t *testing.T) {
	// Setup
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()
	s := newTestSummarizer(t, srv.URL, WithModel("gpt-4o"), WithTokenLimits(0, 123))

	// Execute
	summary, err := s.Summarize(context.Background(), "面接官: 志望動機は? 候補者: 開発体験を改善したいです。")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "- 志望動機: 開発体験の改善", summary)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 123, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Contains(t, got.Messages[1].Content, "開発体験")
}

func TestSummarize_TruncatesLongTranscript(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()
	s := newTestSummarizer(t, srv.URL, WithTokenLimits(10, 0))

	_, err := s.Summarize(context.Background(), strings.Repeat("あ", 100))

	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, strings.Repeat("あ", 30), got.Messages[1].Content)
}

func TestSummarize_RetriesOnRateLimit(t *testing.T) {
	// Setup
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()
	s := newTestSummarizer(t, srv.URL)

	// Execute
	summary, err := s.Summarize(context.Background(), "transcript")

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, summary)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSummarize_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()
	s := newTestSummarizer(t, srv.URL)

	_, err := s.Summarize(context.Background(), "transcript")

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, int32(MaxRetries+1), calls.Load())
}

func TestSummarize_DoesNotRetryOtherErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()
	s := newTestSummarizer(t, srv.URL)

	_, err := s.Summarize(context.Background(), "transcript")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSummarize_EmptyTranscript(t *testing.T) {
	s := newTestSummarizer(t, "http://127.0.0.1:0")

	_, err := s.Summarize(context.Background(), " \n ")

	assert.Error(t, err)
}

func TestTokenCounter_EstimateAndTruncate(t *testing.T) {
	tc := NewEstimatingTokenCounter()

	assert.Equal(t, 3, tc.CountTokens("abcdefghi"))

	out, truncated := tc.Truncate("abcdefghij", 2)
	assert.True(t, truncated)
	assert.Equal(t, "abcdef", out)

	out, truncated = tc.Truncate("abc", 2)
	assert.False(t, truncated)
	assert.Equal(t, "abc", out)

	out, truncated = tc.Truncate("abcdefghij", 0)
	assert.False(t, truncated)
	assert.Equal(t, "abcdefghij", out)
}
