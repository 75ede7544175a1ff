package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_FetchOrdersBySequenceAndProbes(t *testing.T) {
	// Setup
	storage := newStubStorage()
	media := newStubMedia()
	dir := t.TempDir()
	taskID := uuid.New()

	segs := []Segment{
		{URL: "https://cdn.example.com/b.mp4?sig=abc", SequenceNumber: 2, Duration: 20},
		{URL: "https://cdn.example.com/a.mp4", SequenceNumber: 1, Duration: 10},
	}
	storage.objects[segs[0].URL] = []byte("bbbb")
	storage.objects[segs[1].URL] = []byte("aa")
	media.durations["_seg_001.mp4"] = 9.5

	fetcher := NewFetcher(storage, media, nil, testLogger)

	// Execute
	fetched, err := fetcher.Fetch(context.Background(), taskID, dir, segs)

	// Assert
	require.NoError(t, err)
	require.Len(t, fetched, 2)
	assert.Equal(t, 1, fetched[0].Segment.SequenceNumber)
	assert.Equal(t, 9.5, fetched[0].Duration)
	assert.True(t, fetched[0].Measured)
	assert.Equal(t, int64(2), fetched[0].Size)
	assert.Equal(t, filepath.Join(dir, taskID.String()+"_seg_002.mp4"), fetched[1].Path)
	assert.Equal(t, 20.0, fetched[1].Duration)
	assert.False(t, fetched[1].Measured)

	data, err := os.ReadFile(fetched[1].Path)
	require.NoError(t, err)
	assert.Equal(t, "bbbb", string(data))
}

func TestFetcher_FailureRemovesPartialFiles(t *testing.T) {
	storage := newStubStorage()
	dir := t.TempDir()
	segs := []Segment{
		{URL: "https://cdn.example.com/1.webm", SequenceNumber: 1},
		{URL: "https://cdn.example.com/2.webm", SequenceNumber: 2},
	}
	storage.objects[segs[0].URL] = []byte("x")

	fetcher := NewFetcher(storage, newStubMedia(), nil, testLogger)
	fetched, err := fetcher.Fetch(context.Background(), uuid.New(), dir, segs)

	require.Error(t, err)
	assert.Nil(t, fetched)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetcher_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := NewFetcher(newStubStorage(), newStubMedia(), nil, testLogger)
	_, err := fetcher.Fetch(ctx, uuid.New(), t.TempDir(), []Segment{{URL: "u", SequenceNumber: 1}})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSegmentExt(t *testing.T) {
	assert.Equal(t, ".webm", Segment{URL: "https://x/y/clip"}.Ext())
	assert.Equal(t, ".mp4", Segment{URL: "https://x/y/clip.MP4?token=1"}.Ext())
	assert.Equal(t, ".webm", Segment{URL: "https://x/y/clip.webm#t=1"}.Ext())
}
