package merge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/interview-pipeline/internal/core/event"
	"github.com/jinford/interview-pipeline/internal/core/interview"
	"github.com/samber/mo"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

// stubRepo はDBの条件付き更新と同じ意味論を持つインメモリ実装
type stubRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	now   func() time.Time

	claimCalls int
	lostLease  bool
	failWrites error
}

func newStubRepo(now func() time.Time) *stubRepo {
	return &stubRepo{tasks: make(map[uuid.UUID]*Task), now: now}
}

func (r *stubRepo) put(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = cloneTask(t)
}

func (r *stubRepo) get(id uuid.UUID) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneTask(r.tasks[id])
}

func (r *stubRepo) Create(_ context.Context, sessionID string, segments []Segment) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	t := &Task{ID: uuid.New(), SessionID: sessionID, Status: StatusPending, Segments: segments, CreatedAt: now, UpdatedAt: now}
	r.tasks[t.ID] = t
	return cloneTask(t), nil
}

func (r *stubRepo) FindByID(_ context.Context, id uuid.UUID) (mo.Option[*Task], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return mo.None[*Task](), nil
	}
	return mo.Some(cloneTask(t)), nil
}

func (r *stubRepo) ListBySession(_ context.Context, sessionID string) ([]*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Task
	for _, t := range r.tasks {
		if t.SessionID == sessionID {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *stubRepo) ListRecoverable(_ context.Context, staleBefore time.Time) ([]*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Task
	for _, t := range r.tasks {
		if t.Status == StatusPending || (t.Status == StatusProcessing && lastBeat(t).Before(staleBefore)) {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (r *stubRepo) ResetStuck(_ context.Context, id uuid.UUID, staleBefore time.Time, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != StatusProcessing || !lastBeat(t).Before(staleBefore) {
		return false, nil
	}
	t.Status = StatusPending
	t.ErrorMessage = &message
	t.HeartbeatAt = nil
	return true, nil
}

func (r *stubRepo) Claim(_ context.Context, id uuid.UUID) (mo.Option[*Task], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimCalls++
	t, ok := r.tasks[id]
	if !ok || t.Status != StatusPending {
		return mo.None[*Task](), nil
	}
	now := r.now()
	t.Status = StatusProcessing
	t.StartedAt = &now
	t.HeartbeatAt = &now
	t.CompletedAt = nil
	return mo.Some(cloneTask(t)), nil
}

func (r *stubRepo) Heartbeat(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || r.lostLease || !r.owns(t, startedAt) {
		return false, nil
	}
	now := r.now()
	t.HeartbeatAt = &now
	return true, nil
}

func (r *stubRepo) Complete(_ context.Context, id uuid.UUID, startedAt time.Time, result CompletionResult) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites != nil {
		return nil, r.failWrites
	}
	t, ok := r.tasks[id]
	if !ok || !r.owns(t, startedAt) {
		return nil, errors.New("lease lost")
	}
	now := r.now()
	url := result.MergedVideoURL
	total := result.TotalDuration
	t.Status = StatusCompleted
	t.MergedVideoURL = &url
	t.TotalDuration = &total
	t.SegmentDurations = result.SegmentDurations
	t.ErrorMessage = nil
	t.CompletedAt = &now
	return cloneTask(t), nil
}

func (r *stubRepo) Fail(_ context.Context, id uuid.UUID, startedAt time.Time, message string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || !r.owns(t, startedAt) {
		return nil, errors.New("lease lost")
	}
	now := r.now()
	t.Status = StatusFailed
	t.ErrorMessage = &message
	t.CompletedAt = &now
	return cloneTask(t), nil
}

func (r *stubRepo) owns(t *Task, startedAt time.Time) bool {
	return t.Status == StatusProcessing && t.StartedAt != nil && t.StartedAt.Equal(startedAt)
}

func lastBeat(t *Task) time.Time {
	if t.HeartbeatAt != nil {
		return *t.HeartbeatAt
	}
	if t.StartedAt != nil {
		return *t.StartedAt
	}
	return time.Time{}
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Segments = append([]Segment(nil), t.Segments...)
	c.SegmentDurations = append([]float64(nil), t.SegmentDurations...)
	return &c
}

// stubStorage はURLをキーにしたインメモリのオブジェクトストレージ
type stubStorage struct {
	mu          sync.Mutex
	objects     map[string][]byte
	uploads     map[string][]byte
	contentType map[string]string
	failUpload  map[string]error
	downloads   []string
}

func newStubStorage() *stubStorage {
	return &stubStorage{
		objects:     make(map[string][]byte),
		uploads:     make(map[string][]byte),
		contentType: make(map[string]string),
		failUpload:  make(map[string]error),
	}
}

func (s *stubStorage) Download(_ context.Context, url string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, url)
	data, ok := s.objects[url]
	if !ok {
		return nil, errors.New("404 not found: " + url)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *stubStorage) Upload(_ context.Context, key string, r io.Reader, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for prefix, err := range s.failUpload {
		if strings.HasPrefix(key, prefix) {
			return "", err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.uploads[key] = data
	s.contentType[key] = contentType
	return "https://cdn.example.com/" + key, nil
}

func (s *stubStorage) uploadedWithPrefix(prefix string) (string, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.uploads {
		if strings.HasPrefix(k, prefix) {
			return k, v
		}
	}
	return "", nil
}

// stubMedia はファイル内容を連結するだけの MediaTool
type stubMedia struct {
	mu          sync.Mutex
	durations   map[string]float64 // basename の接尾辞 → 長さ
	probeErr    map[string]error
	concatErr   error
	concatCalls [][]string
	probed      []string
	onConcat    func(ctx context.Context) error
}

func newStubMedia() *stubMedia {
	return &stubMedia{durations: make(map[string]float64), probeErr: make(map[string]error)}
}

func (m *stubMedia) Probe(_ context.Context, path string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base := filepath.Base(path)
	m.probed = append(m.probed, base)
	for suffix, err := range m.probeErr {
		if strings.HasSuffix(base, suffix) {
			return 0, err
		}
	}
	for suffix, d := range m.durations {
		if strings.HasSuffix(base, suffix) {
			return d, nil
		}
	}
	return 0, errors.New("no duration")
}

func (m *stubMedia) Concat(ctx context.Context, inputs []string, output string) error {
	m.mu.Lock()
	m.concatCalls = append(m.concatCalls, append([]string(nil), inputs...))
	hook := m.onConcat
	err := m.concatErr
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return os.WriteFile(output, buf.Bytes(), 0o600)
}

type stubInterviews struct {
	mu      sync.Mutex
	missing bool
	err     error
	updates map[string]interview.MergeUpdate
}

func newStubInterviews() *stubInterviews {
	return &stubInterviews{updates: make(map[string]interview.MergeUpdate)}
}

func (s *stubInterviews) ApplyMerge(_ context.Context, sessionID string, update interview.MergeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.missing {
		return interview.ErrNotFound
	}
	s.updates[sessionID] = update
	return nil
}

type stubTrigger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (t *stubTrigger) Trigger(_ context.Context, sessionID, videoURL string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, sessionID+"|"+videoURL)
	return t.err
}

// queueScheduler は Submit されたジョブを溜めておき、明示的に実行する
type queueScheduler struct {
	mu   sync.Mutex
	jobs []func(context.Context)
	err  error
}

func (q *queueScheduler) Submit(_ string, job func(context.Context)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queueScheduler) drain(ctx context.Context) int {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	for _, job := range jobs {
		job(ctx)
	}
	return len(jobs)
}

type stubEvents struct {
	mu     sync.Mutex
	events []event.Event
}

func (e *stubEvents) Publish(_ context.Context, _ string, ev event.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

// fixedClock はテスト用の進められる時計
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
