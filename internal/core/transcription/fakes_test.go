package transcription

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinford/interview-pipeline/internal/core/interview"
	"github.com/samber/mo"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

type stubJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	now  func() time.Time
	seq  int

	// interviews は CreateIfNoLive で同一トランザクション内に更新される面接行
	interviews *stubInterviewStore
	claimCalls int
	failWrites error
}

func newStubJobRepo(now func() time.Time, interviews *stubInterviewStore) *stubJobRepo {
	return &stubJobRepo{jobs: make(map[uuid.UUID]*Job), now: now, interviews: interviews}
}

func (r *stubJobRepo) put(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if j.CreatedAt.IsZero() {
		j.CreatedAt = r.now().Add(time.Duration(r.seq) * time.Millisecond)
	}
	r.jobs[j.ID] = cloneJob(j)
}

func (r *stubJobRepo) get(id uuid.UUID) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneJob(r.jobs[id])
}

func (r *stubJobRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *stubJobRepo) FindByID(_ context.Context, id uuid.UUID) (mo.Option[*Job], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return mo.None[*Job](), nil
	}
	return mo.Some(cloneJob(j)), nil
}

func (r *stubJobRepo) FindLatestBySession(_ context.Context, sessionID string) (mo.Option[*Job], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := r.latestLocked(sessionID, func(*Job) bool { return true })
	if latest == nil {
		return mo.None[*Job](), nil
	}
	return mo.Some(cloneJob(latest)), nil
}

func (r *stubJobRepo) latestLocked(sessionID string, match func(*Job) bool) *Job {
	var candidates []*Job
	for _, j := range r.jobs {
		if j.SessionID == sessionID && match(j) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].CreatedAt.After(candidates[b].CreatedAt) })
	return candidates[0]
}

func (r *stubJobRepo) CreateIfNoLive(_ context.Context, sessionID, jobID, videoURL string) (*Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if live := r.latestLocked(sessionID, func(j *Job) bool { return j.Status.IsLive() }); live != nil {
		return cloneJob(live), false, nil
	}
	r.seq++
	j := &Job{
		ID:        uuid.New(),
		JobID:     jobID,
		SessionID: sessionID,
		Status:    StatusPending,
		VideoURL:  videoURL,
		CreatedAt: r.now().Add(time.Duration(r.seq) * time.Millisecond),
	}
	r.jobs[j.ID] = j
	if r.interviews != nil {
		_ = r.interviews.SetTranscriptionState(context.Background(), sessionID, jobID, interview.TranscriptionPending)
	}
	return cloneJob(j), true, nil
}

func (r *stubJobRepo) ListRecoverable(_ context.Context, staleBefore time.Time) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Job
	for _, j := range r.jobs {
		if j.Status == StatusPending || (j.Status == StatusProcessing && lastBeat(j).Before(staleBefore)) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

func (r *stubJobRepo) ResetStuck(_ context.Context, id uuid.UUID, staleBefore time.Time, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != StatusProcessing || !lastBeat(j).Before(staleBefore) {
		return false, nil
	}
	j.Status = StatusPending
	j.ErrorMessage = &message
	return true, nil
}

func (r *stubJobRepo) Claim(_ context.Context, id uuid.UUID) (mo.Option[*Job], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimCalls++
	j, ok := r.jobs[id]
	if !ok || j.Status != StatusPending {
		return mo.None[*Job](), nil
	}
	now := r.now()
	j.Status = StatusProcessing
	j.StartedAt = &now
	j.HeartbeatAt = &now
	return mo.Some(cloneJob(j)), nil
}

func (r *stubJobRepo) Heartbeat(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || !owns(j, startedAt) {
		return false, nil
	}
	now := r.now()
	j.HeartbeatAt = &now
	return true, nil
}

func (r *stubJobRepo) Complete(_ context.Context, id uuid.UUID, startedAt time.Time, result ResultMetadata) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites != nil {
		return nil, r.failWrites
	}
	j, ok := r.jobs[id]
	if !ok || !owns(j, startedAt) {
		return nil, errors.New("lease lost")
	}
	now := r.now()
	j.Status = StatusCompleted
	j.ResultMetadata = &result
	j.ErrorMessage = nil
	j.CompletedAt = &now
	return cloneJob(j), nil
}

func (r *stubJobRepo) Fail(_ context.Context, id uuid.UUID, startedAt time.Time, message string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || !owns(j, startedAt) {
		return nil, errors.New("lease lost")
	}
	now := r.now()
	j.Status = StatusFailed
	j.ErrorMessage = &message
	j.CompletedAt = &now
	return cloneJob(j), nil
}

func (r *stubJobRepo) Requeue(_ context.Context, id uuid.UUID) (mo.Option[*Job], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status.IsLive() {
		return mo.None[*Job](), nil
	}
	if live := r.latestLocked(j.SessionID, func(o *Job) bool { return o.Status.IsLive() }); live != nil {
		return mo.None[*Job](), nil
	}
	j.Status = StatusPending
	j.ErrorMessage = nil
	j.ResultMetadata = nil
	j.StartedAt = nil
	j.HeartbeatAt = nil
	j.CompletedAt = nil
	return mo.Some(cloneJob(j)), nil
}

func owns(j *Job, startedAt time.Time) bool {
	return j.Status == StatusProcessing && j.StartedAt != nil && j.StartedAt.Equal(startedAt)
}

func lastBeat(j *Job) time.Time {
	if j.HeartbeatAt != nil {
		return *j.HeartbeatAt
	}
	if j.StartedAt != nil {
		return *j.StartedAt
	}
	return time.Time{}
}

func cloneJob(j *Job) *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// stubInterviewStore は複数の面接行を持つインメモリ実装
type stubInterviewStore struct {
	mu       sync.Mutex
	rows     map[string]*interview.Record
	applyErr error
}

func newStubInterviewStore() *stubInterviewStore {
	return &stubInterviewStore{rows: make(map[string]*interview.Record)}
}

func (s *stubInterviewStore) add(sessionID string, videoURL *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[sessionID] = &interview.Record{SessionID: sessionID, Status: interview.StatusCompleted, VideoURL: videoURL}
}

func (s *stubInterviewStore) row(sessionID string) *interview.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[sessionID]
	if !ok {
		return nil
	}
	c := *r
	return &c
}

func (s *stubInterviewStore) FindBySession(_ context.Context, sessionID string) (mo.Option[*interview.Record], error) {
	r := s.row(sessionID)
	if r == nil {
		return mo.None[*interview.Record](), nil
	}
	return mo.Some(r), nil
}

func (s *stubInterviewStore) SetTranscriptionState(_ context.Context, sessionID, jobID string, status interview.TranscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[sessionID]
	if !ok {
		return interview.ErrNotFound
	}
	st := status
	id := jobID
	r.TranscriptionStatus = &st
	r.TranscriptionJobID = &id
	return nil
}

func (s *stubInterviewStore) ApplyTranscription(_ context.Context, sessionID string, update interview.TranscriptionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	r, ok := s.rows[sessionID]
	if !ok {
		return interview.ErrNotFound
	}
	st := interview.TranscriptionCompleted
	text := update.Text
	id := update.JobID
	r.TranscriptionStatus = &st
	r.TranscriptionJobID = &id
	r.TranscriptionText = &text
	r.TranscriptionMetadata = update.Metadata
	if update.Summary != nil {
		r.AISummary = update.Summary
	}
	return nil
}

func (s *stubInterviewStore) MarkTranscriptionFailedByJob(_ context.Context, jobID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.TranscriptionJobID != nil && *r.TranscriptionJobID == jobID {
			st := interview.TranscriptionFailed
			r.TranscriptionStatus = &st
			n++
		}
	}
	return n, nil
}

type stubDownloader struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
}

func (d *stubDownloader) Download(_ context.Context, url string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	data, ok := d.objects[url]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type stubTranscriber struct {
	mu        sync.Mutex
	credErr   error
	err       error
	result    *Transcript
	calls     int
	gotInput  string
	gotBytes  []byte
	gotDeadln bool
	block     bool
	reqs      AudioRequirements
}

func (t *stubTranscriber) Name() string { return "stub" }

func (t *stubTranscriber) CheckCredentials() error { return t.credErr }

func (t *stubTranscriber) AudioRequirements() AudioRequirements { return t.reqs }

func (t *stubTranscriber) Transcribe(ctx context.Context, req TranscribeRequest) (*Transcript, error) {
	t.mu.Lock()
	t.calls++
	t.gotInput = req.FilePath
	t.gotBytes, _ = os.ReadFile(req.FilePath)
	_, t.gotDeadln = ctx.Deadline()
	block := t.block
	t.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.result, nil
}

type stubExtractor struct {
	err       error
	calls     int
	gotFormat AudioFormat
	gotOutput string
	padding   int
}

func (e *stubExtractor) ExtractAudio(_ context.Context, input, output string, format AudioFormat) error {
	e.calls++
	e.gotFormat = format
	e.gotOutput = output
	if e.err != nil {
		return e.err
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	out := append([]byte("audio:"), data...)
	out = append(out, bytes.Repeat([]byte{0}, e.padding)...)
	return os.WriteFile(output, out, 0o600)
}

type stubSummarizer struct {
	summary string
	err     error
	got     string
}

func (s *stubSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	s.got = transcript
	return s.summary, s.err
}

type queueScheduler struct {
	mu   sync.Mutex
	jobs []func(context.Context)
}

func (q *queueScheduler) Submit(_ string, job func(context.Context)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queueScheduler) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
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
