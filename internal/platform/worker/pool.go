// Package worker はバックグラウンド処理用の固定サイズのワーカープールを提供します
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	// ErrQueueFull はキューに空きがない
	ErrQueueFull = errors.New("worker queue is full")
	// ErrPoolClosed は Shutdown 後の Submit
	ErrPoolClosed = errors.New("worker pool is closed")
)

// DepthRecorder はキュー長の観測先 (metrics.Metrics が実装)
type DepthRecorder interface {
	SetQueueDepth(n int)
}

type item struct {
	name string
	job  func(ctx context.Context)
}

// Pool は有界キューと固定数のゴルーチンでジョブを実行します
type Pool struct {
	concurrency int
	queue       chan item
	logger      *slog.Logger
	depth       DepthRecorder

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
	started  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option は Pool の設定オプション
type Option func(*Pool)

// WithLogger はロガーを設定します
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithDepthRecorder はキュー長の記録先を設定します
func WithDepthRecorder(r DepthRecorder) Option {
	return func(p *Pool) {
		p.depth = r
	}
}

// New は新しい Pool を作成します
func New(concurrency, queueSize int, opts ...Option) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &Pool{
		concurrency: concurrency,
		queue:       make(chan item, queueSize),
		logger:      slog.Default(),
		inflight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start はワーカーを起動します。ctx がキャンセルされると実行中のジョブにも伝播します
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := range p.concurrency {
		p.wg.Add(1)
		go p.run(i + 1)
	}
	p.logger.Info("worker pool started", "concurrency", p.concurrency, "queueSize", cap(p.queue))
}

// Submit はジョブをキューに積みます。ブロックしません
// 同名のジョブがキュー待ちまたは実行中であれば何もしません
func (p *Pool) Submit(name string, job func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.inflight[name]; ok {
		p.logger.Debug("job already queued", "job", name)
		return nil
	}

	select {
	case p.queue <- item{name: name, job: job}:
		p.inflight[name] = struct{}{}
		p.recordDepth()
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

// Len はキュー待ちのジョブ数を返します
func (p *Pool) Len() int {
	return len(p.queue)
}

// Shutdown は新規受付を止め、キュー内のジョブを実行し終えるまで待ちます
// ctx が先に終了した場合は実行中のジョブのコンテキストをキャンセルします
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.queue)
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker pool shutdown interrupted: %w", ctx.Err())
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for it := range p.queue {
		p.recordDepth()
		p.execute(id, it)
	}
}

func (p *Pool) execute(id int, it item) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				"job", it.name,
				"worker", id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
		p.mu.Lock()
		delete(p.inflight, it.name)
		p.mu.Unlock()
	}()

	p.logger.Debug("job started", "job", it.name, "worker", id)
	it.job(p.ctx)
}

func (p *Pool) recordDepth() {
	if p.depth != nil {
		p.depth.SetQueueDepth(len(p.queue))
	}
}
