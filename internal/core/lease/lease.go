// Package lease は processing 中のレコードのハートビート更新を扱います
package lease

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrLost は別のワーカーにレコードを奪われたことを示します
var ErrLost = errors.New("lease lost")

// BeatFunc はハートビートを1回更新します
// false はレコードがもはや自分の processing 状態ではないことを示します
type BeatFunc func(ctx context.Context) (bool, error)

// Keep は interval ごとに beat を呼び出すゴルーチンを起動します
// リースを失うと返されたコンテキストが ErrLost を原因としてキャンセルされます
// stop は必ず呼び出すこと
func Keep(ctx context.Context, interval time.Duration, beat BeatFunc, logger *slog.Logger) (context.Context, func()) {
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	if interval <= 0 {
		return runCtx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				ok, err := beat(runCtx)
				if err != nil {
					// 一時的なエラーでは処理を継続する
					logger.Warn("failed to renew heartbeat", "error", err)
					continue
				}
				if !ok {
					logger.Warn("lease lost, cancelling work")
					cancel(ErrLost)
					return
				}
			}
		}
	}()

	var once sync.Once
	return runCtx, func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			cancel(nil)
		})
	}
}

// Lost は ctx がリース喪失によってキャンセルされたかどうかを返します
func Lost(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrLost)
}

// IsStale は processing 中のレコードが閾値を超えて更新されていないかを判定します
// ハートビートが未記録の場合は開始時刻で判定します
func IsStale(heartbeatAt, startedAt *time.Time, now time.Time, threshold time.Duration) bool {
	last := heartbeatAt
	if last == nil {
		last = startedAt
	}
	if last == nil {
		return true
	}
	return now.Sub(*last) > threshold
}
