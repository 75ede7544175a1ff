package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/jinford/interview-pipeline/internal/interface/httpapi"
	"github.com/jinford/interview-pipeline/internal/platform/container"
)

// ServerStartAction はワーカープール、復旧ループ、HTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	c := appCtx.Container
	cfg := appCtx.Config
	logger := appCtx.Logger()

	// ジョブはシグナル受信後も Shutdown の猶予内で実行を続ける
	c.Pool.Start(context.WithoutCancel(ctx))

	recoveryCtx, stopRecovery := context.WithCancel(ctx)
	defer stopRecovery()
	recoveryDone := make(chan struct{})
	go func() {
		defer close(recoveryDone)
		runRecoveryLoop(recoveryCtx, c, cfg.Pipeline.RecoveryInterval)
	}()

	port := cfg.Server.Port
	if cmd.IsSet("port") {
		port = int(cmd.Int("port"))
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Merge:         c.Merge,
		Transcription: c.Transcription,
		Objects:       c.Storage,
		Metrics:       promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}),
		Health: func(ctx context.Context) error {
			return c.Database().Pool.Ping(ctx)
		},
		Logger: logger,
	})
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTPサーバを起動します", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("シャットダウンを開始します")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTPサーバが停止しました", "error", err)
			runErr = fmt.Errorf("HTTPサーバの起動に失敗: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	shutdown(shutdownCtx, srv, stopRecovery, recoveryDone, c.Pool, logger)
	return runErr
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown は HTTPサーバ、復旧ループ、ワーカープールの順に停止する
func shutdown(ctx context.Context, srv shutdowner, stopRecovery context.CancelFunc, recoveryDone <-chan struct{}, pool shutdowner, logger *slog.Logger) {
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTPサーバの停止に失敗", "error", err)
	}
	stopRecovery()
	<-recoveryDone
	// 猶予内に終わらなかったジョブは processing のまま残り、次回起動時の復旧で再実行される
	if err := pool.Shutdown(ctx); err != nil {
		logger.Warn("ワーカープールの停止がタイムアウトしました", "error", err)
	}
	logger.Info("シャットダウンが完了しました")
}

// runRecoveryLoop は起動直後と interval ごとに取り残しを再投入する
func runRecoveryLoop(ctx context.Context, c *container.ServiceContainer, interval time.Duration) {
	recoverOnce := func() {
		if err := c.Recover(ctx); err != nil && ctx.Err() == nil {
			c.Logger().Error("復旧処理に失敗", "error", err)
		}
	}

	recoverOnce()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recoverOnce()
		}
	}
}
