package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/interview-pipeline/internal/interface/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 設定読み込み前のログ出力用
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "interview-pipeline",
		Usage: "面接録画の結合と文字起こしを行う非同期パイプライン",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "APIサーバとワーカー",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバとワーカープールを起動",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.IntFlag{
								Name:  "port",
								Usage: "待ち受けポート（HTTP_PORT より優先）",
							},
						},
						Action: appcli.ServerStartAction,
					},
				},
			},
			{
				Name:  "migrate",
				Usage: "データベースマイグレーション",
				Commands: []*cli.Command{
					{
						Name:  "up",
						Usage: "未適用のマイグレーションを適用",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: appcli.MigrateUpAction,
					},
				},
			},
			{
				Name:  "merge",
				Usage: "動画結合タスク",
				Commands: []*cli.Command{
					{
						Name:  "enqueue",
						Usage: "マージタスクを登録",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "session",
								Usage:    "セッションID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "segments",
								Usage:    "セグメント一覧のJSONファイルパス",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "wait",
								Usage: "登録後にこのプロセスで実行して完了を待つ",
							},
						},
						Action: appcli.MergeEnqueueAction,
					},
					{
						Name:  "run",
						Usage: "マージタスクをこのプロセスで実行",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "タスクID",
								Required: true,
							},
						},
						Action: appcli.MergeRunAction,
					},
					{
						Name:  "show",
						Usage: "マージタスクの詳細を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "タスクID",
								Required: true,
							},
						},
						Action: appcli.MergeShowAction,
					},
					{
						Name:  "list",
						Usage: "セッションのマージタスク一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "session",
								Usage:    "セッションID",
								Required: true,
							},
						},
						Action: appcli.MergeListAction,
					},
				},
			},
			{
				Name:  "transcription",
				Usage: "文字起こしジョブ",
				Commands: []*cli.Command{
					{
						Name:  "enqueue",
						Usage: "文字起こしを登録",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "session",
								Usage:    "セッションID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "video-url",
								Usage:    "結合済み動画のURL",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "wait",
								Usage: "登録後にこのプロセスで実行して完了を待つ",
							},
						},
						Action: appcli.TranscriptionEnqueueAction,
					},
					{
						Name:  "retry",
						Usage: "文字起こしを手動で再実行",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "session",
								Usage:    "セッションID",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "wait",
								Usage: "このプロセスで実行して完了を待つ",
							},
						},
						Action: appcli.TranscriptionRetryAction,
					},
					{
						Name:  "status",
						Usage: "文字起こしの状態を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "session",
								Usage:    "セッションID",
								Required: true,
							},
						},
						Action: appcli.TranscriptionStatusAction,
					},
				},
			},
			{
				Name:  "segments",
				Usage: "ローカルセグメントストア",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "録画ファイルをセグメントとして登録",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "session",
								Usage:    "セッションID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "prompt",
								Usage:    "質問ID",
								Required: true,
							},
							&cli.IntFlag{
								Name:     "seq",
								Usage:    "質問の順番",
								Required: true,
							},
							&cli.FloatFlag{
								Name:  "duration",
								Usage: "録画時間（秒）",
							},
							&cli.StringFlag{
								Name:  "question",
								Usage: "質問文",
							},
							&cli.StringFlag{
								Name:  "category",
								Usage: "質問カテゴリ",
							},
							&cli.StringFlag{
								Name:     "file",
								Usage:    "録画ファイルパス",
								Required: true,
							},
						},
						Action: appcli.SegmentsAddAction,
					},
					{
						Name:  "list",
						Usage: "セッションのセグメント一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "session",
								Usage:    "セッションID",
								Required: true,
							},
						},
						Action: appcli.SegmentsListAction,
					},
					{
						Name:  "upload",
						Usage: "未転送のセグメントをストレージへアップロード",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "session",
								Usage:    "セッションID",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "enqueue",
								Usage: "アップロード後にマージタスクを登録",
							},
							&cli.BoolFlag{
								Name:  "clean",
								Usage: "登録後にローカルのセグメントを削除",
							},
						},
						Action: appcli.SegmentsUploadAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
