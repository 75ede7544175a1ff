package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/interview-pipeline/internal/core/merge"
	"github.com/jinford/interview-pipeline/internal/core/segmentstore"
)

// SegmentsAddAction は録画ファイルをローカルのセグメントストアに登録するコマンドのアクション
func SegmentsAddAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}
	defer f.Close()

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	entry, err := appCtx.Container.Segments.Put(cmd.String("session"), segmentstore.Entry{
		PromptID:       cmd.String("prompt"),
		SequenceNumber: int(cmd.Int("seq")),
		Duration:       cmd.Float("duration"),
		QuestionText:   cmd.String("question"),
		Category:       cmd.String("category"),
		Ext:            filepath.Ext(path),
	}, f)
	if err != nil {
		return err
	}
	fmt.Printf("segment stored: %s seq=%d (%d bytes)\n", entry.PromptID, entry.SequenceNumber, entry.Size)
	return nil
}

// SegmentsListAction はセッションのセグメント一覧を表示するコマンドのアクション
func SegmentsListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	entries, err := appCtx.Container.Segments.List(cmd.String("session"))
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Seq", "Prompt", "Question", "Duration", "Size", "Uploaded")
	for _, e := range entries {
		uploaded := "-"
		if e.Uploaded() {
			uploaded = e.UploadedURL
		}
		table.Append(
			fmt.Sprintf("%d", e.SequenceNumber),
			e.PromptID,
			truncateString(e.QuestionText, 40),
			fmt.Sprintf("%.2fs", e.Duration),
			fmt.Sprintf("%d", e.Size),
			uploaded,
		)
	}
	return table.Render()
}

// SegmentsUploadAction は未転送のセグメントをアップロードし、必要ならマージタスクを登録するコマンドのアクション
func SegmentsUploadAction(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.String("session")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	segments, err := appCtx.Container.Uploader.UploadSession(ctx, sessionID)
	if err != nil {
		// 転送済みの分はマニフェストに記録されているので、再実行で続きから再開できる
		return err
	}
	fmt.Printf("%d segments uploaded for %s\n", len(segments), sessionID)

	if !cmd.Bool("enqueue") {
		return nil
	}
	task, err := appCtx.Container.Merge.Enqueue(ctx, merge.EnqueueParams{SessionID: sessionID, Segments: segments})
	if err != nil {
		return err
	}
	fmt.Printf("merge task enqueued: %s\n", task.ID)

	if cmd.Bool("clean") {
		if err := appCtx.Container.Segments.Remove(sessionID); err != nil {
			appCtx.Logger().Warn("failed to remove local segments", "sessionID", sessionID, "error", err)
		}
	}
	return nil
}
