package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/interview-pipeline/internal/core/merge"
)

// MergeEnqueueAction はマージタスクを登録するコマンドのアクション
// --segments には merge.Segment の JSON 配列ファイルを指定する
func MergeEnqueueAction(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.String("session")

	segments, err := readSegmentsFile(cmd.String("segments"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	task, err := appCtx.Container.Merge.Enqueue(ctx, merge.EnqueueParams{SessionID: sessionID, Segments: segments})
	if err != nil {
		return err
	}
	fmt.Printf("merge task enqueued: %s (%d segments)\n", task.ID, len(task.Segments))

	if !cmd.Bool("wait") {
		return nil
	}
	task, err = appCtx.Container.Merge.Run(ctx, task.ID)
	if err != nil {
		return err
	}
	renderMergeTask(task)
	return nil
}

// MergeRunAction はマージタスクをこのプロセスで実行するコマンドのアクション
func MergeRunAction(ctx context.Context, cmd *cli.Command) error {
	id, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("invalid task id: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	task, err := appCtx.Container.Merge.Run(ctx, id)
	if err != nil {
		return err
	}
	renderMergeTask(task)
	return nil
}

// MergeShowAction はマージタスクの詳細を表示するコマンドのアクション
func MergeShowAction(ctx context.Context, cmd *cli.Command) error {
	id, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("invalid task id: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	task, err := appCtx.Container.Merge.Get(ctx, id)
	if err != nil {
		return err
	}
	renderMergeTask(task)
	return nil
}

// MergeListAction はセッションのマージタスク一覧を表示するコマンドのアクション
func MergeListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	tasks, err := appCtx.Container.Merge.ListBySession(ctx, cmd.String("session"))
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("マージタスクはありません")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Task ID", "Status", "Segments", "Duration", "Started At", "Completed At", "Error")
	for _, t := range tasks {
		errMsg := "-"
		if t.ErrorMessage != nil {
			errMsg = truncateString(*t.ErrorMessage, 40)
		}
		table.Append(
			t.ID.String(),
			string(t.Status),
			fmt.Sprintf("%d", len(t.Segments)),
			formatSeconds(t.TotalDuration),
			formatTime(t.StartedAt),
			formatTime(t.CompletedAt),
			errMsg,
		)
	}
	return table.Render()
}

func readSegmentsFile(path string) ([]merge.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segments file: %w", err)
	}
	var segments []merge.Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("failed to parse segments file: %w", err)
	}
	return segments, nil
}

func renderMergeTask(t *merge.Task) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("項目", "値")
	table.Append("Task ID", t.ID.String())
	table.Append("Session", t.SessionID)
	table.Append("Status", string(t.Status))
	table.Append("Segments", fmt.Sprintf("%d", len(t.Segments)))
	table.Append("Merged Video", deref(t.MergedVideoURL))
	table.Append("Total Duration", formatSeconds(t.TotalDuration))
	table.Append("Started At", formatTime(t.StartedAt))
	table.Append("Heartbeat At", formatTime(t.HeartbeatAt))
	table.Append("Completed At", formatTime(t.CompletedAt))
	table.Append("Error", deref(t.ErrorMessage))
	_ = table.Render()

	if len(t.Segments) == 0 {
		return
	}
	segTable := tablewriter.NewWriter(os.Stdout)
	segTable.Header("Seq", "Prompt", "Question", "Declared", "Measured")
	for i, s := range merge.SortBySequence(t.Segments) {
		measured := "-"
		if i < len(t.SegmentDurations) {
			measured = fmt.Sprintf("%.2fs", t.SegmentDurations[i])
		}
		segTable.Append(
			fmt.Sprintf("%d", s.SequenceNumber),
			s.PromptID,
			truncateString(s.QuestionText, 40),
			fmt.Sprintf("%.2fs", s.Duration),
			measured,
		)
	}
	_ = segTable.Render()
}
