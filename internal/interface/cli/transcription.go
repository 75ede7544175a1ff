package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/interview-pipeline/internal/core/transcription"
)

// TranscriptionEnqueueAction は文字起こしを登録するコマンドのアクション
func TranscriptionEnqueueAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc := appCtx.Container.Transcription
	job, created, err := svc.Enqueue(ctx, cmd.String("session"), cmd.String("video-url"))
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("transcription enqueued: %s\n", job.JobID)
	} else {
		fmt.Printf("transcription already live: %s (%s)\n", job.JobID, job.Status)
	}

	if cmd.Bool("wait") {
		return runAndRender(ctx, svc, job)
	}
	return nil
}

// TranscriptionRetryAction は文字起こしを手動で再実行するコマンドのアクション
func TranscriptionRetryAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc := appCtx.Container.Transcription
	res, err := svc.Retry(ctx, cmd.String("session"))
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s (%s)\n", res.Action, res.Job.JobID, res.Job.Status)

	if cmd.Bool("wait") && res.Action != transcription.RetryAlreadyRunning {
		return runAndRender(ctx, svc, res.Job)
	}
	return nil
}

// TranscriptionStatusAction はセッションの文字起こし状態を表示するコマンドのアクション
func TranscriptionStatusAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	view, err := appCtx.Container.Transcription.Status(ctx, cmd.String("session"))
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("項目", "値")
	table.Append("Session", view.SessionID)
	table.Append("Job ID", view.JobID)
	table.Append("Status", string(view.Status))
	if view.Metadata != nil {
		table.Append("Language", view.Metadata.Language)
		table.Append("Duration", formatSeconds(&view.Metadata.TotalDuration))
		table.Append("Segments", fmt.Sprintf("%d", len(view.Metadata.Segments)))
		confidence := "-"
		if view.Metadata.MeanConfidence != nil {
			confidence = fmt.Sprintf("%.3f", *view.Metadata.MeanConfidence)
		}
		table.Append("Mean Confidence", confidence)
	}
	table.Append("Error", deref(view.Error))
	if err := table.Render(); err != nil {
		return err
	}

	if view.Transcript != nil {
		fmt.Println("\n=== 文字起こし ===")
		fmt.Println(*view.Transcript)
	}
	if view.Summary != nil {
		fmt.Println("\n=== 要約 ===")
		fmt.Println(*view.Summary)
	}
	return nil
}

func runAndRender(ctx context.Context, svc *transcription.Service, job *transcription.Job) error {
	done, err := svc.Run(ctx, job.ID)
	if err != nil {
		return err
	}
	fmt.Printf("transcription %s: %s\n", done.JobID, done.Status)
	if done.ErrorMessage != nil {
		fmt.Printf("error: %s\n", *done.ErrorMessage)
	}
	return nil
}
