package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/interview-pipeline/internal/platform/database"
)

// MigrateUpAction は未適用のマイグレーションを適用するコマンドのアクション
func MigrateUpAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := loadConfig(cmd.String("env"))
	if err != nil {
		return err
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("データベース接続に失敗: %w", err)
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db.Pool, logger)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("適用するマイグレーションはありません")
		return nil
	}
	for _, name := range applied {
		fmt.Printf("applied: %s\n", name)
	}
	return nil
}
