// Package kafka はパイプラインイベントを Kafka に配信します
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jinford/interview-pipeline/internal/core/event"
	"github.com/jinford/interview-pipeline/internal/platform/metrics"
)

// Config は Kafka 配信の設定
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher は event.Publisher の Kafka 実装
// 無効時はログ出力のみ行う
type Publisher struct {
	writer  messageWriter
	topic   string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New は新しい Publisher を作成します
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{topic: cfg.Topic, metrics: m, logger: logger}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	logger.Info("kafka publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return p
}

// Enabled は Kafka に書き込むかどうかを返します
func (p *Publisher) Enabled() bool {
	return p.writer != nil
}

// Publish はイベントを JSON で書き込みます
// 同じセッションのイベントは key によって同じパーティションに入る
func (p *Publisher) Publish(ctx context.Context, key string, e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.logger.Debug("publishing event", "topic", p.topic, "key", key, "type", e.Type, "status", e.Status)

	if p.writer == nil {
		p.metrics.RecordEvent(e.Type, nil)
		return nil
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(e.Type)},
		},
	})
	p.metrics.RecordEvent(e.Type, err)
	if err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}
	return nil
}

// Close は writer を閉じます
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

var _ event.Publisher = (*Publisher)(nil)
