// Package events publishes the activity feed consumed by the CRM timeline.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pkordes/fieldops/internal/bg"
	"github.com/pkordes/fieldops/internal/domain"
)

const publishTimeout = 5 * time.Second

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// KafkaLog records activities to Kafka keyed by subject so one subject's
// events stay ordered within a partition. Writes run on the runner and never
// block the caller; failures are logged and dropped.
type KafkaLog struct {
	writer Writer
	runner bg.Runner
	logger *slog.Logger
}

// NewKafkaLog returns a KafkaLog writing through w.
func NewKafkaLog(w Writer, runner bg.Runner, logger *slog.Logger) *KafkaLog {
	return &KafkaLog{writer: w, runner: runner, logger: logger}
}

// Record publishes a. ctx only carries values; cancellation of the request
// does not abort the write.
func (k *KafkaLog) Record(ctx context.Context, a domain.Activity) {
	value, err := json.Marshal(a)
	if err != nil {
		k.logger.Error("marshal activity", "error", err, "kind", a.Kind)
		return
	}
	msg := kafka.Message{
		Key:   []byte(a.SubjectID.String()),
		Value: value,
		Time:  a.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(a.Kind)},
		},
	}

	base := context.WithoutCancel(ctx)
	k.runner.Do(func() {
		wctx, cancel := context.WithTimeout(base, publishTimeout)
		defer cancel()
		if err := k.writer.WriteMessages(wctx, msg); err != nil {
			k.logger.Warn("activity publish failed", "error", err, "kind", a.Kind, "subject_id", a.SubjectID)
		}
	})
}

// Close flushes and closes the writer.
func (k *KafkaLog) Close() error {
	return k.writer.Close()
}

// LogOnly writes activities to the structured log. Used when no broker is
// configured.
type LogOnly struct {
	logger *slog.Logger
}

// NewLogOnly returns a LogOnly sink.
func NewLogOnly(logger *slog.Logger) *LogOnly {
	return &LogOnly{logger: logger}
}

// Record logs a at INFO.
func (l *LogOnly) Record(ctx context.Context, a domain.Activity) {
	l.logger.InfoContext(ctx, "activity",
		"kind", a.Kind,
		"actor_id", a.ActorID,
		"subject_id", a.SubjectID,
		"message", a.Message,
	)
}
