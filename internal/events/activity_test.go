package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/fieldops/internal/bg"
	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/events"
)

type mockWriter struct {
	writeMessages func(ctx context.Context, msgs ...kafka.Message) error
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return m.writeMessages(ctx, msgs...)
}
func (m *mockWriter) Close() error { return nil }

var _ events.Writer = (*mockWriter)(nil)

func activity() domain.Activity {
	return domain.Activity{
		ID:         uuid.New(),
		Kind:       domain.ActivityTripEnded,
		ActorID:    uuid.New(),
		SubjectID:  uuid.New(),
		Message:    "trip ended",
		OccurredAt: time.Date(2026, 1, 5, 17, 0, 0, 0, time.UTC),
	}
}

func TestKafkaLog_Record_WritesKeyedMessage(t *testing.T) {
	var got []kafka.Message
	w := &mockWriter{writeMessages: func(_ context.Context, msgs ...kafka.Message) error {
		got = append(got, msgs...)
		return nil
	}}
	a := activity()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events.NewKafkaLog(w, bg.Sync{}, slog.New(slog.NewTextHandler(io.Discard, nil))).Record(ctx, a)

	require.Len(t, got, 1)
	assert.Equal(t, a.SubjectID.String(), string(got[0].Key))
	var decoded domain.Activity
	require.NoError(t, json.Unmarshal(got[0].Value, &decoded))
	assert.Equal(t, a.Kind, decoded.Kind)
}

func TestKafkaLog_Record_SwallowsWriteErrors(t *testing.T) {
	w := &mockWriter{writeMessages: func(context.Context, ...kafka.Message) error {
		return errors.New("broker unavailable")
	}}
	log := events.NewKafkaLog(w, bg.Sync{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NotPanics(t, func() { log.Record(context.Background(), activity()) })
}
