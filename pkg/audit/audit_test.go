package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/chris/coin-settlement/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestFanout(t *testing.T) {
	a, b := &MemorySink{}, &MemorySink{}
	f := Fanout{Sinks: []Emitter{a, b}, Metrics: metrics.New(prometheus.NewRegistry())}

	f.Emit(context.Background(), New(TypeInsufficientFunds, SeverityMedium, "u1", "not enough coins"))

	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.Equal(t, SeverityMedium, a.Events()[0].Severity)
	assert.NotEmpty(t, a.Events()[0].ID)
	assert.Len(t, a.OfType(TypeInsufficientFunds), 1)
	assert.Empty(t, a.OfType(TypeSettlementFailed))
}

func TestWith(t *testing.T) {
	e := New(TypeProviderFailure, SeverityCritical, "u1", "boom")
	e2 := e.With("processor", "rest")

	assert.Nil(t, e.Attributes)
	assert.Equal(t, "rest", e2.Attributes["processor"])
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogSink{Logger: logger}.Emit(context.Background(), New(TypeSettlementFailed, SeverityCritical, "u1", "ledger write failed"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "audit: ledger write failed", line["msg"])
}

func TestKafkaSink(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		w := &fakeWriter{}
		sink := NewKafkaSink(w, nil)

		sink.Emit(context.Background(), New(TypeDuplicatePurchase, SeverityLow, "u1", "dup"))

		require.Len(t, w.msgs, 1)
		assert.Equal(t, []byte("u1"), w.msgs[0].Key)
		var e Event
		require.NoError(t, json.Unmarshal(w.msgs[0].Value, &e))
		assert.Equal(t, TypeDuplicatePurchase, e.Type)
	})

	t.Run("Writer Never Blocks On The Broker", func(t *testing.T) {
		// Arrange
		var buf bytes.Buffer
		w := NewKafkaWriter([]string{"localhost:9092"}, "audit", slog.New(slog.NewJSONHandler(&buf, nil)))

		// Assert
		assert.True(t, w.Async)
		assert.Equal(t, kafkaBatchTimeout, w.BatchTimeout)
		assert.Less(t, w.BatchTimeout, 100*time.Millisecond)
		require.NotNil(t, w.Completion)

		w.Completion([]kafka.Message{{Key: []byte("u1")}}, nil)
		assert.Empty(t, buf.String())

		w.Completion([]kafka.Message{{Key: []byte("u1"), Topic: "audit"}}, errors.New("leader not available"))
		assert.Contains(t, buf.String(), "failed to deliver audit event")
		assert.Contains(t, buf.String(), `"key":"u1"`)
	})

	t.Run("Write Error Is Swallowed", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("broker down")}
		sink := NewKafkaSink(w, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

		assert.NotPanics(t, func() {
			sink.Emit(context.Background(), New(TypeDuplicatePurchase, SeverityLow, "u1", "dup"))
		})
	})
}
