package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"windperf/internal/attribution"
	"windperf/internal/icing"
)

type recordingWriter struct {
	batches [][]kafka.Message
	err     error
	closed  bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]kafka.Message(nil), msgs...))
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewWithoutBrokers(t *testing.T) {
	_, err := New(Config{Brokers: []string{" ", ""}})
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestNewDefaultsTopic(t *testing.T) {
	p, err := New(Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, p.Topic())
	require.NoError(t, p.Close())
}

func TestPublishHours(t *testing.T) {
	w := &recordingWriter{}
	p := newWithWriter("t", w)
	runID := uuid.New()
	gf := 1.5
	hour := time.Date(2023, 1, 15, 6, 0, 0, 0, time.UTC)
	hours := []attribution.AttributedHour{
		{FarmID: "WHILW", Hour: hour, ActualMW: 12, GustFactor: &gf, IcingRiskLevel: icing.RiskHigh, ImpactCategory: attribution.CategoryIcing},
		{FarmID: "CLDCW", Hour: hour, ActualMW: 40, IcingRiskLevel: icing.RiskLow, ImpactCategory: attribution.CategoryNormal},
	}

	require.NoError(t, p.PublishHours(context.Background(), runID, hours))
	require.Len(t, w.batches, 1)
	msgs := w.batches[0]
	require.Len(t, msgs, 2)

	assert.Equal(t, "WHILW", string(msgs[0].Key))
	assert.Equal(t, runID.String(), string(msgs[0].Headers[0].Value))

	var m Message
	require.NoError(t, json.Unmarshal(msgs[0].Value, &m))
	assert.Equal(t, runID.String(), m.RunID)
	assert.Equal(t, "ICING", m.ImpactCategory)
	assert.Equal(t, "HIGH", m.IcingRiskLevel)
	require.NotNil(t, m.GustFactor)
	assert.Equal(t, 1.5, *m.GustFactor)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].Value, &raw))
	assert.Nil(t, raw["gust_factor"], "undefined gust factor is null on the wire")
	assert.NotContains(t, raw, "constraint_severity")
}

func TestPublishHoursBatches(t *testing.T) {
	w := &recordingWriter{}
	p := newWithWriter("t", w)
	hours := make([]attribution.AttributedHour, batchSize*2+1)
	for i := range hours {
		hours[i] = attribution.AttributedHour{FarmID: fmt.Sprintf("F%d", i%7)}
	}

	require.NoError(t, p.PublishHours(context.Background(), uuid.New(), hours))
	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[2], 1)
}

func TestPublishHoursWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newWithWriter("t", &recordingWriter{err: boom})
	err := p.PublishHours(context.Background(), uuid.New(), []attribution.AttributedHour{{FarmID: "a"}})
	assert.ErrorIs(t, err, boom)
}

func TestPublishHoursEmpty(t *testing.T) {
	w := &recordingWriter{}
	require.NoError(t, newWithWriter("t", w).PublishHours(context.Background(), uuid.New(), nil))
	assert.Empty(t, w.batches)
}
