package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/safespeak/moderation-engine/backend/internal/engine"
	"github.com/safespeak/moderation-engine/backend/internal/logging"
	"github.com/safespeak/moderation-engine/backend/internal/metrics"
	"github.com/safespeak/moderation-engine/backend/internal/policy"
)

func sampleDecision() *engine.Decision {
	return &engine.Decision{
		Label:        "toxicity",
		Confidence:   0.9,
		Action:       policy.ActionBlock,
		Reason:       engine.ReasonStatistical,
		Organization: "acme",
		RequestID:    "req-1",
		AuditTrail:   []engine.AuditStep{},
	}
}

func sampleRecord() Record {
	return Record{
		ID:        "7f1c9a52-0000-4000-8000-000000000001",
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Decision:  sampleDecision(),
	}
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Write(ctx context.Context, rec Record) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockSink) Close() error {
	return m.Called().Error(0)
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), sampleRecord()))
	require.NoError(t, sink.Write(context.Background(), sampleRecord()))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	decision := got["decision"].(map[string]interface{})
	assert.Equal(t, "block", decision["action"])
	assert.Equal(t, "toxicity", decision["label"])
}

func TestRedisSink_XAdd(t *testing.T) {
	client, rmock := redismock.NewClientMock()
	sink := NewRedisSink(client, "", 1000)
	rec := sampleRecord()

	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	rmock.ExpectXAdd(&redis.XAddArgs{
		Stream: DefaultStream,
		MaxLen: 1000,
		Approx: true,
		Values: []interface{}{
			"id", rec.ID,
			"organization", "acme",
			"action", "block",
			"label", "toxicity",
			"reason", engine.ReasonStatistical,
			"record", string(payload),
		},
	}).SetVal("1714557600000-0")

	require.NoError(t, sink.Write(context.Background(), rec))
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestRedisSink_Error(t *testing.T) {
	client, rmock := redismock.NewClientMock()
	sink := NewRedisSink(client, "audit", 0)
	rec := sampleRecord()

	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	rmock.ExpectXAdd(&redis.XAddArgs{
		Stream: "audit",
		Values: []interface{}{
			"id", rec.ID,
			"organization", "acme",
			"action", "block",
			"label", "toxicity",
			"reason", engine.ReasonStatistical,
			"record", string(payload),
		},
	}).SetErr(errors.New("connection refused"))

	err = sink.Write(context.Background(), rec)
	assert.ErrorContains(t, err, "connection refused")
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	failing := &mockSink{}
	failing.On("Write", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	failing.On("Close").Return(nil)

	multi := NewMultiSink(NewWriterSink(&buf), failing)
	err := multi.Write(context.Background(), sampleRecord())

	assert.ErrorContains(t, err, "mock: disk full")
	assert.NotEmpty(t, buf.String(), "healthy sinks still receive the record")
	assert.NoError(t, multi.Close())
	failing.AssertExpectations(t)
}

func TestRecorder_StampsAndCountsFailures(t *testing.T) {
	sink := &mockSink{}
	sink.On("Write", mock.Anything, mock.MatchedBy(func(rec Record) bool {
		return rec.ID == "fixed-id" && rec.Decision.RequestID == "req-1"
	})).Return(errors.New("unavailable")).Once()

	r := NewRecorder(sink, logging.Discard())
	r.newID = func() string { return "fixed-id" }
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	before := testutil.ToFloat64(metrics.AuditWriteErrors.WithLabelValues("mock"))
	rec, err := r.Record(context.Background(), sampleDecision(), 3*time.Millisecond)

	assert.Error(t, err)
	assert.Equal(t, at, rec.Timestamp)
	assert.Equal(t, 3*time.Millisecond, rec.Latency)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuditWriteErrors.WithLabelValues("mock")))
	sink.AssertExpectations(t)
}

func TestRecorder_GeneratesUUIDs(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(NewWriterSink(&buf), logging.Discard())

	a, err := r.Record(context.Background(), sampleDecision(), 0)
	require.NoError(t, err)
	b, err := r.Record(context.Background(), sampleDecision(), 0)
	require.NoError(t, err)

	assert.Len(t, a.ID, 36)
	assert.NotEqual(t, a.ID, b.ID)
}
