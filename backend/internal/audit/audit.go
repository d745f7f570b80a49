package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/safespeak/moderation-engine/backend/internal/engine"
	"github.com/safespeak/moderation-engine/backend/internal/metrics"
)

// Record is the append-only audit envelope around a decision. The id and
// timestamp live here so the decision itself stays reproducible.
type Record struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Latency   time.Duration    `json:"latency_ns,omitempty"`
	Decision  *engine.Decision `json:"decision"`
}

// Sink persists audit records
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
	Close() error
}

// FileSink appends records as JSON lines
type FileSink struct {
	mu      sync.Mutex
	out     io.Writer
	closer  io.Closer
	encoder *json.Encoder
}

// NewFileSink opens filePath for appending. An empty path writes to stdout.
func NewFileSink(filePath string) (*FileSink, error) {
	if filePath == "" {
		return NewWriterSink(os.Stdout), nil
	}
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	s := NewWriterSink(file)
	s.closer = file
	return s, nil
}

// NewWriterSink writes JSON lines to w; Close leaves w open
func NewWriterSink(w io.Writer) *FileSink {
	return &FileSink{out: w, encoder: json.NewEncoder(w)}
}

func (s *FileSink) Name() string { return "file" }

// Write encodes one record per line
func (s *FileSink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(rec); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Close closes the underlying file, if the sink opened one
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// MultiSink fans every record out to several sinks
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string { return "multi" }

// Write tries every sink and joins their errors
func (m *MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Recorder stamps decisions with an id and timestamp and hands them to a sink
type Recorder struct {
	sink   Sink
	logger *logrus.Logger
	now    func() time.Time
	newID  func() string
}

// NewRecorder creates a Recorder writing to sink
func NewRecorder(sink Sink, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Record persists d. Failures are logged and counted, then returned so the
// caller can decide whether a lost audit record is fatal.
func (r *Recorder) Record(ctx context.Context, d *engine.Decision, latency time.Duration) (Record, error) {
	rec := Record{
		ID:        r.newID(),
		Timestamp: r.now(),
		Latency:   latency,
		Decision:  d,
	}
	if err := r.sink.Write(ctx, rec); err != nil {
		metrics.RecordAuditWriteError(r.sink.Name())
		r.logger.WithFields(logrus.Fields{
			"audit_id":     rec.ID,
			"request_id":   d.RequestID,
			"organization": d.Organization,
		}).WithError(err).Error("Failed to write audit record")
		return rec, err
	}
	return rec, nil
}

// Close closes the sink
func (r *Recorder) Close() error {
	return r.sink.Close()
}
