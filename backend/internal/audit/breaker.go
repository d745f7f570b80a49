package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	FailureThreshold uint32        // Consecutive failures before opening
	SuccessThreshold uint32        // Successes to close from half-open
	Timeout          time.Duration // How long to stay open before half-open
}

// ErrSinkUnavailable is returned while the breaker is open
var ErrSinkUnavailable = errors.New("circuit breaker is open: audit sink unavailable")

// BreakerSink stops writing to a failing sink for a while so a dead Redis
// does not add a network timeout to every decision
type BreakerSink struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerSink wraps sink; zero config fields take defaults
func NewBreakerSink(sink Sink, config BreakerConfig, logger *logrus.Logger) *BreakerSink {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	settings := gobreaker.Settings{
		Name:        sink.Name(),
		MaxRequests: config.SuccessThreshold,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"sink": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Audit sink circuit breaker changed state")
		},
	}
	return &BreakerSink{sink: sink, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerSink) Name() string { return b.sink.Name() }

// Write forwards rec unless the breaker is open
func (b *BreakerSink) Write(ctx context.Context, rec Record) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.sink.Write(ctx, rec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.sink.Name(), ErrSinkUnavailable)
	}
	return err
}

// State returns the breaker state: closed, open or half-open
func (b *BreakerSink) State() string {
	return b.breaker.State().String()
}

// Close closes the wrapped sink
func (b *BreakerSink) Close() error {
	return b.sink.Close()
}
