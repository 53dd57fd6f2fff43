package salesforce

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tinytelemetry/sflogs/internal/logging"
	"github.com/tinytelemetry/sflogs/internal/metrics"
	"github.com/tinytelemetry/sflogs/internal/model"
)

// BreakerSettings tunes the circuit breaker. Zero values use the defaults.
type BreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// MinRequests and FailureRatio decide when the circuit opens.
	MinRequests  uint32
	FailureRatio float64
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.Name == "" {
		s.Name = "salesforce-tooling"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.MinRequests == 0 {
		s.MinRequests = 5
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = 0.6
	}
	return s
}

// Breaker wraps a LogSource so a failing org is not hammered by the
// auto-refresh loop. Rejections while open surface as ErrTransport.
type Breaker struct {
	next model.LogSource
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

var _ model.LogSource = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(next model.LogSource, settings BreakerSettings) *Breaker {
	s := settings.withDefaults()
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		// Missing logs and auth problems are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, model.ErrNotFound) ||
				errors.Is(err, model.ErrAuth) ||
				errors.Is(err, model.ErrBatchTooLarge) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &Breaker{next: next, cb: cb, name: s.Name}
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s: %w", model.ErrTransport, b.name, err)
		}
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: unexpected result type %T", model.ErrTransport, res)
	}
	return v, nil
}

func (b *Breaker) Query(ctx context.Context, queryText string) ([]model.RawRecord, error) {
	return execute(b, func() ([]model.RawRecord, error) { return b.next.Query(ctx, queryText) })
}

func (b *Breaker) FetchBody(ctx context.Context, logID string) (string, error) {
	return execute(b, func() (string, error) { return b.next.FetchBody(ctx, logID) })
}

func (b *Breaker) ResolveIdentity(ctx context.Context) (model.Identity, error) {
	return execute(b, func() (model.Identity, error) { return b.next.ResolveIdentity(ctx) })
}

func (b *Breaker) DeleteByIDs(ctx context.Context, ids []string) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, b.next.DeleteByIDs(ctx, ids) })
	return err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
