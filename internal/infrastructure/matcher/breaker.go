package matcher

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/productmatcher/backend/internal/domain"
	"github.com/productmatcher/backend/internal/logging"
	"github.com/productmatcher/backend/internal/metrics"
)

const breakerName = "matching-service"

// BreakerSettings tunes when the breaker opens and how it recovers
type BreakerSettings struct {
	MaxRequests  uint32        // requests allowed through while half-open
	Interval     time.Duration // closed-state count reset period
	Timeout      time.Duration // open duration before probing again
	FailureRatio float64
	MinRequests  uint32
}

// BreakerClient wraps a MatchingClient with a circuit breaker.
// While open, calls fail fast as service unavailable.
type BreakerClient struct {
	client domain.MatchingClient
	cb     *gobreaker.CircuitBreaker[[]domain.MatchResult]
}

// NewBreakerClient creates a circuit breaker around client
func NewBreakerClient(client domain.MatchingClient, s BreakerSettings) *BreakerClient {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]domain.MatchResult](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRatio {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isServiceFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{client: client, cb: cb}
}

// MatchImages calls the wrapped client unless the circuit is open
func (b *BreakerClient) MatchImages(ctx context.Context, image *domain.ImageStream, imageURLs []string) ([]domain.MatchResult, error) {
	results, err := b.cb.Execute(func() ([]domain.MatchResult, error) {
		return b.client.MatchImages(ctx, image, imageURLs)
	})

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
		return results, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
		logging.Ctx(ctx).Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		return nil, domain.NewError(domain.KindServiceUnavailable, "matching service circuit open", err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		return nil, err
	}
}

// Wait passes through to the wrapped client's limiter. It is not counted by the breaker.
func (b *BreakerClient) Wait(ctx context.Context) error {
	return b.client.Wait(ctx)
}

// State reports the current breaker state
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

// isServiceFailure reports whether err says something about the health of the
// matching service. Caller-side problems (bad image, download timeout, cancelled
// request, oversized payload) must not trip the breaker.
func isServiceFailure(err error) bool {
	if errors.Is(err, errMatcherUnreachable) {
		return !errors.Is(err, context.Canceled)
	}
	var se *statusErr
	if errors.As(err, &se) {
		return se.code >= 500
	}
	switch domain.KindOf(err) {
	case domain.KindServiceUnavailable, domain.KindGatewayTimeout:
		return true
	}
	return false
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
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
