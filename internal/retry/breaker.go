package retry

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/apperr"
)

// NewBreaker trips after five consecutive transient failures and probes
// again after thirty seconds. Permanent errors such as NotFound do not count.
func NewBreaker(name string, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !apperr.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}
