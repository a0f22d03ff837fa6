// Package circuitbreaker wraps sony/gobreaker with the settings used
// for optional collaborators: a failing cache or event sink should
// degrade, not take requests down with it.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// New returns a breaker that opens after 5 consecutive failures and
// probes again after 30 seconds.
func New[T any](name string) *gobreaker.CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return gobreaker.NewCircuitBreaker[T](settings)
}
