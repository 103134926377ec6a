/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package activities

import (
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/communitytrust/verification/internal/errors"
)

// newBreaker builds a gobreaker.CircuitBreaker for one external
// dependency (notifier, document scanner, credential registry).
// It opens after 5 consecutive failures and probes again after 30s,
// matching the cadence kubernaut's notification controller circuit
// breaker uses around its Slack/email senders.
func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// withBreaker executes fn through breaker, translating an open-circuit
// rejection into a retryable AppError so the retry policy above backs
// off instead of hammering a dependency that just tripped the breaker.
func withBreaker[T any](breaker *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	result, err := breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, apperrors.Wrap(err, apperrors.ErrorTypeTransientStorage, "dependency circuit open")
		}
		return zero, err
	}
	return result.(T), nil
}
