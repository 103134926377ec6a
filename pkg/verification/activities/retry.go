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
	"context"
	"errors"
	"time"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/notification"
)

// RetryPolicy is the exponential backoff schedule applied to one
// activity call, shaped like kubernaut's notification RetryPolicy CRD
// field (MaxAttempts/InitialBackoff/BackoffMultiplier/MaxBackoff).
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultActivityRetryPolicy is the default for most activities
// (spec.md §4.3/§7): up to 3 attempts, 1s initial backoff, capped at 10s.
var DefaultActivityRetryPolicy = RetryPolicy{
	MaxAttempts:       3,
	InitialBackoff:    time.Second,
	BackoffMultiplier: 2,
	MaxBackoff:        10 * time.Second,
}

// StoreWriteRetryPolicy covers durable-store writes, which get two extra
// attempts over the default since a lost write is far costlier to recover
// from than a lost notification.
var StoreWriteRetryPolicy = RetryPolicy{
	MaxAttempts:       5,
	InitialBackoff:    time.Second,
	BackoffMultiplier: 2,
	MaxBackoff:        10 * time.Second,
}

// isRetryable reports whether err is worth retrying: transient storage,
// network, timeout and database AppErrors, and notification.RetryableError
// are retried; every other AppError type (validation, conflict,
// non-retryable activity) is not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryableNotif *notification.RetryableError
	if errors.As(err, &retryableNotif) {
		return true
	}
	if apperrors.IsType(err, apperrors.ErrorTypeTransientStorage) ||
		apperrors.IsType(err, apperrors.ErrorTypeNetwork) ||
		apperrors.IsType(err, apperrors.ErrorTypeTimeout) ||
		apperrors.IsType(err, apperrors.ErrorTypeDatabase) {
		return true
	}
	return false
}

// Do runs fn under policy, retrying retryable errors with exponential
// backoff until MaxAttempts is exhausted or ctx is cancelled. A
// non-retryable error returns immediately without consuming further
// attempts.
func Do(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * policy.BackoffMultiplier)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return lastErr
}
