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

// Package store defines the durable persistence contract for the
// verification engine: completions, attempts, QR tokens, verifier
// profiles, and the audit log. Implementations live in the postgres and
// memory subpackages.
package store

import (
	"context"
	"time"

	"github.com/communitytrust/verification/pkg/verification/domain"
)

// QrConsumeOutcome is the result of attempting to consume a QR token. The
// consume operation must be an atomic compare-and-set: two concurrent
// consumers of the same token can never both succeed.
type QrConsumeOutcome string

const (
	QrConsumeOK                  QrConsumeOutcome = "ok"
	QrConsumeAlreadyConsumedSame QrConsumeOutcome = "already_consumed_by_same"
	QrConsumeAlreadyConsumedOther QrConsumeOutcome = "already_consumed_by_other"
	QrConsumeInvalid             QrConsumeOutcome = "invalid"
	QrConsumeExpired             QrConsumeOutcome = "expired"
)

// Store is the durable persistence contract for one subject's verification
// state. Every method is safe for concurrent use by multiple orchestrator
// instances only insofar as they operate on different subjects; a single
// subject's state is owned by exactly one orchestrator instance at a time.
type Store interface {
	// UpsertCompletion writes or replaces the active completion for
	// (subject, method). At most one active completion exists per
	// (subject, method) pair.
	UpsertCompletion(ctx context.Context, c domain.MethodCompletion) error

	// RetractCompletion marks a completion revoked, recording reason. It
	// is idempotent: retracting an already-revoked completion succeeds
	// without error.
	RetractCompletion(ctx context.Context, subjectID string, method domain.Method, reason string) error

	// ListCompletions returns every completion (active or not) recorded
	// for a subject.
	ListCompletions(ctx context.Context, subjectID string) ([]domain.MethodCompletion, error)

	// ListExpiringCompletions returns active completions whose ExpiresAt
	// is earlier than before (already-expired ones included), for the
	// expiry-sweep activity.
	ListExpiringCompletions(ctx context.Context, before time.Time) ([]domain.MethodCompletion, error)

	// UpsertAttempt writes or replaces a VerificationAttempt record.
	UpsertAttempt(ctx context.Context, a domain.VerificationAttempt) error

	// GetAttempt fetches a single attempt by id. Returns a NotFound
	// AppError if absent.
	GetAttempt(ctx context.Context, attemptID string) (domain.VerificationAttempt, error)

	// ListActiveAttempts returns every non-terminal attempt for a subject.
	ListActiveAttempts(ctx context.Context, subjectID string) ([]domain.VerificationAttempt, error)

	// IssueQrToken persists a newly generated token.
	IssueQrToken(ctx context.Context, t domain.QrToken) error

	// ConsumeQrToken atomically attempts to mark token as consumed by
	// consumerID. The CAS must happen inside the store, not in caller
	// code: two concurrent calls racing on the same token must resolve
	// to exactly one QrConsumeOK.
	ConsumeQrToken(ctx context.Context, token, consumerID string, now time.Time) (QrConsumeOutcome, domain.QrToken, error)

	// InvalidateQrTokens marks every still-valid token of an attempt
	// invalidated, for saga compensation. Idempotent.
	InvalidateQrTokens(ctx context.Context, attemptID string) error

	// RevokeQrConsumption clears ConsumedBy on every consumed, non-
	// invalidated token of an attempt, reversing a recorded confirmation
	// without invalidating the token outright. Idempotent.
	RevokeQrConsumption(ctx context.Context, attemptID string) error

	// GetVerifierProfile fetches a verifier profile by principal id.
	// Returns a NotFound AppError if absent.
	GetVerifierProfile(ctx context.Context, principalID string) (domain.VerifierProfile, error)

	// UpsertVerifierProfile writes or replaces a verifier profile.
	UpsertVerifierProfile(ctx context.Context, p domain.VerifierProfile) error

	// RecordEvent appends an immutable audit event. Ordering per subject
	// is total and monotone in OccurredAt.
	RecordEvent(ctx context.Context, e domain.AuditEvent) error

	// ListEvents returns the audit log for a subject in occurrence order.
	ListEvents(ctx context.Context, subjectID string) ([]domain.AuditEvent, error)
}
