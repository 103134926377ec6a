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

// Package saga implements the compensation discipline of spec.md §4.5: no
// saga orchestrator object, just an ordered set of idempotent inverse
// activities driven by a (state, saga_step) record. Every inverse is safe
// to run against an already-inverted attempt.
package saga

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/store"
)

// Step identifies one durable step of the two-party in-person saga
// (spec.md §4.3): issue tokens, await confirmations, validate verifiers,
// upsert completion.
type Step int

const (
	StepIssueTokens Step = iota + 1
	StepAwaitConfirmations
	StepValidateVerifiers
	StepUpsertCompletion
)

// Compensator runs the inverse activities for a failed attempt and
// records a compensation_ran audit event per inverse applied.
type Compensator struct {
	store store.Store
	now   func() time.Time
}

// NewCompensator constructs a Compensator. now defaults to time.Now.
func NewCompensator(st store.Store, now func() time.Time) *Compensator {
	if now == nil {
		now = time.Now
	}
	return &Compensator{store: st, now: now}
}

// Compensate runs the inverses for every step from failedAtStep down to 1,
// in reverse order, against an attempt that failed at failedAtStep. Each
// inverse is idempotent, so a retried Compensate call (e.g. after a crash
// mid-compensation) is safe.
func (c *Compensator) Compensate(ctx context.Context, attempt domain.VerificationAttempt, failedAtStep Step, reason string) error {
	for step := failedAtStep; step >= StepIssueTokens; step-- {
		if err := c.runInverse(ctx, attempt, step, reason); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compensator) runInverse(ctx context.Context, attempt domain.VerificationAttempt, step Step, reason string) error {
	switch step {
	case StepUpsertCompletion:
		return c.RetractCompletion(ctx, attempt.SubjectID, attempt.AttemptID, attempt.Method, reason)
	case StepValidateVerifiers:
		// Validation itself has no durable side effect to invert; the
		// tokens it consumed are reversed by StepAwaitConfirmations below.
		return nil
	case StepAwaitConfirmations:
		return c.RevokeRecordedConfirmations(ctx, attempt.SubjectID, attempt.AttemptID, reason)
	case StepIssueTokens:
		return c.InvalidateQrTokens(ctx, attempt.SubjectID, attempt.AttemptID, reason)
	default:
		return nil
	}
}

// InvalidateQrTokens reverses QR issuance (saga step 1). Idempotent: an
// already-invalidated or already-consumed token is left untouched by the
// store implementation.
func (c *Compensator) InvalidateQrTokens(ctx context.Context, subjectID, attemptID, reason string) error {
	if err := c.store.InvalidateQrTokens(ctx, attemptID); err != nil {
		return err
	}
	return c.recordCompensation(ctx, subjectID, attemptID, "invalidate_qr_tokens", reason)
}

// RevokeRecordedConfirmations reverses a recorded verifier confirmation
// (saga step 2) by clearing the QR token's consumed_by without
// invalidating the token, matching spec.md §8 scenario C.
func (c *Compensator) RevokeRecordedConfirmations(ctx context.Context, subjectID, attemptID, reason string) error {
	if err := c.store.RevokeQrConsumption(ctx, attemptID); err != nil {
		return err
	}
	return c.recordCompensation(ctx, subjectID, attemptID, "revoke_recorded_confirmations", reason)
}

// RetractCompletion reverses an already-awarded completion (saga step 4).
func (c *Compensator) RetractCompletion(ctx context.Context, subjectID, attemptID string, method domain.Method, reason string) error {
	if err := c.store.RetractCompletion(ctx, subjectID, method, reason); err != nil {
		return err
	}
	return c.recordCompensation(ctx, subjectID, attemptID, "retract_completion", reason)
}

func (c *Compensator) recordCompensation(ctx context.Context, subjectID, attemptID, inverse, reason string) error {
	return c.store.RecordEvent(ctx, domain.AuditEvent{
		EventID:    uuid.NewString(),
		SubjectID:  subjectID,
		AttemptID:  attemptID,
		Kind:       domain.EventCompensationRan,
		OccurredAt: c.now(),
		Data: map[string]any{
			"inverse": inverse,
			"reason":  reason,
		},
	})
}
