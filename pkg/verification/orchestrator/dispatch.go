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

package orchestrator

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/notification"
	"github.com/communitytrust/verification/pkg/verification/activities"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/methodflow"
	"github.com/communitytrust/verification/pkg/verification/saga"
	"github.com/communitytrust/verification/pkg/verification/store"
)

// codeSpace bounds a 6-digit code: 000000-999999.
var codeSpace = big.NewInt(1_000_000)

// generateNumericCode produces a 6-digit verification code with
// crypto/rand, zero-padded, mirroring domain.GenerateQrToken's use of
// crypto/rand for the two-party flow's tokens.
func generateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// dispatchTable maps each SignalKind to its handler. It is built once, not
// per instance: handlers are free functions closing over nothing but their
// arguments (spec.md §9 "dispatch table from decorators" redesign).
var dispatchTable = map[SignalKind]func(*Instance, context.Context, any) error{
	SignalStartMethod:          (*Instance).handleStartMethod,
	SignalVerifierConfirmation: (*Instance).handleVerifierConfirmation,
	SignalReviewerDecision:     (*Instance).handleReviewerDecision,
	SignalSubmitCode:           (*Instance).handleSubmitCode,
	SignalCommunityAttestation: (*Instance).handleCommunityAttestation,
	SignalRevokeMethod:         (*Instance).handleRevokeMethod,
	SignalHistoryMilestone:     (*Instance).handleHistoryMilestone,
	SignalTerminate:            (*Instance).handleTerminate,
}

// handleSignal validates the payload, looks up the handler, runs it, and
// reports whether the instance should stop.
func (inst *Instance) handleSignal(ctx context.Context, sig Signal) (terminate bool) {
	err := inst.dispatch(ctx, sig)
	sig.Result <- err
	return sig.Kind == SignalTerminate && err == nil
}

func (inst *Instance) dispatch(ctx context.Context, sig Signal) error {
	if err := validate.Struct(sig.Payload); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid %s payload: %v", sig.Kind, err))
	}
	handler, ok := dispatchTable[sig.Kind]
	if !ok {
		return apperrors.NewValidationError(fmt.Sprintf("unrecognized signal kind %q", sig.Kind))
	}
	return handler(inst, ctx, sig.Payload)
}

func (inst *Instance) persistAttempt(ctx context.Context, a domain.VerificationAttempt) error {
	return inst.storeDo(ctx, func(ctx context.Context) error {
		return inst.deps.Store.UpsertAttempt(ctx, a)
	})
}

// handleStartMethod begins a new attempt for a method, idempotently: a
// caller re-sending start_method while an attempt for the same method is
// already non-terminal is a no-op (spec.md §9 idempotence-key table).
func (inst *Instance) handleStartMethod(ctx context.Context, payload any) error {
	p := payload.(StartMethodPayload)
	method := domain.Method(p.Method)

	if !method.ApplicableTo(inst.subject.Kind) {
		return apperrors.NewValidationError(fmt.Sprintf("method %q does not apply to subject kind %q", method, inst.subject.Kind))
	}
	for _, a := range inst.state.ActiveAttempts {
		if a.Method == method && a.NonTerminal() {
			return nil
		}
	}

	attemptID := uuid.NewString()
	now := inst.deps.now()
	var attempt domain.VerificationAttempt

	switch method {
	case domain.MethodEmailCode, domain.MethodPhoneCode:
		// The code itself is generated here, server-side, with crypto/rand:
		// callers supply a delivery address (email/phone), never the code.
		// Dispatch to the actual email/SMS channel is outside this engine's
		// scope (spec.md §1 Non-goals: no email/SMS provider integration).
		code, err := generateNumericCode()
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "generate verification code")
		}
		attempt = methodflow.NewCodeAttempt(attemptID, inst.subject.ID, method, code, now, now.Add(inst.cfg.Deadlines.EmailPhone))
	case domain.MethodGovernmentID:
		handle := p.Params["document_handle"]
		meta, err := inst.deps.Activities.ScanDocument(ctx, handle)
		if err != nil {
			return err
		}
		if !meta.Readable {
			return apperrors.NewValidationError("uploaded document failed readability scan")
		}
		attempt = methodflow.NewGovernmentIDAttempt(attemptID, inst.subject.ID, handle, now, now.Add(inst.cfg.Deadlines.GovernmentID))
	case domain.MethodInPersonTwoParty:
		tokenA, err := domain.GenerateQrToken(attemptID, domain.SlotOne, now, inst.cfg.QrTokenTTL)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "generate qr token")
		}
		tokenB, err := domain.GenerateQrToken(attemptID, domain.SlotTwo, now, inst.cfg.QrTokenTTL)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "generate qr token")
		}
		if err := inst.storeDo(ctx, func(ctx context.Context) error { return inst.deps.Store.IssueQrToken(ctx, tokenA) }); err != nil {
			return err
		}
		if err := inst.storeDo(ctx, func(ctx context.Context) error { return inst.deps.Store.IssueQrToken(ctx, tokenB) }); err != nil {
			return err
		}
		if err := inst.recordEvent(ctx, domain.EventQrIssued, "", method, attemptID, map[string]any{"slot": int(domain.SlotOne)}); err != nil {
			return err
		}
		if err := inst.recordEvent(ctx, domain.EventQrIssued, "", method, attemptID, map[string]any{"slot": int(domain.SlotTwo)}); err != nil {
			return err
		}
		attempt = methodflow.NewTwoPartyAttempt(attemptID, inst.subject.ID, [2]domain.QrToken{tokenA, tokenB}, now, now.Add(inst.cfg.Deadlines.TwoParty))
		attempt.SagaStep = int(saga.StepAwaitConfirmations)
	case domain.MethodPersonalRef:
		attempt = methodflow.NewAttestationAttempt(attemptID, inst.subject.ID, now)
	default:
		return apperrors.NewValidationError(fmt.Sprintf("method %q has no startable attempt", method))
	}

	if err := inst.storeDo(ctx, func(ctx context.Context) error { return inst.deps.Store.UpsertAttempt(ctx, attempt) }); err != nil {
		return err
	}
	inst.state.ActiveAttempts[attemptID] = attempt
	if inst.deps.Metrics != nil {
		inst.deps.Metrics.AttemptsStartedTotal.WithLabelValues(string(method)).Inc()
	}
	return inst.recordEvent(ctx, domain.EventAttemptStarted, "", method, attemptID, nil)
}

// handleVerifierConfirmation resolves a QR token (the store performs the
// atomic compare-and-set) and applies the resulting outcome to the
// in-person two-party child via methodflow.ConfirmSlot.
func (inst *Instance) handleVerifierConfirmation(ctx context.Context, payload any) error {
	p := payload.(VerifierConfirmationPayload)
	now := inst.deps.now()

	var qrOutcome store.QrConsumeOutcome
	var token domain.QrToken
	if err := inst.storeDo(ctx, func(ctx context.Context) error {
		var err error
		qrOutcome, token, err = inst.deps.Store.ConsumeQrToken(ctx, p.Token, p.VerifierID, now)
		return err
	}); err != nil {
		return err
	}
	if inst.deps.Metrics != nil {
		inst.deps.Metrics.QrConsumeTotal.WithLabelValues(string(qrOutcome)).Inc()
	}
	if err := inst.recordEvent(ctx, domain.EventQrConsumed, p.VerifierID, domain.MethodInPersonTwoParty, token.AttemptID, map[string]any{
		"outcome": string(qrOutcome),
		"slot":    int(token.Slot),
	}); err != nil {
		return err
	}

	attempt, ok := inst.state.ActiveAttempts[token.AttemptID]
	if !ok {
		fetched, err := inst.deps.Store.GetAttempt(ctx, token.AttemptID)
		if err != nil {
			return err
		}
		attempt = fetched
	}

	wasConfirmed := slotConfirmed(attempt, token.Slot)
	updated, outcome := methodflow.ConfirmSlot(attempt, token.Slot, p.VerifierID, qrOutcome, now)
	if err := inst.applyAttemptOutcome(ctx, updated, outcome); err != nil {
		return err
	}
	if outcome.Failure == nil && !wasConfirmed && slotConfirmed(updated, token.Slot) {
		return inst.recordEvent(ctx, domain.EventConfirmationRecorded, p.VerifierID, domain.MethodInPersonTwoParty, token.AttemptID, map[string]any{
			"slot": int(token.Slot),
		})
	}
	return nil
}

// slotConfirmed reports whether attempt's QR slot has already recorded a
// verifier confirmation, used to distinguish a genuinely new
// confirmation from an idempotent replay of an already-consumed slot.
func slotConfirmed(attempt domain.VerificationAttempt, slot domain.Slot) bool {
	for _, t := range attempt.QrTokens {
		if t.Slot == slot {
			return t.ConsumedBy != ""
		}
	}
	return false
}

func (inst *Instance) handleReviewerDecision(ctx context.Context, payload any) error {
	p := payload.(ReviewerDecisionPayload)
	attempt, err := inst.resolveAttempt(ctx, p.AttemptID)
	if err != nil {
		return err
	}
	var decision methodflow.ReviewerDecisionKind
	switch p.Decision {
	case "approve":
		decision = methodflow.ReviewerApprove
	case "reject":
		decision = methodflow.ReviewerReject
	default:
		return apperrors.NewValidationError(fmt.Sprintf("unrecognized reviewer decision %q", p.Decision))
	}
	updated, outcome := methodflow.ReviewerDecision(attempt, decision, p.ReviewerID, inst.deps.now())
	return inst.applyAttemptOutcome(ctx, updated, outcome)
}

func (inst *Instance) handleSubmitCode(ctx context.Context, payload any) error {
	p := payload.(SubmitCodePayload)
	attempt, err := inst.resolveAttempt(ctx, p.AttemptID)
	if err != nil {
		return err
	}
	updated, outcome := methodflow.SubmitCode(attempt, p.Code, inst.deps.now(), p.AttemptID)
	return inst.applyAttemptOutcome(ctx, updated, outcome)
}

// handleCommunityAttestation finds or lazily starts the subject's single
// personal_reference attempt and records one more attestor against it.
func (inst *Instance) handleCommunityAttestation(ctx context.Context, payload any) error {
	p := payload.(CommunityAttestationPayload)
	now := inst.deps.now()

	var attempt domain.VerificationAttempt
	var found bool
	for _, a := range inst.state.ActiveAttempts {
		if a.Method == domain.MethodPersonalRef {
			attempt, found = a, true
			break
		}
	}
	if !found {
		attempt = methodflow.NewAttestationAttempt(uuid.NewString(), inst.subject.ID, now)
	}

	updated, outcome := methodflow.RecordAttestation(attempt, p.AttestorID, now)
	return inst.applyAttemptOutcome(ctx, updated, outcome)
}

func (inst *Instance) handleRevokeMethod(ctx context.Context, payload any) error {
	p := payload.(RevokeMethodPayload)
	method := domain.Method(p.Method)
	before := inst.state.Level

	if err := inst.storeDo(ctx, func(ctx context.Context) error {
		return inst.deps.Store.RetractCompletion(ctx, inst.subject.ID, method, p.Reason)
	}); err != nil {
		return err
	}
	if c, ok := inst.state.Completions[method]; ok {
		c.Revoked = true
		c.RevokedReason = p.Reason
		inst.state.Completions[method] = c
	}
	if err := inst.recordEvent(ctx, domain.EventCompletionRetracted, "", method, "", map[string]any{"reason": p.Reason}); err != nil {
		return err
	}
	inst.recomputeAndNotifyLevel(ctx, before)
	return nil
}

// handleHistoryMilestone awards platform_history points directly; this is
// the one method with no child workflow (spec.md §4.3).
func (inst *Instance) handleHistoryMilestone(ctx context.Context, payload any) error {
	p := payload.(HistoryMilestonePayload)
	now := inst.deps.now()
	before := inst.state.Level

	existing := inst.state.Completions[domain.MethodPlatformHistory]
	count := existing.Count + p.Value
	completion, ok := domain.NewCompletion(inst.subject.ID, domain.MethodPlatformHistory, count, now, p.Kind, nil)
	if !ok {
		return apperrors.NewValidationError("platform_history is not a recognized method")
	}

	if err := inst.storeDo(ctx, func(ctx context.Context) error { return inst.deps.Store.UpsertCompletion(ctx, completion) }); err != nil {
		return err
	}
	inst.state.Completions[domain.MethodPlatformHistory] = completion
	if inst.deps.Metrics != nil {
		inst.deps.Metrics.PointsAwardedTotal.WithLabelValues(string(domain.MethodPlatformHistory)).Inc()
	}
	if err := inst.recordEvent(ctx, domain.EventPointsAwarded, "", domain.MethodPlatformHistory, "", map[string]any{"kind": p.Kind, "value": p.Value}); err != nil {
		return err
	}
	inst.recomputeAndNotifyLevel(ctx, before)
	return nil
}

func (inst *Instance) handleTerminate(ctx context.Context, payload any) error {
	p := payload.(TerminatePayload)
	for id := range inst.state.ActiveAttempts {
		delete(inst.state.ActiveAttempts, id)
	}
	return inst.recordEvent(ctx, domain.EventOrchestratorTerminated, "", domain.Method(""), "", map[string]any{"reason": p.Reason})
}

func (inst *Instance) resolveAttempt(ctx context.Context, attemptID string) (domain.VerificationAttempt, error) {
	if a, ok := inst.state.ActiveAttempts[attemptID]; ok {
		return a, nil
	}
	return inst.deps.Store.GetAttempt(ctx, attemptID)
}

func (inst *Instance) storeDo(ctx context.Context, fn func(context.Context) error) error {
	return activities.Do(ctx, activities.StoreWriteRetryPolicy, fn)
}

// applyAttemptOutcome is the shared tail of every method-flow signal
// handler: persist the attempt, then branch on what actually happened to
// it rather than on methodflow.Outcome.Done alone. Done only means "this
// call has nothing more to do"; it is set on both a genuine terminal
// transition and a non-fatal rejected signal that leaves the attempt
// exactly where it was (spec.md §4.3 "logged, counted, not fatal"; §8
// Scenario B). Only a Completion or a Failure paired with an actually
// terminal attempt.State may delete the attempt and run saga
// compensation/notification; anything else keeps it in ActiveAttempts.
func (inst *Instance) applyAttemptOutcome(ctx context.Context, attempt domain.VerificationAttempt, outcome methodflow.Outcome) error {
	if err := inst.persistAttempt(ctx, attempt); err != nil {
		return err
	}

	switch {
	case outcome.Completion != nil:
		delete(inst.state.ActiveAttempts, attempt.AttemptID)
		before := inst.state.Level
		if err := inst.storeDo(ctx, func(ctx context.Context) error {
			return inst.deps.Store.UpsertCompletion(ctx, *outcome.Completion)
		}); err != nil {
			return err
		}
		inst.state.Completions[outcome.Completion.Method] = *outcome.Completion
		if inst.deps.Metrics != nil {
			inst.deps.Metrics.AttemptsCompletedTotal.WithLabelValues(string(attempt.Method)).Inc()
			inst.deps.Metrics.PointsAwardedTotal.WithLabelValues(string(outcome.Completion.Method)).Inc()
		}
		if err := inst.recordEvent(ctx, domain.EventCompletionUpserted, "", outcome.Completion.Method, attempt.AttemptID, nil); err != nil {
			return err
		}
		inst.recomputeAndNotifyLevel(ctx, before)
		return nil

	case outcome.Failure != nil && domain.IsTerminal(attempt.State):
		delete(inst.state.ActiveAttempts, attempt.AttemptID)
		return inst.handleFailure(ctx, attempt, *outcome.Failure)

	case outcome.Failure != nil:
		inst.state.ActiveAttempts[attempt.AttemptID] = attempt
		return inst.recordRejection(ctx, attempt, *outcome.Failure)

	default:
		if domain.IsTerminal(attempt.State) {
			delete(inst.state.ActiveAttempts, attempt.AttemptID)
			return nil
		}
		inst.state.ActiveAttempts[attempt.AttemptID] = attempt
		if attempt.Method == domain.MethodInPersonTwoParty && attempt.State == domain.AttemptValidating {
			return inst.finalizeTwoParty(ctx, attempt)
		}
		return nil
	}
}

// recordRejection logs a signal that methodflow rejected without moving
// the attempt to a terminal state: the attempt is still waiting on its
// remaining parties or signals, so unlike handleFailure this never
// deletes it or runs saga compensation (spec.md §4.3, §8 Scenario B).
func (inst *Instance) recordRejection(ctx context.Context, attempt domain.VerificationAttempt, failure methodflow.Failure) error {
	if inst.deps.Metrics != nil {
		inst.deps.Metrics.AttemptsFailedTotal.WithLabelValues(string(attempt.Method), string(failure.Kind)).Inc()
	}
	return inst.recordEvent(ctx, domain.EventAttemptStateChanged, "", attempt.Method, attempt.AttemptID, map[string]any{
		"state":        string(attempt.State),
		"failure_kind": string(failure.Kind),
		"reason":       failure.Reason,
		"fatal":        false,
	})
}

// finalizeTwoParty runs once both QR slots of an in_person_two_party
// attempt have been confirmed: it authorizes both verifiers and resolves
// the attempt via methodflow.FinalizeTwoParty.
func (inst *Instance) finalizeTwoParty(ctx context.Context, attempt domain.VerificationAttempt) error {
	verifierA, verifierB := attempt.QrTokens[0].ConsumedBy, attempt.QrTokens[1].ConsumedBy
	now := inst.deps.now()

	a, b, err := inst.deps.Authz.AuthorizeTwoParty(ctx, verifierA, verifierB, attempt.SubjectID, now)
	if err != nil {
		return err
	}
	attempt.SagaStep = int(saga.StepValidateVerifiers)

	updated, outcome := methodflow.FinalizeTwoParty(attempt, a, b, now)
	if outcome.Done && outcome.Completion != nil {
		updated.SagaStep = int(saga.StepUpsertCompletion)
	}
	return inst.applyAttemptOutcome(ctx, updated, outcome)
}

func (inst *Instance) handleFailure(ctx context.Context, attempt domain.VerificationAttempt, failure methodflow.Failure) error {
	if inst.deps.Metrics != nil {
		inst.deps.Metrics.AttemptsFailedTotal.WithLabelValues(string(attempt.Method), string(failure.Kind)).Inc()
	}

	if attempt.Method == domain.MethodInPersonTwoParty && attempt.SagaStep > 0 {
		step := saga.Step(attempt.SagaStep)
		err := inst.deps.Compensator.Compensate(ctx, attempt, step, failure.Reason)
		if inst.deps.Metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			inst.deps.Metrics.CompensationsTotal.WithLabelValues(fmt.Sprintf("%d", step), outcome).Inc()
		}
		if err != nil {
			inst.deps.Logger.Error(err, "saga compensation failed", "attempt_id", attempt.AttemptID)
		}
	}

	kind := notification.KindVerificationFailed
	if failure.Kind == methodflow.FailureRejectedByReviewer {
		kind = notification.KindReviewerRejected
	} else if failure.Kind == methodflow.FailureTimeout {
		kind = notification.KindAttemptExpired
	}
	_ = inst.deps.Activities.Notify(ctx, notification.Message{
		SubjectID: inst.subject.ID,
		Kind:      kind,
		Subject:   fmt.Sprintf("Verification attempt for %s did not complete", attempt.Method),
		Body:      failure.Reason,
		Data:      map[string]string{"attempt_id": attempt.AttemptID, "failure_kind": string(failure.Kind)},
	})
	return inst.recordEvent(ctx, domain.EventAttemptStateChanged, "", attempt.Method, attempt.AttemptID, map[string]any{
		"state":        string(attempt.State),
		"failure_kind": string(failure.Kind),
		"reason":       failure.Reason,
	})
}

