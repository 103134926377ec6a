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

package methodflow

import (
	"time"

	"github.com/communitytrust/verification/pkg/verification/authz"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/store"
)

// NewTwoPartyAttempt builds the initial attempt for in_person_two_party.
// Tokens are generated by the caller (an activity, using
// domain.GenerateQrToken) so the transition itself stays free of
// crypto/rand calls.
func NewTwoPartyAttempt(attemptID, subjectID string, tokens [2]domain.QrToken, now, deadline time.Time) domain.VerificationAttempt {
	return domain.VerificationAttempt{
		AttemptID: attemptID,
		SubjectID: subjectID,
		Method:    domain.MethodInPersonTwoParty,
		State:     domain.AttemptAwaitingParties,
		CreatedAt: now,
		Deadline:  deadline,
		QrTokens:  []domain.QrToken{tokens[0], tokens[1]},
	}
}

func slotIndex(tokens []domain.QrToken, slot domain.Slot) int {
	for i, t := range tokens {
		if t.Slot == slot {
			return i
		}
	}
	return -1
}

func otherSlot(slot domain.Slot) domain.Slot {
	if slot == domain.SlotOne {
		return domain.SlotTwo
	}
	return domain.SlotOne
}

// ConfirmSlot applies the outcome of one store.ConsumeQrToken call to the
// attempt. The compare-and-set itself already happened in the store; this
// function only interprets the result and decides what it means for the
// attempt state machine. Once both slots carry a confirmation the attempt
// moves to validating, signalling the caller to run AuthorizeTwoParty and
// call FinalizeTwoParty next.
func ConfirmSlot(attempt domain.VerificationAttempt, slot domain.Slot, verifierID string, outcome store.QrConsumeOutcome, now time.Time) (domain.VerificationAttempt, Outcome) {
	if attempt.State != domain.AttemptAwaitingParties {
		return attempt, Failed(FailureInvalidInput, "attempt is not awaiting party confirmations")
	}
	if now.After(attempt.Deadline) {
		attempt.Transition(domain.AttemptExpired)
		return attempt, Failed(FailureTimeout, "party confirmation deadline elapsed")
	}

	idx := slotIndex(attempt.QrTokens, slot)
	if idx < 0 {
		return attempt, Failed(FailureInvalidInput, "unknown slot")
	}

	switch outcome {
	case store.QrConsumeAlreadyConsumedSame:
		// Idempotent replay of a confirmation already recorded.
		return attempt, InFlight()
	case store.QrConsumeAlreadyConsumedOther:
		return attempt, Failed(FailureInvalidInput, "slot already confirmed by another verifier")
	case store.QrConsumeInvalid:
		return attempt, Failed(FailureInvalidInput, "invalid qr token")
	case store.QrConsumeExpired:
		return attempt, Failed(FailureTimeout, "qr token expired")
	case store.QrConsumeOK:
		// fall through
	default:
		return attempt, Failed(FailureInvalidInput, "unrecognized qr consume outcome")
	}

	otherIdx := slotIndex(attempt.QrTokens, otherSlot(slot))
	if otherIdx >= 0 && attempt.QrTokens[otherIdx].ConsumedBy == verifierID {
		return attempt, Failed(FailureVerifierUnauthorized, "the same verifier cannot confirm both slots")
	}

	attempt.QrTokens[idx].ConsumedBy = verifierID

	if bothSlotsConfirmed(attempt.QrTokens) {
		attempt.Transition(domain.AttemptValidating)
	}
	return attempt, InFlight()
}

func bothSlotsConfirmed(tokens []domain.QrToken) bool {
	confirmed := 0
	for _, t := range tokens {
		if t.ConsumedBy != "" {
			confirmed++
		}
	}
	return confirmed >= 2
}

// FinalizeTwoParty consumes the two authz.Decision values produced by a
// prior AuthorizeTwoParty call and resolves the attempt. It is the only
// point in the two-party flow that touches authz, keeping ConfirmSlot free
// of the authorization dependency.
func FinalizeTwoParty(attempt domain.VerificationAttempt, a, b authz.Decision, now time.Time) (domain.VerificationAttempt, Outcome) {
	if attempt.State != domain.AttemptValidating {
		return attempt, Failed(FailureInvalidInput, "attempt is not awaiting verifier authorization")
	}
	if !a.Allowed || !b.Allowed {
		attempt.Transition(domain.AttemptRejected)
		return attempt, Failed(FailureVerifierUnauthorized, "one or both verifiers failed authorization")
	}

	completion, ok := domain.NewCompletion(attempt.SubjectID, attempt.Method, 1, now, attempt.AttemptID, nil)
	if !ok {
		return attempt, Failed(FailureInvalidInput, "unrecognized method")
	}
	attempt.Transition(domain.AttemptCompleted)
	return attempt, Completed(completion)
}
