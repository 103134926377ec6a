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

	"github.com/communitytrust/verification/pkg/verification/domain"
)

// NewAttestationAttempt builds the initial attempt for personal_reference.
// Unlike the other methods it has no fixed deadline: it stays open and
// re-enterable so distinct attestors can accumulate over time, up to the
// method's max multiplier.
func NewAttestationAttempt(attemptID, subjectID string, now time.Time) domain.VerificationAttempt {
	return domain.VerificationAttempt{
		AttemptID: attemptID,
		SubjectID: subjectID,
		Method:    domain.MethodPersonalRef,
		State:     domain.AttemptValidating,
		CreatedAt: now,
		Attestors: map[string]bool{},
	}
}

// RecordAttestation adds one attestor's vouch. A repeated attestation from
// the same attestor is a no-op: it never double-counts. Self-attestation
// is rejected. Every call that adds a new, distinct attestor produces a
// fresh completion proposal reflecting the updated count, re-clamped to the
// method's max multiplier by domain.NewCompletion; the caller is
// responsible for upserting it over the previous one rather than treating
// every call as a brand-new completion.
func RecordAttestation(attempt domain.VerificationAttempt, attestorID string, now time.Time) (domain.VerificationAttempt, Outcome) {
	if attempt.SubjectID == attestorID {
		return attempt, Failed(FailureInvalidInput, "a subject cannot attest to itself")
	}
	if attempt.Attestors == nil {
		attempt.Attestors = map[string]bool{}
	}
	if attempt.Attestors[attestorID] {
		return attempt, InFlight()
	}
	attempt.Attestors[attestorID] = true

	completion, ok := domain.NewCompletion(attempt.SubjectID, attempt.Method, len(attempt.Attestors), now, attempt.AttemptID, nil)
	if !ok {
		return attempt, Failed(FailureInvalidInput, "unrecognized method")
	}
	return attempt, Completed(completion)
}
