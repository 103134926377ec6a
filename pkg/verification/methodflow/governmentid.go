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

// ReviewerDecisionKind is the closed set of human-reviewer outcomes for
// the government_id method.
type ReviewerDecisionKind string

const (
	ReviewerApprove ReviewerDecisionKind = "approve"
	ReviewerReject  ReviewerDecisionKind = "reject"
)

// NewGovernmentIDAttempt builds the initial attempt once upload metadata
// has already been validated by an activity (format, size, readability):
// validation failures never reach this constructor, they are rejected
// by the caller before an attempt is created.
func NewGovernmentIDAttempt(attemptID, subjectID string, documentHandle string, now, deadline time.Time) domain.VerificationAttempt {
	return domain.VerificationAttempt{
		AttemptID:      attemptID,
		SubjectID:      subjectID,
		Method:         domain.MethodGovernmentID,
		State:          domain.AttemptValidating,
		CreatedAt:      now,
		Deadline:       deadline,
		DocumentHandle: documentHandle,
	}
}

// ReviewerDecision applies one reviewer_decision signal. Re-delivery of
// the same decision after the attempt has already resolved is a no-op
// that returns the attempt unchanged with a not-done (InFlight) outcome
// rather than re-running side effects, satisfying the idempotence requirement keyed
// on attempt_id (spec.md §9).
func ReviewerDecision(attempt domain.VerificationAttempt, decision ReviewerDecisionKind, reviewerID string, now time.Time) (domain.VerificationAttempt, Outcome) {
	if domain.IsTerminal(attempt.State) {
		return attempt, InFlight()
	}
	if attempt.State != domain.AttemptValidating {
		return attempt, Failed(FailureInvalidInput, "attempt is not awaiting reviewer decision")
	}
	if now.After(attempt.Deadline) {
		attempt.Transition(domain.AttemptExpired)
		return attempt, Failed(FailureTimeout, "reviewer decision deadline elapsed")
	}

	attempt.ReviewerID = reviewerID
	switch decision {
	case ReviewerApprove:
		completion, ok := domain.NewCompletion(attempt.SubjectID, attempt.Method, 1, now, attempt.AttemptID, map[string]string{"reviewer_id": reviewerID})
		if !ok {
			return attempt, Failed(FailureInvalidInput, "unrecognized method")
		}
		attempt.Transition(domain.AttemptCompleted)
		return attempt, Completed(completion)
	case ReviewerReject:
		attempt.Transition(domain.AttemptRejected)
		return attempt, Failed(FailureRejectedByReviewer, "reviewer rejected the submitted document")
	default:
		return attempt, Failed(FailureInvalidInput, "unrecognized reviewer decision")
	}
}
