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
	"crypto/subtle"
	"time"

	"github.com/communitytrust/verification/pkg/verification/domain"
)

// MaxWrongCodeAttempts is N in spec.md §4.3: three wrong submissions fail
// the attempt as rejected.
const MaxWrongCodeAttempts = 3

// NewCodeAttempt builds the initial attempt for email_code/phone_code.
// code is produced by an activity (random digit generation is never done
// inline here). Single-party methods skip straight to validating per the
// attempt state machine.
func NewCodeAttempt(attemptID, subjectID string, method domain.Method, code string, now, deadline time.Time) domain.VerificationAttempt {
	return domain.VerificationAttempt{
		AttemptID:    attemptID,
		SubjectID:    subjectID,
		Method:       method,
		State:        domain.AttemptValidating,
		CreatedAt:    now,
		Deadline:     deadline,
		ExpectedCode: code,
	}
}

// SubmitCode applies one submit_code signal. The comparison is
// constant-time to avoid leaking the code length/prefix through timing.
// Reaching MaxWrongCodeAttempts wrong submissions fails the attempt as rejected;
// idempotent delivery of the same wrong code still increments the
// counter, matching at-least-once signal delivery (callers are expected
// to dedupe true retries upstream via the attempt's terminal state).
func SubmitCode(attempt domain.VerificationAttempt, submitted string, now time.Time, sourceVerificationID string) (domain.VerificationAttempt, Outcome) {
	if attempt.State != domain.AttemptValidating {
		return attempt, Failed(FailureInvalidInput, "attempt is not awaiting a code")
	}
	if now.After(attempt.Deadline) {
		attempt.Transition(domain.AttemptExpired)
		return attempt, Failed(FailureTimeout, "code submission deadline elapsed")
	}

	match := subtle.ConstantTimeCompare([]byte(submitted), []byte(attempt.ExpectedCode)) == 1
	if match {
		completion, ok := domain.NewCompletion(attempt.SubjectID, attempt.Method, 1, now, sourceVerificationID, nil)
		if !ok {
			return attempt, Failed(FailureInvalidInput, "unrecognized method")
		}
		attempt.Transition(domain.AttemptCompleted)
		return attempt, Completed(completion)
	}

	attempt.WrongCodeAttempts++
	if attempt.WrongCodeAttempts >= MaxWrongCodeAttempts {
		attempt.Transition(domain.AttemptRejected)
		return attempt, Failed(FailureInvalidInput, "too many wrong code submissions")
	}
	return attempt, InFlight()
}
