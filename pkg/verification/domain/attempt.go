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

package domain

import "time"

// AttemptState is the state of one in-flight VerificationAttempt
// (spec.md §3 state machine).
type AttemptState string

const (
	AttemptPending          AttemptState = "pending"
	AttemptAwaitingParties  AttemptState = "awaiting_parties"
	AttemptValidating       AttemptState = "validating"
	AttemptCompleted        AttemptState = "completed"
	AttemptRejected         AttemptState = "rejected"
	AttemptExpired          AttemptState = "expired"
	AttemptRevoked          AttemptState = "revoked"
)

// IsTerminal reports whether a state can never transition further.
func IsTerminal(s AttemptState) bool {
	switch s {
	case AttemptCompleted, AttemptRejected, AttemptExpired, AttemptRevoked:
		return true
	default:
		return false
	}
}

// transitions enumerates every allowed (from, to) edge of the attempt state
// machine in spec.md §4.6. Revocation is reachable only from Completed.
var transitions = map[AttemptState]map[AttemptState]bool{
	AttemptPending: {
		AttemptAwaitingParties: true,
		AttemptValidating:      true, // single-party methods skip straight to validating
		AttemptRejected:        true,
		AttemptExpired:         true,
	},
	AttemptAwaitingParties: {
		AttemptValidating: true,
		AttemptExpired:    true,
		AttemptRejected:   true,
	},
	AttemptValidating: {
		AttemptCompleted: true,
		AttemptRejected:  true,
		AttemptExpired:   true,
	},
	AttemptCompleted: {
		AttemptRevoked: true,
		AttemptExpired: true,
	},
}

// CanTransition reports whether the attempt state machine allows from->to.
func CanTransition(from, to AttemptState) bool {
	if IsTerminal(from) {
		// Completed is the sole non-absorbing terminal state: it may still
		// move to Revoked (explicit revocation) or Expired (decay).
		if from != AttemptCompleted {
			return false
		}
	}
	return transitions[from][to]
}

// VerificationAttempt is one in-flight execution of one method: one child
// workflow. At most one attempt per method may be in a non-terminal state
// at any time.
type VerificationAttempt struct {
	AttemptID string
	SubjectID string
	Method    Method
	State     AttemptState
	CreatedAt time.Time
	Deadline  time.Time
	SagaStep  int

	// Method-specific fields.
	QrTokens          []QrToken
	DocumentHandle    string
	ExpectedCode      string
	WrongCodeAttempts int
	ReviewerID        string
	Attestors         map[string]bool
}

// NonTerminal reports whether the attempt is still in flight.
func (a VerificationAttempt) NonTerminal() bool {
	return !IsTerminal(a.State)
}

// Transition moves the attempt to a new state, returning false if the
// transition is not allowed by the state machine.
func (a *VerificationAttempt) Transition(to AttemptState) bool {
	if !CanTransition(a.State, to) {
		return false
	}
	a.State = to
	return true
}
