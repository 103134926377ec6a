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

// Package methodflow holds one deterministic state-machine type per
// verification method (spec.md §4.3). Each type is a pure function of its
// current VerificationAttempt plus one inbound signal or activity result;
// randomness (codes, tokens) is always produced by a caller-supplied
// activity, never generated inline, so replay stays deterministic.
package methodflow

import "github.com/communitytrust/verification/pkg/verification/domain"

// FailureKind is the closed set of typed child-workflow failure outcomes
// (spec.md §4.3).
type FailureKind string

const (
	FailureTimeout              FailureKind = "timeout"
	FailureRejectedByReviewer   FailureKind = "rejected_by_reviewer"
	FailureInvalidInput         FailureKind = "invalid_input"
	FailureVerifierUnauthorized FailureKind = "verifier_unauthorized"
	FailureCancelled            FailureKind = "cancelled"
)

// Failure describes why a method workflow did not produce a completion.
type Failure struct {
	Kind   FailureKind
	Reason string
}

// Outcome is the result of one state transition. Exactly one of
// Completion or Failure is set when Done is true; when Done is false the
// attempt is still in flight and both are nil.
type Outcome struct {
	Done       bool
	Completion *domain.MethodCompletion
	Failure    *Failure
}

// InFlight is the zero outcome for a transition that leaves the attempt
// non-terminal.
func InFlight() Outcome { return Outcome{} }

// Completed wraps a successful completion proposal.
func Completed(c domain.MethodCompletion) Outcome {
	return Outcome{Done: true, Completion: &c}
}

// Failed wraps a typed failure.
func Failed(kind FailureKind, reason string) Outcome {
	return Outcome{Done: true, Failure: &Failure{Kind: kind, Reason: reason}}
}
