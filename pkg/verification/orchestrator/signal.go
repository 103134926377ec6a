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

// SignalKind is the closed set of inbound signals an orchestrator instance
// accepts (spec.md §4.6).
type SignalKind string

const (
	SignalStartMethod          SignalKind = "start_method"
	SignalVerifierConfirmation SignalKind = "verifier_confirmation"
	SignalReviewerDecision     SignalKind = "reviewer_decision"
	SignalSubmitCode           SignalKind = "submit_code"
	SignalCommunityAttestation SignalKind = "community_attestation"
	SignalRevokeMethod         SignalKind = "revoke_method"
	SignalHistoryMilestone     SignalKind = "history_milestone"
	SignalTerminate            SignalKind = "terminate"
)

// StartMethodPayload begins a new attempt for a method (spec.md §4.6 table).
type StartMethodPayload struct {
	Method string            `validate:"required"`
	Params map[string]string `validate:"omitempty"`
}

// VerifierConfirmationPayload consumes one QR slot of an in-person
// two-party attempt. AttemptID is derived from the token by the store, so
// it is not part of the signal's dedupe key (spec.md §9: the key is
// (attempt_id, slot), established once the token resolves).
type VerifierConfirmationPayload struct {
	Token      string `validate:"required"`
	VerifierID string `validate:"required"`
	Location   string `validate:"omitempty"`
	DeviceFP   string `validate:"omitempty"`
}

// ReviewerDecisionPayload drives the government_id child.
type ReviewerDecisionPayload struct {
	AttemptID  string `validate:"required"`
	ReviewerID string `validate:"required"`
	Decision   string `validate:"required,oneof=approve reject"`
	Notes      string `validate:"omitempty"`
}

// SubmitCodePayload drives the email_code/phone_code child.
type SubmitCodePayload struct {
	AttemptID string `validate:"required"`
	Code      string `validate:"required"`
}

// CommunityAttestationPayload adds one attestor to personal_reference.
// Idempotence key is (attestor_id, method); method is implicit since only
// personal_reference has an attestation child.
type CommunityAttestationPayload struct {
	AttestorID      string `validate:"required"`
	AttestationData string `validate:"omitempty"`
}

// RevokeMethodPayload retracts a previously awarded completion.
type RevokeMethodPayload struct {
	Method string `validate:"required"`
	Reason string `validate:"required"`
}

// HistoryMilestonePayload awards passive platform_history points directly,
// with no child workflow (spec.md §4.3).
type HistoryMilestonePayload struct {
	Kind  string `validate:"required"`
	Value int    `validate:"required,min=1"`
}

// TerminatePayload cancels every active attempt and stops the instance.
type TerminatePayload struct {
	Reason string `validate:"omitempty"`
}

// Signal is one inbound message to an orchestrator instance. Result is
// buffered with capacity 1 so the instance's loop never blocks sending the
// handler's result, even when the sender has stopped waiting for it.
type Signal struct {
	Kind    SignalKind
	Payload any
	Result  chan error
}

// NewSignal builds a Signal with a ready-to-receive result channel.
func NewSignal(kind SignalKind, payload any) Signal {
	return Signal{Kind: kind, Payload: payload, Result: make(chan error, 1)}
}
