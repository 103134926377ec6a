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

// Snapshot is the continue-as-new payload carried across orchestrator
// instances: it must encode everything needed to reconstruct TrustState and
// every non-terminal VerificationAttempt (spec.md §9 "the snapshot is part
// of the design contract, not an implementation detail").
type Snapshot struct {
	SubjectID      string
	SubjectKind    SubjectKind
	TrustScore     int
	Level          Level
	Completions    []MethodCompletion
	ActiveAttempts []VerificationAttempt
}

// ToSnapshot captures a TrustState as a Snapshot suitable for
// continue-as-new.
func ToSnapshot(t *TrustState) Snapshot {
	s := Snapshot{
		SubjectID:   t.SubjectID,
		SubjectKind: t.SubjectKind,
		TrustScore:  t.TrustScore,
		Level:       t.Level,
	}
	for _, c := range t.Completions {
		s.Completions = append(s.Completions, c)
	}
	for _, a := range t.ActiveAttempts {
		s.ActiveAttempts = append(s.ActiveAttempts, a)
	}
	return s
}

// FromSnapshot hydrates a TrustState from a Snapshot taken at a prior
// continue-as-new boundary. IterationCounter always restarts at zero: it
// bounds the NEW instance's own history, not a lifetime total.
func FromSnapshot(s Snapshot) *TrustState {
	t := NewTrustState(s.SubjectID, s.SubjectKind)
	t.TrustScore = s.TrustScore
	t.Level = s.Level
	for _, c := range s.Completions {
		t.Completions[c.Method] = c
	}
	for _, a := range s.ActiveAttempts {
		t.ActiveAttempts[a.AttemptID] = a
	}
	return t
}
