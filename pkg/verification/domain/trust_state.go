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

// Level is a named band of trust scores, totally ordered.
type Level int

const (
	LevelUnverified Level = iota
	LevelMinimal
	LevelStandard
	LevelEnhanced
	LevelComplete
)

func (l Level) String() string {
	switch l {
	case LevelUnverified:
		return "Unverified"
	case LevelMinimal:
		return "Minimal"
	case LevelStandard:
		return "Standard"
	case LevelEnhanced:
		return "Enhanced"
	case LevelComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// LevelThreshold is the minimum trust_score required to reach a level.
// Unverified has no threshold (everyone starts there).
var LevelThreshold = map[Level]int{
	LevelMinimal:  100,
	LevelStandard: 250,
	LevelEnhanced: 400,
	LevelComplete: 600,
}

// orderedLevels lists levels from highest to lowest, for threshold scans.
var orderedLevels = []Level{LevelComplete, LevelEnhanced, LevelStandard, LevelMinimal, LevelUnverified}

// TrustState is the orchestrator's in-memory projection: the single source
// of truth recomputed atomically whenever the completion set changes. No
// code outside the scoring model and the orchestrator's recompute step may
// set TrustScore/Level directly.
type TrustState struct {
	SubjectID         string
	SubjectKind       SubjectKind
	TrustScore        int
	Level             Level
	Completions       map[Method]MethodCompletion
	ActiveAttempts    map[string]VerificationAttempt
	LastExpirySweepAt time.Time
	IterationCounter  int
}

// NewTrustState returns an empty projection for a freshly started
// orchestrator instance.
func NewTrustState(subjectID string, kind SubjectKind) *TrustState {
	return &TrustState{
		SubjectID:      subjectID,
		SubjectKind:    kind,
		Level:          LevelUnverified,
		Completions:    make(map[Method]MethodCompletion),
		ActiveAttempts: make(map[string]VerificationAttempt),
	}
}

// ActiveCompletions returns the completions that are active as of now, the
// input to the scoring model.
func (t *TrustState) ActiveCompletions(now time.Time) map[Method]MethodCompletion {
	out := make(map[Method]MethodCompletion, len(t.Completions))
	for m, c := range t.Completions {
		if c.Active(now) {
			out[m] = c
		}
	}
	return out
}
