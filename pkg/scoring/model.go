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

// Package scoring implements the pure, deterministic, side-effect-free
// trust-score projection (spec.md §4.1). Every function here takes a bag of
// (method, count) and returns a value with no dependency on wall-clock time,
// randomness, or I/O, so the orchestrator can recompute it from scratch at
// any point in its history.
package scoring

import (
	"sort"

	"github.com/communitytrust/verification/pkg/verification/domain"
)

// MethodCount is one (method, count) pair fed into Score.
type MethodCount struct {
	Method domain.Method
	Count  int
}

// Score computes trust_score = Σ min(count, max_multiplier(m)) * base(m)
// over counts restricted to methods applicable to kind. Order of the input
// slice never affects the result (spec.md §8 property 2).
func Score(kind domain.SubjectKind, counts []MethodCount) int {
	total := 0
	for _, mc := range counts {
		meta, ok := domain.Meta(mc.Method)
		if !ok || !meta.ApplicableKinds[kind] {
			continue
		}
		n := mc.Count
		if n > meta.MaxMultiplier {
			n = meta.MaxMultiplier
		}
		if n < 0 {
			n = 0
		}
		total += n * meta.BasePoints
	}
	return total
}

// ScoreFromCompletions is a convenience wrapper over Score for a map of
// active completions keyed by method (the orchestrator's usual input
// shape).
func ScoreFromCompletions(kind domain.SubjectKind, completions map[domain.Method]domain.MethodCompletion) int {
	counts := make([]MethodCount, 0, len(completions))
	for m, c := range completions {
		counts = append(counts, MethodCount{Method: m, Count: c.Count})
	}
	return Score(kind, counts)
}

// LevelFor returns the largest level whose threshold the score meets.
func LevelFor(score int) domain.Level {
	best := domain.LevelUnverified
	for level, threshold := range domain.LevelThreshold {
		if score >= threshold && level > best {
			best = level
		}
	}
	return best
}

// NextLevelInfo describes how far a subject is from the next level and
// which pre-curated method combinations would get them there.
type NextLevelInfo struct {
	NextLevel          domain.Level
	PointsNeeded       int
	ProgressPercentage float64
	SuggestedPaths     [][]domain.Method
}

// curatedPaths lists minimal method combinations that clear each level,
// independent of kind; NextLevelInfo filters out methods already fully
// satisfied and methods inapplicable to the subject's kind.
var curatedPaths = map[domain.Level][][]domain.Method{
	domain.LevelMinimal: {
		{domain.MethodInPersonTwoParty},
		{domain.MethodGovernmentID},
		{domain.MethodPersonalRef, domain.MethodPersonalRef, domain.MethodPersonalRef},
		{domain.MethodEmailCode, domain.MethodPhoneCode, domain.MethodPersonalRef, domain.MethodPersonalRef},
	},
	domain.LevelStandard: {
		{domain.MethodInPersonTwoParty, domain.MethodGovernmentID},
		{domain.MethodInPersonTwoParty, domain.MethodEmailCode, domain.MethodPhoneCode, domain.MethodPersonalRef, domain.MethodPersonalRef},
	},
	domain.LevelEnhanced: {
		{domain.MethodInPersonTwoParty, domain.MethodGovernmentID, domain.MethodPersonalRef, domain.MethodPersonalRef, domain.MethodPersonalRef},
	},
	domain.LevelComplete: {
		{domain.MethodInPersonTwoParty, domain.MethodGovernmentID, domain.MethodEmailCode, domain.MethodPhoneCode, domain.MethodPersonalRef, domain.MethodPersonalRef, domain.MethodPersonalRef},
	},
}

// levelOrder from lowest to highest, used to walk "the next level up".
var levelOrder = []domain.Level{domain.LevelUnverified, domain.LevelMinimal, domain.LevelStandard, domain.LevelEnhanced, domain.LevelComplete}

// NextLevelInfoFor computes the next level up from score, the points needed
// to reach it, and suggested minimal paths not already fully satisfied.
func NextLevelInfoFor(kind domain.SubjectKind, score int, completed map[domain.Method]domain.MethodCompletion) NextLevelInfo {
	current := LevelFor(score)
	var next domain.Level
	found := false
	for _, l := range levelOrder {
		if l > current {
			next = l
			found = true
			break
		}
	}
	if !found {
		// Already Complete: nothing further to suggest.
		return NextLevelInfo{NextLevel: current, PointsNeeded: 0, ProgressPercentage: 100.0}
	}

	needed := domain.LevelThreshold[next] - score
	if needed < 0 {
		needed = 0
	}
	progress := progressPercentage(current, next, score)

	var suggestions [][]domain.Method
	for _, path := range curatedPaths[next] {
		if !pathApplicable(kind, path) {
			continue
		}
		if pathAlreadySatisfied(path, completed) {
			continue
		}
		suggestions = append(suggestions, path)
	}

	return NextLevelInfo{
		NextLevel:          next,
		PointsNeeded:       needed,
		ProgressPercentage: progress,
		SuggestedPaths:     suggestions,
	}
}

// progressPercentage expresses score's position between current's
// threshold (0 for Unverified) and next's threshold as a 0-100 clamped
// percentage.
func progressPercentage(current, next domain.Level, score int) float64 {
	currentThreshold := domain.LevelThreshold[current]
	nextThreshold := domain.LevelThreshold[next]
	if nextThreshold <= currentThreshold {
		return 100.0
	}
	progress := float64(score-currentThreshold) / float64(nextThreshold-currentThreshold) * 100.0
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

func pathApplicable(kind domain.SubjectKind, path []domain.Method) bool {
	for _, m := range path {
		if !m.ApplicableTo(kind) {
			return false
		}
	}
	return true
}

// pathAlreadySatisfied reports whether every method in path already has a
// completion whose count meets the repeat count the path requires.
func pathAlreadySatisfied(path []domain.Method, completed map[domain.Method]domain.MethodCompletion) bool {
	required := make(map[domain.Method]int)
	for _, m := range path {
		required[m]++
	}
	for m, need := range required {
		c, ok := completed[m]
		if !ok || c.Count < need {
			return false
		}
	}
	return true
}

// SortedCounts is a test/debug helper returning counts in a stable,
// deterministic order (by method name) so callers can assert on output
// without relying on map iteration order.
func SortedCounts(counts []MethodCount) []MethodCount {
	out := make([]MethodCount, len(counts))
	copy(out, counts)
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}
