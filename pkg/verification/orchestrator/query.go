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

import (
	"github.com/communitytrust/verification/pkg/scoring"
	"github.com/communitytrust/verification/pkg/verification/domain"
)

// QueryKind is the closed set of non-blocking, read-only queries (spec.md
// §4.6).
type QueryKind string

const (
	QueryTrustScore       QueryKind = "trust_score"
	QueryLevel            QueryKind = "level"
	QueryCompletedMethods QueryKind = "completed_methods"
	QueryNextLevelInfo    QueryKind = "next_level_info"
	QueryActiveAttempts   QueryKind = "active_attempts"
	// QueryComposite returns every field at once, for callers that need a
	// consistent view across more than one of the above (spec.md §4.6:
	// "callers MUST NOT assume consistency across two separate queries").
	QueryComposite QueryKind = "composite"
)

// QueryResult is the structurally typed snapshot returned for any query
// kind; only the fields relevant to the requested kind are populated,
// except for QueryComposite which populates all of them.
type QueryResult struct {
	TrustScore       int
	Level            domain.Level
	CompletedMethods []domain.MethodCompletion
	NextLevelInfo    scoring.NextLevelInfo
	ActiveAttempts   []domain.VerificationAttempt
}

type queryRequest struct {
	kind   QueryKind
	result chan QueryResult
}
