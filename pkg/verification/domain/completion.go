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

// MethodCompletion records that a subject successfully finished a method.
// At most one active completion exists per (subject, method); renewing a
// method replaces the existing completion rather than duplicating it.
type MethodCompletion struct {
	SubjectID             string
	Method                Method
	CompletedAt           time.Time
	Count                 int
	PointsAwarded         int
	ExpiresAt             *time.Time
	Metadata              map[string]string
	SourceVerificationID  string
	Revoked               bool
	RevokedReason         string
}

// NewCompletion builds a completion for count repeats of method, clamping
// count to the method's max multiplier and computing points and expiry per
// spec.md §3.
func NewCompletion(subjectID string, method Method, count int, completedAt time.Time, sourceVerificationID string, metadata map[string]string) (MethodCompletion, bool) {
	meta, ok := Meta(method)
	if !ok {
		return MethodCompletion{}, false
	}
	clamped := count
	if clamped > meta.MaxMultiplier {
		clamped = meta.MaxMultiplier
	}
	if clamped < 0 {
		clamped = 0
	}
	c := MethodCompletion{
		SubjectID:            subjectID,
		Method:               method,
		CompletedAt:          completedAt,
		Count:                clamped,
		PointsAwarded:        clamped * meta.BasePoints,
		SourceVerificationID: sourceVerificationID,
		Metadata:             metadata,
	}
	if d := meta.DecayDuration(); d > 0 {
		exp := completedAt.Add(d)
		c.ExpiresAt = &exp
	}
	return c, true
}

// Active reports whether the completion still contributes to the trust
// score as of now: it has not been revoked and, if it has an expiry, that
// expiry has not yet passed.
func (c MethodCompletion) Active(now time.Time) bool {
	if c.Revoked {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	return true
}
