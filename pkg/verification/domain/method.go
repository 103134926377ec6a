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

// Method is the closed set of verification capabilities. Every variant
// carries statically known metadata rather than a dynamic config dict
// (spec.md §9 "dynamic config dict" redesign note).
type Method string

const (
	MethodEmailCode        Method = "email_code"
	MethodPhoneCode        Method = "phone_code"
	MethodGovernmentID     Method = "government_id"
	MethodInPersonTwoParty Method = "in_person_two_party"
	MethodPersonalRef      Method = "personal_reference"
	MethodPlatformHistory  Method = "platform_history"
)

// AllMethods lists the closed set in a stable order; used by the scoring
// model and by next-level path suggestions.
var AllMethods = []Method{
	MethodEmailCode,
	MethodPhoneCode,
	MethodGovernmentID,
	MethodInPersonTwoParty,
	MethodPersonalRef,
	MethodPlatformHistory,
}

// MethodMeta is the statically known metadata for one method variant
// (spec.md §3). BasePoints * MaxMultiplier is bounded below the Complete
// threshold so no single method alone clears it.
type MethodMeta struct {
	BasePoints       int
	MaxMultiplier    int
	DecayDays        int // 0 = never decays
	NeedsHumanReview bool
	ApplicableKinds  map[SubjectKind]bool
}

// DecayDuration returns the method's decay window, or 0 if it never decays.
func (m MethodMeta) DecayDuration() time.Duration {
	if m.DecayDays <= 0 {
		return 0
	}
	return time.Duration(m.DecayDays) * 24 * time.Hour
}

var methodMeta = map[Method]MethodMeta{
	MethodEmailCode: {
		BasePoints: 30, MaxMultiplier: 1, DecayDays: 365,
		ApplicableKinds: kinds(SubjectIndividual),
	},
	MethodPhoneCode: {
		BasePoints: 30, MaxMultiplier: 1, DecayDays: 365,
		ApplicableKinds: kinds(SubjectIndividual),
	},
	MethodGovernmentID: {
		BasePoints: 100, MaxMultiplier: 1, DecayDays: 1825, NeedsHumanReview: true,
		ApplicableKinds: kinds(SubjectIndividual, SubjectBusiness, SubjectOrganization),
	},
	MethodInPersonTwoParty: {
		BasePoints: 150, MaxMultiplier: 1, DecayDays: 730,
		ApplicableKinds: kinds(SubjectIndividual, SubjectBusiness, SubjectOrganization),
	},
	MethodPersonalRef: {
		BasePoints: 50, MaxMultiplier: 3, DecayDays: 0,
		ApplicableKinds: kinds(SubjectIndividual),
	},
	MethodPlatformHistory: {
		BasePoints: 20, MaxMultiplier: 5, DecayDays: 0,
		ApplicableKinds: kinds(SubjectIndividual, SubjectBusiness, SubjectOrganization),
	},
}

func kinds(ks ...SubjectKind) map[SubjectKind]bool {
	m := make(map[SubjectKind]bool, len(ks))
	for _, k := range ks {
		m[k] = true
	}
	return m
}

// Meta returns the metadata for a method. The second return is false for an
// unrecognized method, so callers never silently treat an unknown method as
// a zero-value one.
func Meta(m Method) (MethodMeta, bool) {
	meta, ok := methodMeta[m]
	return meta, ok
}

// ApplicableTo reports whether method m applies to subjects of kind k.
func (m Method) ApplicableTo(k SubjectKind) bool {
	meta, ok := methodMeta[m]
	if !ok {
		return false
	}
	return meta.ApplicableKinds[k]
}

// NeedsHumanReview reports whether completions of m require a human
// reviewer decision rather than an automated confirmation.
func (m Method) NeedsHumanReview() bool {
	meta, ok := methodMeta[m]
	return ok && meta.NeedsHumanReview
}
