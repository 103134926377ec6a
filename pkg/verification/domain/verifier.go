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

// Credential is one auto-qualifying-eligible credential tag a verifier may
// carry (spec.md §4.4).
type Credential string

const (
	CredentialNotary            Credential = "notary"
	CredentialAttorney          Credential = "attorney"
	CredentialGovernmentOfficial Credential = "government_official"
	CredentialCommunityLeader   Credential = "community_leader"
)

// AutoQualifyingCredentials is the set of credential tags that, on their
// own, make a principal eligible to act as a verifier (spec.md §4.4 rule 3,
// GLOSSARY "Auto-qualifying credential").
var AutoQualifyingCredentials = map[Credential]bool{
	CredentialNotary:             true,
	CredentialAttorney:           true,
	CredentialGovernmentOfficial: true,
}

// VerifierProfile is a principal authorized to vouch for others.
type VerifierProfile struct {
	PrincipalID           string
	Authorized            bool
	AutoQualified         bool
	Credentials           map[Credential]bool
	AttestedCount         int
	RejectionCount        int
	Rating                float64
	Revoked               bool
	RevokedReason         string
	RevokedAt             time.Time
	RevokedBy             string
	LastCredentialCheckAt time.Time
}

// Effective reports whether the profile is currently usable as a verifier,
// per spec.md §3: authorized and not revoked.
func (v VerifierProfile) Effective() bool {
	return v.Authorized && !v.Revoked
}

// HasAnyAutoQualifyingCredential reports whether v carries at least one
// credential from the auto-qualifying set.
func (v VerifierProfile) HasAnyAutoQualifyingCredential() bool {
	for c := range v.Credentials {
		if AutoQualifyingCredentials[c] {
			return true
		}
	}
	return false
}

// CredentialCheckStale reports whether the verifier's credentials were last
// rechecked more than maxAge ago, per spec.md §4.4 ("re-checked at most once
// per 24 hours; cached result is used otherwise").
func (v VerifierProfile) CredentialCheckStale(now time.Time, maxAge time.Duration) bool {
	if v.LastCredentialCheckAt.IsZero() {
		return true
	}
	return now.Sub(v.LastCredentialCheckAt) > maxAge
}
