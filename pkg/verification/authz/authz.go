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

// Package authz decides whether a principal may act as a verifier for
// another subject, per spec.md §4.4's ordered rule evaluation. Credential
// rechecks are deduplicated both within a process (singleflight) and
// across processes (a redis NX lock with a 24h TTL), since a credential
// check hits an external system.
package authz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/store"
)

const (
	// TrustedVerifierMinAttestations is the attested_count floor for the
	// "trusted verifier" rule (spec.md §4.4 rule 4).
	TrustedVerifierMinAttestations = 50
	// MinRatingForTrustedOrLeader is the rating floor shared by the
	// trusted-verifier and community-leader rules.
	MinRatingForTrustedOrLeader = 4.0
)

// Reason is a machine-checkable explanation for an authorization decision,
// surfaced in audit events.
type Reason string

const (
	ReasonSelfVerification     Reason = "self_verification_forbidden"
	ReasonProfileMissing       Reason = "verifier_profile_missing"
	ReasonProfileIneffective   Reason = "verifier_profile_unauthorized_or_revoked"
	ReasonVerifierBelowMinimal Reason = "verifier_below_minimal_trust"
	ReasonAutoQualified        Reason = "auto_qualifying_credential"
	ReasonTrustedVerifier      Reason = "trusted_verifier"
	ReasonCommunityLeader      Reason = "community_leader"
	ReasonInsufficientStanding Reason = "insufficient_standing"
	ReasonDuplicateParty       Reason = "two_party_same_principal"
)

// Decision is the outcome of one Authorize call.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// TrustLevelProvider resolves a principal's own current trust level. The
// orchestrator is the only implementation; authz depends on the narrow
// interface rather than the orchestrator package to avoid an import cycle.
type TrustLevelProvider interface {
	TrustLevel(ctx context.Context, principalID string) (domain.Level, error)
}

// CredentialChecker queries the external system of record for a
// principal's current credential set (spec.md §4.4: notary/attorney/
// government official/community leader registries).
type CredentialChecker interface {
	CheckCredentials(ctx context.Context, principalID string) (map[domain.Credential]bool, error)
}

// RecheckGate deduplicates credential rechecks across orchestrator
// instances. Acquire returns false when another instance already
// performed the recheck within ttl.
type RecheckGate interface {
	Acquire(ctx context.Context, principalID string, ttl time.Duration) (bool, error)
}

// Service evaluates verifier authorization.
type Service struct {
	store              store.Store
	trustLevels        TrustLevelProvider
	credentialChecker  CredentialChecker
	recheckGate        RecheckGate
	credentialCacheTTL time.Duration

	group singleflight.Group
}

// NewService constructs an authorization Service.
func NewService(st store.Store, trustLevels TrustLevelProvider, checker CredentialChecker, gate RecheckGate, credentialCacheTTL time.Duration) *Service {
	return &Service{
		store:              st,
		trustLevels:        trustLevels,
		credentialChecker:  checker,
		recheckGate:        gate,
		credentialCacheTTL: credentialCacheTTL,
	}
}

// Authorize decides whether verifierID may vouch for subjectID right now.
func (s *Service) Authorize(ctx context.Context, verifierID, subjectID string, now time.Time) (Decision, error) {
	if verifierID == subjectID {
		return Decision{Reason: ReasonSelfVerification}, nil
	}

	profile, err := s.store.GetVerifierProfile(ctx, verifierID)
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return Decision{Reason: ReasonProfileMissing}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	if !profile.Effective() {
		return Decision{Reason: ReasonProfileIneffective}, nil
	}

	level, err := s.trustLevels.TrustLevel(ctx, verifierID)
	if err != nil {
		return Decision{}, err
	}
	if level < domain.LevelMinimal {
		return Decision{Reason: ReasonVerifierBelowMinimal}, nil
	}

	if profile.CredentialCheckStale(now, s.credentialCacheTTL) {
		profile, err = s.refreshCredentials(ctx, profile, now)
		if err != nil {
			return Decision{}, err
		}
	}

	if profile.HasAnyAutoQualifyingCredential() {
		return Decision{Allowed: true, Reason: ReasonAutoQualified}, nil
	}
	if profile.AttestedCount >= TrustedVerifierMinAttestations && profile.Rating >= MinRatingForTrustedOrLeader {
		return Decision{Allowed: true, Reason: ReasonTrustedVerifier}, nil
	}
	if profile.Credentials[domain.CredentialCommunityLeader] && profile.Rating >= MinRatingForTrustedOrLeader {
		return Decision{Allowed: true, Reason: ReasonCommunityLeader}, nil
	}
	return Decision{Reason: ReasonInsufficientStanding}, nil
}

// AuthorizeTwoParty evaluates both verifier slots of an in-person
// two-party attempt, additionally enforcing the distinctness invariant
// that the two verifiers are not the same principal (spec.md §4.3).
func (s *Service) AuthorizeTwoParty(ctx context.Context, verifierA, verifierB, subjectID string, now time.Time) (a, b Decision, err error) {
	if verifierA == verifierB {
		d := Decision{Reason: ReasonDuplicateParty}
		return d, d, nil
	}
	a, err = s.Authorize(ctx, verifierA, subjectID, now)
	if err != nil {
		return Decision{}, Decision{}, err
	}
	b, err = s.Authorize(ctx, verifierB, subjectID, now)
	if err != nil {
		return Decision{}, Decision{}, err
	}
	return a, b, nil
}

// refreshCredentials rechecks a verifier's credentials with the external
// system, deduplicating via singleflight (process-local) and RecheckGate
// (cross-process), then persists the result. When another caller already
// owns the recheck, the cached profile is returned unchanged.
func (s *Service) refreshCredentials(ctx context.Context, profile domain.VerifierProfile, now time.Time) (domain.VerifierProfile, error) {
	result, err, _ := s.group.Do(profile.PrincipalID, func() (any, error) {
		acquired, gateErr := s.recheckGate.Acquire(ctx, profile.PrincipalID, s.credentialCacheTTL)
		if gateErr != nil {
			return nil, gateErr
		}
		if !acquired {
			return profile, nil
		}

		creds, checkErr := s.credentialChecker.CheckCredentials(ctx, profile.PrincipalID)
		if checkErr != nil {
			return nil, apperrors.Wrap(checkErr, apperrors.ErrorTypeNetwork, "credential check failed")
		}

		updated := profile
		updated.Credentials = creds
		updated.AutoQualified = hasAutoQualifying(creds)
		updated.LastCredentialCheckAt = now
		if upsertErr := s.store.UpsertVerifierProfile(ctx, updated); upsertErr != nil {
			return nil, upsertErr
		}
		return updated, nil
	})
	if err != nil {
		return domain.VerifierProfile{}, err
	}
	return result.(domain.VerifierProfile), nil
}

// RevokeVerifier withdraws a principal's standing to act as a verifier,
// recording who revoked it and why. Revocation never removes the
// profile's attestation/rating history, only its current eligibility
// (domain.VerifierProfile.Effective) and the reviewable audit trail.
// Idempotent: revoking an already-revoked profile re-records the event
// but leaves the original RevokedAt/RevokedBy untouched, matching
// append-only audit semantics elsewhere in the engine.
func (s *Service) RevokeVerifier(ctx context.Context, principalID, reason, revokedBy string, now time.Time) error {
	profile, err := s.store.GetVerifierProfile(ctx, principalID)
	if err != nil {
		return err
	}

	alreadyRevoked := profile.Revoked
	profile.Revoked = true
	profile.RevokedReason = reason
	if !alreadyRevoked {
		profile.RevokedAt = now
		profile.RevokedBy = revokedBy
	}
	if err := s.store.UpsertVerifierProfile(ctx, profile); err != nil {
		return err
	}

	return s.store.RecordEvent(ctx, domain.AuditEvent{
		EventID:    uuid.NewString(),
		SubjectID:  principalID,
		Kind:       domain.EventVerifierRevoked,
		ActorID:    revokedBy,
		Data:       map[string]any{"reason": reason, "already_revoked": alreadyRevoked},
		OccurredAt: now,
	})
}

func hasAutoQualifying(creds map[domain.Credential]bool) bool {
	for c, ok := range creds {
		if ok && domain.AutoQualifyingCredentials[c] {
			return true
		}
	}
	return false
}
