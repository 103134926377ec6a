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

// Package memory is an in-memory store.Store implementation used by unit
// tests and local/dev runs of the verification service. It preserves the
// same atomicity contracts as the postgres implementation, in particular
// the compare-and-set semantics of ConsumeQrToken.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	completions map[string]map[domain.Method]domain.MethodCompletion
	attempts    map[string]domain.VerificationAttempt
	qrTokens    map[string]domain.QrToken
	verifiers   map[string]domain.VerifierProfile
	events      map[string][]domain.AuditEvent
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		completions: make(map[string]map[domain.Method]domain.MethodCompletion),
		attempts:    make(map[string]domain.VerificationAttempt),
		qrTokens:    make(map[string]domain.QrToken),
		verifiers:   make(map[string]domain.VerifierProfile),
		events:      make(map[string][]domain.AuditEvent),
	}
}

func (s *Store) UpsertCompletion(_ context.Context, c domain.MethodCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySubject, ok := s.completions[c.SubjectID]
	if !ok {
		bySubject = make(map[domain.Method]domain.MethodCompletion)
		s.completions[c.SubjectID] = bySubject
	}
	bySubject[c.Method] = c
	return nil
}

func (s *Store) RetractCompletion(_ context.Context, subjectID string, method domain.Method, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySubject, ok := s.completions[subjectID]
	if !ok {
		return nil
	}
	c, ok := bySubject[method]
	if !ok {
		return nil
	}
	c.Revoked = true
	c.RevokedReason = reason
	bySubject[method] = c
	return nil
}

func (s *Store) ListCompletions(_ context.Context, subjectID string) ([]domain.MethodCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySubject := s.completions[subjectID]
	out := make([]domain.MethodCompletion, 0, len(bySubject))
	for _, c := range bySubject {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (s *Store) ListExpiringCompletions(_ context.Context, before time.Time) ([]domain.MethodCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MethodCompletion
	for _, bySubject := range s.completions {
		for _, c := range bySubject {
			if c.Revoked || c.ExpiresAt == nil {
				continue
			}
			if c.ExpiresAt.Before(before) {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (s *Store) UpsertAttempt(_ context.Context, a domain.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.AttemptID] = a
	return nil
}

func (s *Store) GetAttempt(_ context.Context, attemptID string) (domain.VerificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return domain.VerificationAttempt{}, apperrors.NewNotFoundError("verification attempt")
	}
	return a, nil
}

func (s *Store) ListActiveAttempts(_ context.Context, subjectID string) ([]domain.VerificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VerificationAttempt
	for _, a := range s.attempts {
		if a.SubjectID == subjectID && a.NonTerminal() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptID < out[j].AttemptID })
	return out, nil
}

func (s *Store) IssueQrToken(_ context.Context, t domain.QrToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qrTokens[t.Token] = t
	return nil
}

// ConsumeQrToken performs the compare-and-set under the store's single
// mutex: this is the in-memory analogue of the postgres implementation's
// `UPDATE ... WHERE consumed_by IS NULL` single-statement CAS.
func (s *Store) ConsumeQrToken(_ context.Context, token, consumerID string, now time.Time) (store.QrConsumeOutcome, domain.QrToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.qrTokens[token]
	if !ok {
		return store.QrConsumeInvalid, domain.QrToken{}, nil
	}
	if t.Invalidated {
		return store.QrConsumeInvalid, t, nil
	}
	if !now.Before(t.ExpiresAt) {
		return store.QrConsumeExpired, t, nil
	}
	if t.ConsumedBy != "" {
		if t.ConsumedBy == consumerID {
			return store.QrConsumeAlreadyConsumedSame, t, nil
		}
		return store.QrConsumeAlreadyConsumedOther, t, nil
	}

	t.ConsumedBy = consumerID
	s.qrTokens[token] = t
	return store.QrConsumeOK, t, nil
}

func (s *Store) InvalidateQrTokens(_ context.Context, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.qrTokens {
		if t.AttemptID == attemptID && t.ConsumedBy == "" {
			t.Invalidated = true
			s.qrTokens[k] = t
		}
	}
	return nil
}

func (s *Store) RevokeQrConsumption(_ context.Context, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.qrTokens {
		if t.AttemptID == attemptID && !t.Invalidated && t.ConsumedBy != "" {
			t.ConsumedBy = ""
			s.qrTokens[k] = t
		}
	}
	return nil
}

func (s *Store) GetVerifierProfile(_ context.Context, principalID string) (domain.VerifierProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.verifiers[principalID]
	if !ok {
		return domain.VerifierProfile{}, apperrors.NewNotFoundError("verifier profile")
	}
	return p, nil
}

func (s *Store) UpsertVerifierProfile(_ context.Context, p domain.VerifierProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifiers[p.PrincipalID] = p
	return nil
}

func (s *Store) RecordEvent(_ context.Context, e domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.SubjectID] = append(s.events[e.SubjectID], e)
	return nil
}

func (s *Store) ListEvents(_ context.Context, subjectID string) ([]domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEvent, len(s.events[subjectID]))
	copy(out, s.events[subjectID])
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

var _ store.Store = (*Store)(nil)
