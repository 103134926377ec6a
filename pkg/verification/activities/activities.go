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

// Package activities wraps the orchestrator's notification delivery,
// document scanning and verifier credential checks with a circuit breaker
// and bounded retry/backoff, so a flaky dependency degrades gracefully
// instead of stalling a subject's orchestrator instance. Store writes get
// the retry/backoff runner (Do with StoreWriteRetryPolicy) but no circuit
// breaker. Activities are invoked
// through a bounded worker pool so a burst of subjects running the same
// method at once can't overrun a downstream dependency.
package activities

import (
	"context"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/notification"
	"github.com/communitytrust/verification/pkg/verification/domain"
)

// DocumentMetadata is the result of scanning an uploaded government-ID
// document: format/size/readability only, never the document contents
// itself (spec.md §1 Non-goals: biometric matching out of scope).
type DocumentMetadata struct {
	Format   string
	SizeBytes int64
	Readable bool
}

// DocumentScanner validates an uploaded document's metadata ahead of
// enqueueing a government_id attempt for human review.
type DocumentScanner interface {
	Scan(ctx context.Context, documentHandle string) (DocumentMetadata, error)
}

// CredentialRegistry is the external system of record for a verifier's
// professional credentials (notary/attorney/government-official/
// community-leader registries, spec.md §4.4). It is distinct from
// authz.CredentialChecker only in that it talks to the network; the
// Activities adapter below implements authz.CredentialChecker by
// wrapping a CredentialRegistry with retry and circuit-breaking.
type CredentialRegistry interface {
	Lookup(ctx context.Context, principalID string) (map[domain.Credential]bool, error)
}

// Pool bounds how many activities may run concurrently, so a burst of
// subjects invoking the same activity at once can't overwhelm a
// downstream dependency. Grounded on kubernaut's pervasive
// context-scoped bounded-concurrency idiom, expressed here with
// errgroup's SetLimit rather than a hand-rolled semaphore channel.
type Pool struct {
	maxConcurrency int
}

// NewPool constructs a Pool with the given concurrency bound.
func NewPool(maxConcurrency int) *Pool {
	return &Pool{maxConcurrency: maxConcurrency}
}

// Run executes every fn, bounded to the pool's concurrency limit,
// returning the first error encountered (errgroup.Group semantics); the
// remaining in-flight calls run to completion, matching errgroup's
// documented behavior, since activities are not expected to have
// externally visible side effects worth aborting mid-flight.
func (p *Pool) Run(ctx context.Context, fns ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			return fn(gctx)
		})
	}
	return g.Wait()
}

// Activities bundles every out-of-process adapter behind retry and
// circuit-breaker wrapping.
type Activities struct {
	notifier    notification.Notifier
	scanner     DocumentScanner
	credentials CredentialRegistry

	notifierBreaker    *gobreaker.CircuitBreaker[any]
	scannerBreaker     *gobreaker.CircuitBreaker[any]
	credentialsBreaker *gobreaker.CircuitBreaker[any]
}

// New constructs an Activities bundle. Any of notifier/scanner/
// credentials may be nil if the caller never exercises that activity
// (useful in tests exercising only a subset of the orchestrator).
func New(notifier notification.Notifier, scanner DocumentScanner, credentials CredentialRegistry) *Activities {
	return &Activities{
		notifier:           notifier,
		scanner:            scanner,
		credentials:        credentials,
		notifierBreaker:    newBreaker("notifier"),
		scannerBreaker:     newBreaker("document-scanner"),
		credentialsBreaker: newBreaker("credential-registry"),
	}
}

// Notify delivers one notification, retrying transient failures.
func (a *Activities) Notify(ctx context.Context, msg notification.Message) error {
	return Do(ctx, DefaultActivityRetryPolicy, func(ctx context.Context) error {
		_, err := withBreaker(a.notifierBreaker, func() (struct{}, error) {
			return struct{}{}, a.notifier.Deliver(ctx, msg)
		})
		return err
	})
}

// ScanDocument validates an uploaded document's metadata, retrying
// transient scanner failures.
func (a *Activities) ScanDocument(ctx context.Context, documentHandle string) (DocumentMetadata, error) {
	var result DocumentMetadata
	err := Do(ctx, DefaultActivityRetryPolicy, func(ctx context.Context) error {
		r, err := withBreaker(a.scannerBreaker, func() (DocumentMetadata, error) {
			return a.scanner.Scan(ctx, documentHandle)
		})
		result = r
		return err
	})
	return result, err
}

// CheckCredentials implements authz.CredentialChecker: it looks up a
// verifier's current credentials in the external registry, wrapped in
// retry and circuit-breaking. authz.Service calls this at most once per
// 24h per verifier (enforced by its own RecheckGate), so the breaker and
// retry wrapping here are about surviving one flaky call, not load
// shedding a hot path.
func (a *Activities) CheckCredentials(ctx context.Context, principalID string) (map[domain.Credential]bool, error) {
	var result map[domain.Credential]bool
	err := Do(ctx, DefaultActivityRetryPolicy, func(ctx context.Context) error {
		r, err := withBreaker(a.credentialsBreaker, func() (map[domain.Credential]bool, error) {
			return a.credentials.Lookup(ctx, principalID)
		})
		result = r
		return err
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "credential registry lookup failed")
	}
	return result, nil
}
