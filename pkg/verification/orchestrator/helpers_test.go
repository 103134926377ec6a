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

package orchestrator_test

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/communitytrust/verification/pkg/notification"
	"github.com/communitytrust/verification/pkg/verification/activities"
	"github.com/communitytrust/verification/pkg/verification/authz"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/orchestrator"
	"github.com/communitytrust/verification/pkg/verification/saga"
	"github.com/communitytrust/verification/pkg/verification/store/memory"
)

type fakeScanner struct{ readable bool }

func (f fakeScanner) Scan(context.Context, string) (activities.DocumentMetadata, error) {
	return activities.DocumentMetadata{Format: "pdf", SizeBytes: 1024, Readable: f.readable}, nil
}

type fakeCredentials struct{}

func (fakeCredentials) Lookup(context.Context, string) (map[domain.Credential]bool, error) {
	return map[domain.Credential]bool{}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *recordingNotifier) Deliver(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// testHarness bundles everything a Manager needs, with a controllable
// clock so deadline/decay behavior is deterministic in tests.
type testHarness struct {
	mgr      *orchestrator.Manager
	store    *memory.Store
	notifier *recordingNotifier
	clock    time.Time
}

func (h *testHarness) now() time.Time { return h.clock }

func newHarness() *testHarness {
	h := &testHarness{
		store:    memory.New(),
		notifier: &recordingNotifier{},
		clock:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	acts := activities.New(h.notifier, fakeScanner{readable: true}, fakeCredentials{})
	compensator := saga.NewCompensator(h.store, h.now)
	cfg := orchestrator.Config{
		Deadlines: orchestrator.Deadlines{
			EmailPhone:   time.Hour,
			GovernmentID: 72 * time.Hour,
			TwoParty:     2 * time.Hour,
		},
		ExpirySweepInterval:  0,
		ContinueAsNewAfter:   1000,
		MaxWrongCodeAttempts: 3,
		QrTokenTTL:           2 * time.Hour,
	}
	h.mgr = orchestrator.NewManager(h.store, acts, compensator, nil, logr.Discard(), cfg, h.now, acts, authz.NewAlwaysAcquireGate(), 24*time.Hour)
	return h
}

// authorizedVerifier seeds a verifier profile that Authorize will allow via
// the auto-qualifying-credential rule, with a fresh enough credential check
// that CheckCredentials is never invoked.
func (h *testHarness) authorizedVerifier(ctx context.Context, principalID string) {
	_ = h.store.UpsertVerifierProfile(ctx, domain.VerifierProfile{
		PrincipalID:           principalID,
		Authorized:            true,
		AutoQualified:         true,
		Credentials:           map[domain.Credential]bool{domain.CredentialNotary: true},
		LastCredentialCheckAt: h.clock,
	})
	completion, ok := domain.NewCompletion(principalID, domain.MethodGovernmentID, 1, h.clock, "seed", nil)
	if ok {
		_ = h.store.UpsertCompletion(ctx, completion)
	}
}
