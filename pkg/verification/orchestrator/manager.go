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
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/scoring"
	"github.com/communitytrust/verification/pkg/verification/activities"
	"github.com/communitytrust/verification/pkg/verification/authz"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/metrics"
	"github.com/communitytrust/verification/pkg/verification/saga"
	"github.com/communitytrust/verification/pkg/verification/store"
)

// Manager owns one Instance per subject, lazily started and run on its own
// goroutine, and satisfies authz.TrustLevelProvider so verifier
// authorization can consult a verifier's own current level without either
// package importing the other's concrete type (spec.md §4.4).
type Manager struct {
	st          store.Store
	activitiesH *activities.Activities
	compensator *saga.Compensator
	metrics     *metrics.Metrics
	logger      logr.Logger
	cfg         Config
	now         func() time.Time

	mu        sync.Mutex
	instances map[string]*Instance
	cancels   map[string]context.CancelFunc
	authzSvc  *authz.Service
}

// NewManager builds a Manager and its shared authz.Service, wiring the
// Manager itself in as the service's TrustLevelProvider (spec.md §4.4: the
// trusted-verifier rule needs the verifier's own current level, which only
// the orchestrator can supply without a store round trip per check).
// m may be nil, in which case instances run without metrics instrumentation.
func NewManager(st store.Store, activitiesH *activities.Activities, compensator *saga.Compensator, m *metrics.Metrics, logger logr.Logger, cfg Config, now func() time.Time, checker authz.CredentialChecker, gate authz.RecheckGate, credentialCacheTTL time.Duration) *Manager {
	mgr := &Manager{
		st:          st,
		activitiesH: activitiesH,
		compensator: compensator,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
		now:         now,
		instances:   make(map[string]*Instance),
		cancels:     make(map[string]context.CancelFunc),
	}
	mgr.authzSvc = authz.NewService(st, mgr, checker, gate, credentialCacheTTL)
	return mgr
}

// TrustLevel implements authz.TrustLevelProvider by querying the named
// subject's own orchestrator instance, starting it (and hydrating from its
// stored completions and active attempts, if any) on first use.
func (m *Manager) TrustLevel(ctx context.Context, subjectID string) (domain.Level, error) {
	inst, err := m.getOrStart(ctx, subjectID, "")
	if err != nil {
		return domain.LevelUnverified, err
	}
	res, err := inst.Query(ctx, QueryLevel)
	if err != nil {
		return domain.LevelUnverified, err
	}
	return res.Level, nil
}

// Authz returns the shared authorization service, for callers (e.g. an
// HTTP layer) driving verifier_confirmation/reviewer_decision signals that
// need to authorize a verifier before sending the signal.
func (m *Manager) Authz() *authz.Service { return m.authzSvc }

// GetOrStart returns the running instance for subjectID, starting one
// (hydrated from store.ListCompletions/ListActiveAttempts if this is the
// first process to touch the subject since a restart) if none runs yet.
// kind is required only the first time a subject is seen; it is ignored on
// subsequent calls.
func (m *Manager) GetOrStart(ctx context.Context, subjectID string, kind domain.SubjectKind) (*Instance, error) {
	return m.getOrStart(ctx, subjectID, kind)
}

func (m *Manager) getOrStart(ctx context.Context, subjectID string, kind domain.SubjectKind) (*Instance, error) {
	m.mu.Lock()
	if inst, ok := m.instances[subjectID]; ok {
		m.mu.Unlock()
		return inst, nil
	}
	m.mu.Unlock()

	state, err := m.hydrate(ctx, subjectID, kind)
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Store:       m.st,
		Authz:       m.authzSvc,
		Activities:  m.activitiesH,
		Compensator: m.compensator,
		Metrics:     m.metrics,
		Logger:      m.logger,
		Now:         m.now,
	}
	inst := newInstanceWithState(domain.Subject{ID: subjectID, Kind: state.SubjectKind}, state, m.cfg, deps)

	m.mu.Lock()
	if existing, ok := m.instances[subjectID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.instances[subjectID] = inst
	m.cancels[subjectID] = cancel
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveInstances.Inc()
	}
	go inst.Run(runCtx)
	return inst, nil
}

// hydrate rebuilds a TrustState from durable storage for a subject whose
// instance is not currently resident in this process (e.g. after a
// restart), recomputing score/level from the persisted completions rather
// than trusting a stale cached value.
func (m *Manager) hydrate(ctx context.Context, subjectID string, kind domain.SubjectKind) (*domain.TrustState, error) {
	completions, err := m.st.ListCompletions(ctx, subjectID)
	if err != nil && !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, err
	}
	attempts, err := m.st.ListActiveAttempts(ctx, subjectID)
	if err != nil && !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, err
	}

	// SubjectKind is not recoverable from stored completions/attempts, only
	// from the caller. A query-only caller that has never supplied it
	// defaults to individual; any caller that knows better passes kind
	// explicitly on the first GetOrStart/Dispatch for a subject.
	resolvedKind := kind
	if resolvedKind == "" {
		resolvedKind = domain.SubjectIndividual
	}

	state := domain.NewTrustState(subjectID, resolvedKind)
	for _, c := range completions {
		state.Completions[c.Method] = c
	}
	for _, a := range attempts {
		if a.NonTerminal() {
			state.ActiveAttempts[a.AttemptID] = a
		}
	}
	score := scoring.ScoreFromCompletions(resolvedKind, state.ActiveCompletions(m.now()))
	state.TrustScore = score
	state.Level = scoring.LevelFor(score)
	return state, nil
}

// Dispatch sends one signal to subjectID's instance, starting it first if
// necessary, and blocks until it is processed.
func (m *Manager) Dispatch(ctx context.Context, subjectID string, kind domain.SubjectKind, sig Signal) error {
	inst, err := m.getOrStart(ctx, subjectID, kind)
	if err != nil {
		return err
	}
	return inst.Signal(ctx, sig)
}

// Query runs one read-only query against subjectID's instance.
func (m *Manager) Query(ctx context.Context, subjectID string, kind QueryKind) (QueryResult, error) {
	inst, err := m.getOrStart(ctx, subjectID, "")
	if err != nil {
		return QueryResult{}, err
	}
	return inst.Query(ctx, kind)
}

// Stop cancels subjectID's running instance, if any, and removes it from
// the manager. It does not block for the instance's goroutine to exit.
func (m *Manager) Stop(subjectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[subjectID]; ok {
		cancel()
	}
	if _, ok := m.instances[subjectID]; ok && m.metrics != nil {
		m.metrics.ActiveInstances.Dec()
	}
	delete(m.instances, subjectID)
	delete(m.cancels, subjectID)
}

// StopAll cancels every running instance, for graceful shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveInstances.Sub(float64(len(m.instances)))
	}
	for _, cancel := range m.cancels {
		cancel()
	}
	m.instances = make(map[string]*Instance)
	m.cancels = make(map[string]context.CancelFunc)
}
