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

// Package orchestrator implements the long-lived per-subject workflow of
// spec.md §4.6: one goroutine per subject, a channel-based inbox for
// signals and queries, a static signal-name-to-handler dispatch table
// (spec.md §9 "decorator-marked handlers become a dispatch table"), and an
// in-process continue-as-new discipline keyed on an iteration counter.
package orchestrator

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/notification"
	"github.com/communitytrust/verification/pkg/scoring"
	"github.com/communitytrust/verification/pkg/verification/activities"
	"github.com/communitytrust/verification/pkg/verification/authz"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/metrics"
	"github.com/communitytrust/verification/pkg/verification/saga"
	"github.com/communitytrust/verification/pkg/verification/store"
)

// validate is stateless and safe for concurrent use across every
// instance, per go-playground/validator's documented contract.
var validate = validator.New()

// Deadlines holds the per-method deadline configuration (spec.md §4.3).
type Deadlines struct {
	EmailPhone   time.Duration
	GovernmentID time.Duration
	TwoParty     time.Duration
}

// Config is the operational configuration for one orchestrator instance.
type Config struct {
	Deadlines            Deadlines
	ExpirySweepInterval  time.Duration
	ContinueAsNewAfter   int
	MaxWrongCodeAttempts int
	QrTokenTTL           time.Duration
}

// Deps bundles the out-of-process collaborators every instance shares.
// Metrics may be nil (e.g. in tests that don't care to assert on it); every
// call site guards against that.
type Deps struct {
	Store       store.Store
	Authz       *authz.Service
	Activities  *activities.Activities
	Compensator *saga.Compensator
	Metrics     *metrics.Metrics
	Logger      logr.Logger
	Now         func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Instance is one subject's long-lived orchestrator. It is the single
// writer of its own TrustState; the only external interaction point is
// its signals/queries channels.
type Instance struct {
	subject domain.Subject
	state   *domain.TrustState
	cfg     Config
	deps    Deps

	signals chan Signal
	queries chan queryRequest
	done    chan struct{}
}

// NewInstance constructs a fresh orchestrator instance for subject,
// starting from an empty TrustState.
func NewInstance(subject domain.Subject, cfg Config, deps Deps) *Instance {
	return newInstanceWithState(subject, domain.NewTrustState(subject.ID, subject.Kind), cfg, deps)
}

// ResumeInstance reconstructs an orchestrator instance from a prior
// continue-as-new snapshot (spec.md §9).
func ResumeInstance(snapshot domain.Snapshot, cfg Config, deps Deps) *Instance {
	subject := domain.Subject{ID: snapshot.SubjectID, Kind: snapshot.SubjectKind}
	return newInstanceWithState(subject, domain.FromSnapshot(snapshot), cfg, deps)
}

func newInstanceWithState(subject domain.Subject, state *domain.TrustState, cfg Config, deps Deps) *Instance {
	return &Instance{
		subject: subject,
		state:   state,
		cfg:     cfg,
		deps:    deps,
		signals: make(chan Signal, 16),
		queries: make(chan queryRequest, 16),
		done:    make(chan struct{}),
	}
}

// Snapshot captures the instance's current state, e.g. for inspection or
// to force an out-of-band continue-as-new.
func (inst *Instance) Snapshot() domain.Snapshot {
	return domain.ToSnapshot(inst.state)
}

// Signal enqueues one inbound signal and blocks until it is processed,
// returning whatever error the handler produced (nil on success or a
// no-op/idempotent replay).
func (inst *Instance) Signal(ctx context.Context, sig Signal) error {
	select {
	case inst.signals <- sig:
	case <-ctx.Done():
		return ctx.Err()
	case <-inst.done:
		return apperrors.NewConflictError("orchestrator instance has terminated")
	}
	select {
	case err := <-sig.Result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query performs one non-blocking, read-only query against the instance's
// current state.
func (inst *Instance) Query(ctx context.Context, kind QueryKind) (QueryResult, error) {
	req := queryRequest{kind: kind, result: make(chan QueryResult, 1)}
	select {
	case inst.queries <- req:
	case <-ctx.Done():
		return QueryResult{}, ctx.Err()
	case <-inst.done:
		return QueryResult{}, apperrors.NewConflictError("orchestrator instance has terminated")
	}
	select {
	case r := <-req.result:
		return r, nil
	case <-ctx.Done():
		return QueryResult{}, ctx.Err()
	}
}

// Run drives the instance's main loop until ctx is cancelled or a
// terminate signal is processed. It is meant to run on its own goroutine,
// started by a Manager.
func (inst *Instance) Run(ctx context.Context) {
	defer close(inst.done)

	var sweepTicker *time.Ticker
	var sweepC <-chan time.Time
	if inst.cfg.ExpirySweepInterval > 0 {
		sweepTicker = time.NewTicker(inst.cfg.ExpirySweepInterval)
		defer sweepTicker.Stop()
		sweepC = sweepTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-inst.signals:
			terminate := inst.handleSignal(ctx, sig)
			inst.afterIteration(ctx)
			if terminate {
				return
			}
		case req := <-inst.queries:
			req.result <- inst.handleQuery(req.kind)
		case now := <-sweepC:
			inst.runExpirySweep(ctx, now)
		}
	}
}

// afterIteration advances the continue-as-new counter and triggers it
// once the configured threshold is reached (spec.md §9).
func (inst *Instance) afterIteration(ctx context.Context) {
	inst.state.IterationCounter++
	if inst.cfg.ContinueAsNewAfter > 0 && inst.state.IterationCounter >= inst.cfg.ContinueAsNewAfter {
		inst.continueAsNew(ctx)
	}
}

// continueAsNew persists a fresh snapshot and resets the iteration
// counter. Since this orchestrator has no separate workflow-history
// engine underneath it, continue-as-new is simulated in process: the
// TrustState itself is unchanged, only the counter resets, and an audit
// event records the boundary so external log consumers can see it.
func (inst *Instance) continueAsNew(ctx context.Context) {
	inst.state.IterationCounter = 0
	_ = inst.recordEvent(ctx, domain.EventOrchestratorStarted, "", domain.Method(""), "", map[string]any{
		"reason": "continue_as_new",
	})
	inst.deps.Logger.Info("continue-as-new", "subject_id", inst.subject.ID)
}

func (inst *Instance) recordEvent(ctx context.Context, kind domain.AuditEventKind, actorID string, method domain.Method, attemptID string, data map[string]any) error {
	return activities.Do(ctx, activities.StoreWriteRetryPolicy, func(ctx context.Context) error {
		return inst.deps.Store.RecordEvent(ctx, domain.AuditEvent{
			EventID:                uuid.NewString(),
			SubjectID:              inst.subject.ID,
			Kind:                   kind,
			ActorID:                actorID,
			Method:                 method,
			AttemptID:              attemptID,
			Data:                   data,
			OccurredAt:             inst.deps.now(),
			OrchestratorInstanceID: inst.subject.ID,
		})
	})
}

func (inst *Instance) handleQuery(kind QueryKind) QueryResult {
	now := inst.deps.now()
	active := inst.state.ActiveCompletions(now)
	score := scoring.ScoreFromCompletions(inst.subject.Kind, active)
	level := scoring.LevelFor(score)

	result := QueryResult{}
	switch kind {
	case QueryTrustScore:
		result.TrustScore = score
	case QueryLevel:
		result.Level = level
	case QueryCompletedMethods:
		result.CompletedMethods = completionsSlice(inst.state.Completions)
	case QueryNextLevelInfo:
		result.NextLevelInfo = scoring.NextLevelInfoFor(inst.subject.Kind, score, active)
	case QueryActiveAttempts:
		result.ActiveAttempts = attemptsSlice(inst.state.ActiveAttempts)
	case QueryComposite:
		result = QueryResult{
			TrustScore:       score,
			Level:            level,
			CompletedMethods: completionsSlice(inst.state.Completions),
			NextLevelInfo:    scoring.NextLevelInfoFor(inst.subject.Kind, score, active),
			ActiveAttempts:   attemptsSlice(inst.state.ActiveAttempts),
		}
	}
	return result
}

func completionsSlice(m map[domain.Method]domain.MethodCompletion) []domain.MethodCompletion {
	out := make([]domain.MethodCompletion, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func attemptsSlice(m map[string]domain.VerificationAttempt) []domain.VerificationAttempt {
	out := make([]domain.VerificationAttempt, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out
}

// runExpirySweep retracts every completion whose decay window has
// elapsed, recomputing level and notifying on any resulting downgrade.
func (inst *Instance) runExpirySweep(ctx context.Context, now time.Time) {
	before := inst.state.Level
	changed := false
	for method, c := range inst.state.Completions {
		if c.Revoked || c.ExpiresAt == nil || c.ExpiresAt.After(now) {
			continue
		}
		c.Revoked = true
		c.RevokedReason = "decayed"
		inst.state.Completions[method] = c
		changed = true
		_ = inst.recordEvent(ctx, domain.EventExpired, "", method, "", nil)
	}
	inst.state.LastExpirySweepAt = now
	if !changed {
		return
	}
	inst.recomputeAndNotifyLevel(ctx, before)
}

func (inst *Instance) recomputeAndNotifyLevel(ctx context.Context, before domain.Level) {
	now := inst.deps.now()
	active := inst.state.ActiveCompletions(now)
	score := scoring.ScoreFromCompletions(inst.subject.Kind, active)
	after := scoring.LevelFor(score)
	inst.state.TrustScore = score
	inst.state.Level = after
	if after == before {
		return
	}
	if inst.deps.Metrics != nil {
		inst.deps.Metrics.LevelChangesTotal.WithLabelValues(before.String(), after.String()).Inc()
	}
	_ = inst.recordEvent(ctx, domain.EventLevelChanged, "", domain.Method(""), "", map[string]any{
		"from": before.String(),
		"to":   after.String(),
	})
	_ = inst.deps.Activities.Notify(ctx, notification.Message{
		SubjectID: inst.subject.ID,
		Kind:      notification.KindLevelChange,
		Subject:   "Your trust level changed",
		Body:      after.String(),
		Data:      map[string]string{"from": before.String(), "to": after.String()},
	})
}
