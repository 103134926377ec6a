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

// Package postgres is the durable store.Store implementation backed by
// PostgreSQL via database/sql, with the pgx/v5 stdlib driver underneath.
// Schema migrations live in migrations/ and run through goose.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/store"
)

// uniqueViolation is the SQLSTATE code for a unique constraint violation
// (DD-010: detected via pgconn.PgError rather than lib/pq's error type).
const uniqueViolation = "23505"

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New wraps an already-opened *sql.DB. Callers are expected to have opened
// db against the "pgx" driver (see jackc/pgx/v5/stdlib).
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) UpsertCompletion(ctx context.Context, c domain.MethodCompletion) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return apperrors.NewDatabaseError("marshal completion metadata", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO method_completions
			(subject_id, method, completed_at, count, points_awarded, expires_at, metadata, source_verification_id, revoked, revoked_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NULL)
		ON CONFLICT (subject_id, method) DO UPDATE SET
			completed_at = EXCLUDED.completed_at,
			count = EXCLUDED.count,
			points_awarded = EXCLUDED.points_awarded,
			expires_at = EXCLUDED.expires_at,
			metadata = EXCLUDED.metadata,
			source_verification_id = EXCLUDED.source_verification_id,
			revoked = FALSE,
			revoked_reason = NULL
	`, c.SubjectID, string(c.Method), c.CompletedAt, c.Count, c.PointsAwarded, c.ExpiresAt, metadata, c.SourceVerificationID)
	if err != nil {
		return apperrors.NewDatabaseError("upsert completion", err)
	}
	return nil
}

func (s *Store) RetractCompletion(ctx context.Context, subjectID string, method domain.Method, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE method_completions SET revoked = TRUE, revoked_reason = $3
		WHERE subject_id = $1 AND method = $2
	`, subjectID, string(method), reason)
	if err != nil {
		return apperrors.NewDatabaseError("retract completion", err)
	}
	return nil
}

func (s *Store) ListCompletions(ctx context.Context, subjectID string) ([]domain.MethodCompletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, method, completed_at, count, points_awarded, expires_at, metadata, source_verification_id, revoked, revoked_reason
		FROM method_completions WHERE subject_id = $1 ORDER BY method
	`, subjectID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list completions", err)
	}
	defer rows.Close()
	return scanCompletions(rows)
}

func (s *Store) ListExpiringCompletions(ctx context.Context, before time.Time) ([]domain.MethodCompletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, method, completed_at, count, points_awarded, expires_at, metadata, source_verification_id, revoked, revoked_reason
		FROM method_completions
		WHERE revoked = FALSE AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
	`, before)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list expiring completions", err)
	}
	defer rows.Close()
	return scanCompletions(rows)
}

func scanCompletions(rows *sql.Rows) ([]domain.MethodCompletion, error) {
	var out []domain.MethodCompletion
	for rows.Next() {
		var (
			c             domain.MethodCompletion
			method        string
			expiresAt     sql.NullTime
			metadataBytes []byte
			revokedReason sql.NullString
		)
		if err := rows.Scan(&c.SubjectID, &method, &c.CompletedAt, &c.Count, &c.PointsAwarded, &expiresAt, &metadataBytes, &c.SourceVerificationID, &c.Revoked, &revokedReason); err != nil {
			return nil, apperrors.NewDatabaseError("scan completion row", err)
		}
		c.Method = domain.Method(method)
		if expiresAt.Valid {
			t := expiresAt.Time
			c.ExpiresAt = &t
		}
		if revokedReason.Valid {
			c.RevokedReason = revokedReason.String
		}
		if len(metadataBytes) > 0 {
			if err := json.Unmarshal(metadataBytes, &c.Metadata); err != nil {
				return nil, apperrors.NewDatabaseError("unmarshal completion metadata", err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate completion rows", err)
	}
	return out, nil
}

func (s *Store) UpsertAttempt(ctx context.Context, a domain.VerificationAttempt) error {
	attestors, err := json.Marshal(a.Attestors)
	if err != nil {
		return apperrors.NewDatabaseError("marshal attestors", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_attempts
			(attempt_id, subject_id, method, state, created_at, deadline, saga_step, document_handle, wrong_code_attempts, reviewer_id, attestors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (attempt_id) DO UPDATE SET
			state = EXCLUDED.state,
			deadline = EXCLUDED.deadline,
			saga_step = EXCLUDED.saga_step,
			document_handle = EXCLUDED.document_handle,
			wrong_code_attempts = EXCLUDED.wrong_code_attempts,
			reviewer_id = EXCLUDED.reviewer_id,
			attestors = EXCLUDED.attestors
	`, a.AttemptID, a.SubjectID, string(a.Method), string(a.State), a.CreatedAt, a.Deadline, a.SagaStep,
		nullableString(a.DocumentHandle), a.WrongCodeAttempts, nullableString(a.ReviewerID), attestors)
	if err != nil {
		return apperrors.NewDatabaseError("upsert attempt", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (s *Store) GetAttempt(ctx context.Context, attemptID string) (domain.VerificationAttempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT attempt_id, subject_id, method, state, created_at, deadline, saga_step, document_handle, wrong_code_attempts, reviewer_id, attestors
		FROM verification_attempts WHERE attempt_id = $1
	`, attemptID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VerificationAttempt{}, apperrors.NewNotFoundError("verification attempt")
	}
	if err != nil {
		return domain.VerificationAttempt{}, apperrors.NewDatabaseError("get attempt", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (domain.VerificationAttempt, error) {
	var (
		a                domain.VerificationAttempt
		method, state    string
		documentHandle   sql.NullString
		reviewerID       sql.NullString
		attestorsBytes   []byte
	)
	if err := row.Scan(&a.AttemptID, &a.SubjectID, &method, &state, &a.CreatedAt, &a.Deadline, &a.SagaStep, &documentHandle, &a.WrongCodeAttempts, &reviewerID, &attestorsBytes); err != nil {
		return domain.VerificationAttempt{}, err
	}
	a.Method = domain.Method(method)
	a.State = domain.AttemptState(state)
	if documentHandle.Valid {
		a.DocumentHandle = documentHandle.String
	}
	if reviewerID.Valid {
		a.ReviewerID = reviewerID.String
	}
	if len(attestorsBytes) > 0 {
		if err := json.Unmarshal(attestorsBytes, &a.Attestors); err != nil {
			return domain.VerificationAttempt{}, err
		}
	}
	return a, nil
}

func (s *Store) ListActiveAttempts(ctx context.Context, subjectID string) ([]domain.VerificationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attempt_id, subject_id, method, state, created_at, deadline, saga_step, document_handle, wrong_code_attempts, reviewer_id, attestors
		FROM verification_attempts
		WHERE subject_id = $1 AND state NOT IN ('completed', 'rejected', 'expired', 'revoked')
		ORDER BY attempt_id
	`, subjectID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list active attempts", err)
	}
	defer rows.Close()

	var out []domain.VerificationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan attempt row", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate attempt rows", err)
	}
	return out, nil
}

func (s *Store) IssueQrToken(ctx context.Context, t domain.QrToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qr_tokens (token, attempt_id, slot, issued_at, expires_at, consumed_by, invalidated)
		VALUES ($1, $2, $3, $4, $5, NULL, FALSE)
	`, t.Token, t.AttemptID, int(t.Slot), t.IssuedAt, t.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.NewConflictError("qr token already issued")
		}
		return apperrors.NewDatabaseError("issue qr token", err)
	}
	return nil
}

// ConsumeQrToken performs the compare-and-set as a single UPDATE statement
// guarded by `consumed_by IS NULL`: PostgreSQL's row-level locking makes
// this atomic across concurrent connections. When the UPDATE affects zero
// rows, a follow-up SELECT classifies why.
func (s *Store) ConsumeQrToken(ctx context.Context, token, consumerID string, now time.Time) (store.QrConsumeOutcome, domain.QrToken, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE qr_tokens SET consumed_by = $2
		WHERE token = $1 AND consumed_by IS NULL AND invalidated = FALSE AND expires_at > $3
		RETURNING token, attempt_id, slot, issued_at, expires_at, consumed_by, invalidated
	`, token, consumerID, now)

	t, err := scanQrToken(row)
	if err == nil {
		return store.QrConsumeOK, t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", domain.QrToken{}, apperrors.NewDatabaseError("consume qr token", err)
	}

	existing, err := s.getQrToken(ctx, token)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return store.QrConsumeInvalid, domain.QrToken{}, nil
		}
		return "", domain.QrToken{}, err
	}
	switch {
	case existing.Invalidated:
		return store.QrConsumeInvalid, existing, nil
	case !now.Before(existing.ExpiresAt):
		return store.QrConsumeExpired, existing, nil
	case existing.ConsumedBy == consumerID:
		return store.QrConsumeAlreadyConsumedSame, existing, nil
	default:
		return store.QrConsumeAlreadyConsumedOther, existing, nil
	}
}

func (s *Store) getQrToken(ctx context.Context, token string) (domain.QrToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, attempt_id, slot, issued_at, expires_at, consumed_by, invalidated
		FROM qr_tokens WHERE token = $1
	`, token)
	t, err := scanQrToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QrToken{}, apperrors.NewNotFoundError("qr token")
	}
	if err != nil {
		return domain.QrToken{}, apperrors.NewDatabaseError("get qr token", err)
	}
	return t, nil
}

func scanQrToken(row rowScanner) (domain.QrToken, error) {
	var (
		t          domain.QrToken
		slot       int
		consumedBy sql.NullString
	)
	if err := row.Scan(&t.Token, &t.AttemptID, &slot, &t.IssuedAt, &t.ExpiresAt, &consumedBy, &t.Invalidated); err != nil {
		return domain.QrToken{}, err
	}
	t.Slot = domain.Slot(slot)
	if consumedBy.Valid {
		t.ConsumedBy = consumedBy.String
	}
	return t, nil
}

func (s *Store) InvalidateQrTokens(ctx context.Context, attemptID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE qr_tokens SET invalidated = TRUE
		WHERE attempt_id = $1 AND consumed_by IS NULL
	`, attemptID)
	if err != nil {
		return apperrors.NewDatabaseError("invalidate qr tokens", err)
	}
	return nil
}

func (s *Store) RevokeQrConsumption(ctx context.Context, attemptID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE qr_tokens SET consumed_by = NULL
		WHERE attempt_id = $1 AND invalidated = FALSE AND consumed_by IS NOT NULL
	`, attemptID)
	if err != nil {
		return apperrors.NewDatabaseError("revoke qr consumption", err)
	}
	return nil
}

func (s *Store) GetVerifierProfile(ctx context.Context, principalID string) (domain.VerifierProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT principal_id, authorized, auto_qualified, credentials, attested_count, rejection_count, rating, revoked, revoked_reason, revoked_at, revoked_by, last_credential_check_at
		FROM verifier_profiles WHERE principal_id = $1
	`, principalID)

	var (
		p                 domain.VerifierProfile
		credentialsBytes  []byte
		revokedReason     sql.NullString
		revokedAt         sql.NullTime
		revokedBy         sql.NullString
		lastCredentialChk sql.NullTime
	)
	err := row.Scan(&p.PrincipalID, &p.Authorized, &p.AutoQualified, &credentialsBytes, &p.AttestedCount, &p.RejectionCount, &p.Rating, &p.Revoked, &revokedReason, &revokedAt, &revokedBy, &lastCredentialChk)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VerifierProfile{}, apperrors.NewNotFoundError("verifier profile")
	}
	if err != nil {
		return domain.VerifierProfile{}, apperrors.NewDatabaseError("get verifier profile", err)
	}
	if revokedReason.Valid {
		p.RevokedReason = revokedReason.String
	}
	if revokedAt.Valid {
		p.RevokedAt = revokedAt.Time
	}
	if revokedBy.Valid {
		p.RevokedBy = revokedBy.String
	}
	if lastCredentialChk.Valid {
		p.LastCredentialCheckAt = lastCredentialChk.Time
	}
	if len(credentialsBytes) > 0 {
		var raw map[string]bool
		if err := json.Unmarshal(credentialsBytes, &raw); err != nil {
			return domain.VerifierProfile{}, apperrors.NewDatabaseError("unmarshal credentials", err)
		}
		p.Credentials = make(map[domain.Credential]bool, len(raw))
		for k, v := range raw {
			p.Credentials[domain.Credential(k)] = v
		}
	}
	return p, nil
}

func (s *Store) UpsertVerifierProfile(ctx context.Context, p domain.VerifierProfile) error {
	rawCredentials := make(map[string]bool, len(p.Credentials))
	for k, v := range p.Credentials {
		rawCredentials[string(k)] = v
	}
	credentials, err := json.Marshal(rawCredentials)
	if err != nil {
		return apperrors.NewDatabaseError("marshal credentials", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verifier_profiles
			(principal_id, authorized, auto_qualified, credentials, attested_count, rejection_count, rating, revoked, revoked_reason, revoked_at, revoked_by, last_credential_check_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (principal_id) DO UPDATE SET
			authorized = EXCLUDED.authorized,
			auto_qualified = EXCLUDED.auto_qualified,
			credentials = EXCLUDED.credentials,
			attested_count = EXCLUDED.attested_count,
			rejection_count = EXCLUDED.rejection_count,
			rating = EXCLUDED.rating,
			revoked = EXCLUDED.revoked,
			revoked_reason = EXCLUDED.revoked_reason,
			revoked_at = EXCLUDED.revoked_at,
			revoked_by = EXCLUDED.revoked_by,
			last_credential_check_at = EXCLUDED.last_credential_check_at
	`, p.PrincipalID, p.Authorized, p.AutoQualified, credentials, p.AttestedCount, p.RejectionCount, p.Rating, p.Revoked,
		nullableString(p.RevokedReason), nullableTime(p.RevokedAt), nullableString(p.RevokedBy), nullableTime(p.LastCredentialCheckAt))
	if err != nil {
		return apperrors.NewDatabaseError("upsert verifier profile", err)
	}
	return nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func (s *Store) RecordEvent(ctx context.Context, e domain.AuditEvent) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return apperrors.NewDatabaseError("marshal audit event data", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, subject_id, kind, actor_id, method, attempt_id, data, occurred_at, orchestrator_instance_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.EventID, e.SubjectID, string(e.Kind), nullableString(e.ActorID), nullableString(string(e.Method)), nullableString(e.AttemptID), data, e.OccurredAt, nullableString(e.OrchestratorInstanceID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.NewConflictError("audit event already recorded")
		}
		return apperrors.NewDatabaseError("record audit event", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, subjectID string) ([]domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, subject_id, kind, actor_id, method, attempt_id, data, occurred_at, orchestrator_instance_id
		FROM audit_events WHERE subject_id = $1 ORDER BY occurred_at
	`, subjectID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list audit events", err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e                      domain.AuditEvent
			kind                   string
			actorID, method        sql.NullString
			attemptID, instanceID  sql.NullString
			dataBytes              []byte
		)
		if err := rows.Scan(&e.EventID, &e.SubjectID, &kind, &actorID, &method, &attemptID, &dataBytes, &e.OccurredAt, &instanceID); err != nil {
			return nil, apperrors.NewDatabaseError("scan audit event row", err)
		}
		e.Kind = domain.AuditEventKind(kind)
		if actorID.Valid {
			e.ActorID = actorID.String
		}
		if method.Valid {
			e.Method = domain.Method(method.String)
		}
		if attemptID.Valid {
			e.AttemptID = attemptID.String
		}
		if instanceID.Valid {
			e.OrchestratorInstanceID = instanceID.String
		}
		if len(dataBytes) > 0 {
			if err := json.Unmarshal(dataBytes, &e.Data); err != nil {
				return nil, apperrors.NewDatabaseError("unmarshal audit event data", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate audit event rows", err)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
