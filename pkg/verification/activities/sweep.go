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

package activities

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/communitytrust/verification/internal/errors"
)

// ExpiringCompletion is one row of the 30-day expiry-sweep report: a
// completion approaching its decay deadline, joined with the attempt
// that most recently produced it so the expiry notification can point
// the subject back at how they earned it. This join is richer than
// anything store.Store's narrow per-table CRUD surface exposes, which is
// why the sweep reads through sqlx directly rather than through Store.
type ExpiringCompletion struct {
	SubjectID     string         `db:"subject_id"`
	Method        string         `db:"method"`
	PointsAwarded int            `db:"points_awarded"`
	ExpiresAt     time.Time      `db:"expires_at"`
	LastAttemptID sql.NullString `db:"last_attempt_id"`
}

// SweepActivities runs the reporting queries behind the orchestrator's
// periodic expiry sweep (spec.md §9 continue-as-new cadence; the sweep
// itself runs independently of any one subject's orchestrator instance).
type SweepActivities struct {
	db *sqlx.DB
}

// NewSweepActivities constructs a SweepActivities over an existing sqlx
// handle, owned by the caller.
func NewSweepActivities(db *sqlx.DB) *SweepActivities {
	return &SweepActivities{db: db}
}

const expiringCompletionsQuery = `
SELECT mc.subject_id, mc.method, mc.points_awarded, mc.expires_at,
       va.attempt_id AS last_attempt_id
FROM method_completions mc
LEFT JOIN LATERAL (
    SELECT attempt_id
    FROM verification_attempts va
    WHERE va.subject_id = mc.subject_id AND va.method = mc.method
    ORDER BY va.created_at DESC
    LIMIT 1
) va ON TRUE
WHERE mc.revoked = FALSE
  AND mc.expires_at IS NOT NULL
  AND mc.expires_at < $1
ORDER BY mc.expires_at
`

// ExpiringCompletions returns every active completion whose expiry falls
// before the given cutoff, for subjects the expiry sweep should notify
// ahead of a pending decay.
func (s *SweepActivities) ExpiringCompletions(ctx context.Context, before time.Time) ([]ExpiringCompletion, error) {
	var rows []ExpiringCompletion
	if err := s.db.SelectContext(ctx, &rows, expiringCompletionsQuery, before); err != nil {
		return nil, apperrors.NewDatabaseError("list expiring completions", err)
	}
	return rows, nil
}
