package postgres_test

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn" // DD-010: migrated from lib/pq to pgconn for SQLSTATE checks
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/store"
	"github.com/communitytrust/verification/pkg/verification/store/postgres"
)

var _ = Describe("Postgres store", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
		s      *postgres.Store
		now    time.Time
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		s = postgres.New(mockDB, zap.NewNop())
		ctx = context.Background()
		now = time.Now()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("UpsertCompletion", func() {
		It("should issue an upsert and return no error", func() {
			c, _ := domain.NewCompletion("subj-1", domain.MethodEmailCode, 1, now, "attempt-1", map[string]string{"k": "v"})

			mock.ExpectExec(`INSERT INTO method_completions`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(s.UpsertCompletion(ctx, c)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("should wrap a database error", func() {
			c, _ := domain.NewCompletion("subj-1", domain.MethodEmailCode, 1, now, "attempt-1", nil)
			mock.ExpectExec(`INSERT INTO method_completions`).WillReturnError(sql.ErrConnDone)

			err := s.UpsertCompletion(ctx, c)
			Expect(apperrors.IsType(err, apperrors.ErrorTypeDatabase)).To(BeTrue())
		})
	})

	Describe("ListCompletions", func() {
		It("should scan rows into completions", func() {
			rows := sqlmock.NewRows([]string{"subject_id", "method", "completed_at", "count", "points_awarded", "expires_at", "metadata", "source_verification_id", "revoked", "revoked_reason"}).
				AddRow("subj-1", "email_code", now, 1, 30, nil, []byte(`{}`), "attempt-1", false, nil)

			mock.ExpectQuery(`SELECT .* FROM method_completions WHERE subject_id`).WillReturnRows(rows)

			list, err := s.ListCompletions(ctx, "subj-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Method).To(Equal(domain.MethodEmailCode))
			Expect(list[0].PointsAwarded).To(Equal(30))
		})
	})

	Describe("GetAttempt", func() {
		It("should return a NotFound AppError when no row matches", func() {
			mock.ExpectQuery(`SELECT .* FROM verification_attempts WHERE attempt_id`).WillReturnError(sql.ErrNoRows)

			_, err := s.GetAttempt(ctx, "missing")
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
		})

		It("should scan a found attempt", func() {
			rows := sqlmock.NewRows([]string{"attempt_id", "subject_id", "method", "state", "created_at", "deadline", "saga_step", "document_handle", "wrong_code_attempts", "reviewer_id", "attestors"}).
				AddRow("a1", "subj-1", "government_id", "pending", now, now.Add(time.Hour), 0, nil, 0, nil, []byte(`{}`))

			mock.ExpectQuery(`SELECT .* FROM verification_attempts WHERE attempt_id`).WillReturnRows(rows)

			a, err := s.GetAttempt(ctx, "a1")
			Expect(err).ToNot(HaveOccurred())
			Expect(a.Method).To(Equal(domain.MethodGovernmentID))
			Expect(a.State).To(Equal(domain.AttemptPending))
		})
	})

	Describe("IssueQrToken", func() {
		It("should translate a unique_violation into a Conflict AppError", func() {
			mock.ExpectExec(`INSERT INTO qr_tokens`).
				WillReturnError(&pgconn.PgError{Code: "23505"})

			err := s.IssueQrToken(ctx, domain.QrToken{Token: "tok", AttemptID: "a1", Slot: domain.SlotOne, IssuedAt: now, ExpiresAt: now.Add(time.Hour)})
			Expect(apperrors.IsType(err, apperrors.ErrorTypeConflict)).To(BeTrue())
		})
	})

	Describe("ConsumeQrToken", func() {
		It("should report ok when the UPDATE returns a row", func() {
			returning := sqlmock.NewRows([]string{"token", "attempt_id", "slot", "issued_at", "expires_at", "consumed_by", "invalidated"}).
				AddRow("tok", "a1", 1, now, now.Add(time.Hour), "verifier-a", false)

			mock.ExpectQuery(`UPDATE qr_tokens SET consumed_by`).WillReturnRows(returning)

			outcome, tok, err := s.ConsumeQrToken(ctx, "tok", "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeOK))
			Expect(tok.ConsumedBy).To(Equal("verifier-a"))
		})

		It("should classify already_consumed_by_other when the UPDATE matches zero rows", func() {
			mock.ExpectQuery(`UPDATE qr_tokens SET consumed_by`).WillReturnError(sql.ErrNoRows)

			existing := sqlmock.NewRows([]string{"token", "attempt_id", "slot", "issued_at", "expires_at", "consumed_by", "invalidated"}).
				AddRow("tok", "a1", 1, now, now.Add(time.Hour), "verifier-b", false)
			mock.ExpectQuery(`SELECT .* FROM qr_tokens WHERE token`).WillReturnRows(existing)

			outcome, _, err := s.ConsumeQrToken(ctx, "tok", "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeAlreadyConsumedOther))
		})

		It("should classify invalid when the token does not exist at all", func() {
			mock.ExpectQuery(`UPDATE qr_tokens SET consumed_by`).WillReturnError(sql.ErrNoRows)
			mock.ExpectQuery(`SELECT .* FROM qr_tokens WHERE token`).WillReturnError(sql.ErrNoRows)

			outcome, _, err := s.ConsumeQrToken(ctx, "ghost", "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeInvalid))
		})
	})

	Describe("RevokeQrConsumption", func() {
		It("should issue the clearing UPDATE and return no error", func() {
			mock.ExpectExec(`UPDATE qr_tokens SET consumed_by = NULL`).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(s.RevokeQrConsumption(ctx, "a1")).To(Succeed())
		})
	})

	Describe("GetVerifierProfile", func() {
		It("should return NotFound when absent", func() {
			mock.ExpectQuery(`SELECT .* FROM verifier_profiles WHERE principal_id`).WillReturnError(sql.ErrNoRows)

			_, err := s.GetVerifierProfile(ctx, "missing")
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
		})

		It("should decode stored credentials", func() {
			rows := sqlmock.NewRows([]string{"principal_id", "authorized", "auto_qualified", "credentials", "attested_count", "rejection_count", "rating", "revoked", "revoked_reason", "revoked_at", "revoked_by", "last_credential_check_at"}).
				AddRow("verifier-1", true, true, []byte(`{"notary":true}`), 10, 0, 4.8, false, nil, nil, nil, now)

			mock.ExpectQuery(`SELECT .* FROM verifier_profiles WHERE principal_id`).WillReturnRows(rows)

			p, err := s.GetVerifierProfile(ctx, "verifier-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(p.Credentials[domain.CredentialNotary]).To(BeTrue())
			Expect(p.HasAnyAutoQualifyingCredential()).To(BeTrue())
		})
	})
})
