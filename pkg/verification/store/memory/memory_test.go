package memory_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/communitytrust/verification/internal/errors"
	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/store"
	"github.com/communitytrust/verification/pkg/verification/store/memory"
)

var _ = Describe("Memory store", func() {
	var (
		ctx context.Context
		s   *memory.Store
		now time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = memory.New()
		now = time.Now()
	})

	Describe("Completions", func() {
		It("should replace rather than duplicate the active completion for a method", func() {
			c1, _ := domain.NewCompletion("subj-1", domain.MethodEmailCode, 1, now, "attempt-1", nil)
			c2, _ := domain.NewCompletion("subj-1", domain.MethodEmailCode, 1, now.Add(time.Hour), "attempt-2", nil)

			Expect(s.UpsertCompletion(ctx, c1)).To(Succeed())
			Expect(s.UpsertCompletion(ctx, c2)).To(Succeed())

			list, err := s.ListCompletions(ctx, "subj-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].SourceVerificationID).To(Equal("attempt-2"))
		})

		It("should mark a completion revoked without removing it", func() {
			c, _ := domain.NewCompletion("subj-1", domain.MethodGovernmentID, 1, now, "attempt-1", nil)
			Expect(s.UpsertCompletion(ctx, c)).To(Succeed())
			Expect(s.RetractCompletion(ctx, "subj-1", domain.MethodGovernmentID, "verifier unauthorized")).To(Succeed())

			list, _ := s.ListCompletions(ctx, "subj-1")
			Expect(list).To(HaveLen(1))
			Expect(list[0].Revoked).To(BeTrue())
			Expect(list[0].RevokedReason).To(Equal("verifier unauthorized"))
		})

		It("should be a no-op when retracting a completion that doesn't exist", func() {
			Expect(s.RetractCompletion(ctx, "ghost", domain.MethodEmailCode, "n/a")).To(Succeed())
		})

		It("should list completions expiring before a cutoff", func() {
			c, _ := domain.NewCompletion("subj-1", domain.MethodEmailCode, 1, now, "attempt-1", nil)
			Expect(s.UpsertCompletion(ctx, c)).To(Succeed())

			soon, err := s.ListExpiringCompletions(ctx, now.AddDate(1, 0, 1))
			Expect(err).ToNot(HaveOccurred())
			Expect(soon).To(HaveLen(1))

			none, err := s.ListExpiringCompletions(ctx, now.AddDate(0, 0, 1))
			Expect(err).ToNot(HaveOccurred())
			Expect(none).To(BeEmpty())
		})
	})

	Describe("Attempts", func() {
		It("should return a NotFound AppError for an unknown attempt id", func() {
			_, err := s.GetAttempt(ctx, "missing")
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
		})

		It("should list only non-terminal attempts for a subject", func() {
			active := domain.VerificationAttempt{AttemptID: "a1", SubjectID: "subj-1", State: domain.AttemptPending}
			done := domain.VerificationAttempt{AttemptID: "a2", SubjectID: "subj-1", State: domain.AttemptCompleted}
			Expect(s.UpsertAttempt(ctx, active)).To(Succeed())
			Expect(s.UpsertAttempt(ctx, done)).To(Succeed())

			list, err := s.ListActiveAttempts(ctx, "subj-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(HaveLen(1))
			Expect(list[0].AttemptID).To(Equal("a1"))
		})
	})

	Describe("QR token consumption (spec.md §8 scenario B: token collision)", func() {
		var tok domain.QrToken

		BeforeEach(func() {
			var err error
			tok, err = domain.GenerateQrToken("attempt-1", domain.SlotOne, now, time.Hour)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.IssueQrToken(ctx, tok)).To(Succeed())
		})

		It("should succeed exactly once when two consumers race for the same token", func() {
			const n = 20
			outcomes := make([]store.QrConsumeOutcome, n)
			var wg sync.WaitGroup
			wg.Add(n)
			for i := 0; i < n; i++ {
				i := i
				go func() {
					defer wg.Done()
					outcome, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-racer", now)
					Expect(err).ToNot(HaveOccurred())
					outcomes[i] = outcome
				}()
			}
			wg.Wait()

			okCount := 0
			for _, o := range outcomes {
				if o == store.QrConsumeOK {
					okCount++
				} else {
					Expect(o).To(Equal(store.QrConsumeAlreadyConsumedSame))
				}
			}
			Expect(okCount).To(Equal(1))
		})

		It("should report already_consumed_by_other for a different consumer", func() {
			outcome, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeOK))

			outcome2, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-b", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome2).To(Equal(store.QrConsumeAlreadyConsumedOther))
		})

		It("should report already_consumed_by_same for a retried call from the original consumer", func() {
			_, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())

			outcome, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeAlreadyConsumedSame))
		})

		It("should report expired once the validity window has passed", func() {
			outcome, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-a", now.Add(2*time.Hour))
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeExpired))
		})

		It("should report invalid for an unknown token", func() {
			outcome, _, err := s.ConsumeQrToken(ctx, "does-not-exist", "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeInvalid))
		})

		It("should report invalid once the token has been compensated away", func() {
			Expect(s.InvalidateQrTokens(ctx, "attempt-1")).To(Succeed())
			outcome, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeInvalid))
		})

		It("should not invalidate a token already consumed", func() {
			_, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.InvalidateQrTokens(ctx, "attempt-1")).To(Succeed())

			outcome, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeAlreadyConsumedSame))
		})
	})

	Describe("RevokeQrConsumption", func() {
		It("should clear consumed_by without invalidating the token", func() {
			tok, err := domain.GenerateQrToken("attempt-1", domain.SlotOne, now, time.Hour)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.IssueQrToken(ctx, tok)).To(Succeed())

			outcome, _, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-a", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(store.QrConsumeOK))

			Expect(s.RevokeQrConsumption(ctx, "attempt-1")).To(Succeed())

			outcome2, t2, err := s.ConsumeQrToken(ctx, tok.Token, "verifier-b", now)
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome2).To(Equal(store.QrConsumeOK))
			Expect(t2.ConsumedBy).To(Equal("verifier-b"))
		})

		It("should be a no-op when there is nothing to revoke", func() {
			Expect(s.RevokeQrConsumption(ctx, "no-such-attempt")).To(Succeed())
		})
	})

	Describe("Verifier profiles", func() {
		It("should return a NotFound AppError for an unknown principal", func() {
			_, err := s.GetVerifierProfile(ctx, "missing")
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
		})

		It("should round-trip a stored profile", func() {
			p := domain.VerifierProfile{PrincipalID: "verifier-1", Authorized: true, Rating: 4.5}
			Expect(s.UpsertVerifierProfile(ctx, p)).To(Succeed())

			got, err := s.GetVerifierProfile(ctx, "verifier-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal(p))
		})
	})

	Describe("Audit events", func() {
		It("should list events for a subject in occurrence order", func() {
			e1 := domain.AuditEvent{EventID: "e1", SubjectID: "subj-1", Kind: domain.EventAttemptStarted, OccurredAt: now}
			e2 := domain.AuditEvent{EventID: "e2", SubjectID: "subj-1", Kind: domain.EventPointsAwarded, OccurredAt: now.Add(time.Minute)}

			Expect(s.RecordEvent(ctx, e2)).To(Succeed())
			Expect(s.RecordEvent(ctx, e1)).To(Succeed())

			list, err := s.ListEvents(ctx, "subj-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].EventID).To(Equal("e1"))
			Expect(list[1].EventID).To(Equal("e2"))
		})

		It("should not leak events across subjects", func() {
			Expect(s.RecordEvent(ctx, domain.AuditEvent{EventID: "e1", SubjectID: "subj-1", OccurredAt: now})).To(Succeed())
			list, err := s.ListEvents(ctx, "subj-2")
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(BeEmpty())
		})
	})
})
