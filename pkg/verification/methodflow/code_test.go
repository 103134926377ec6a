package methodflow_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/methodflow"
)

var _ = Describe("Email/phone code flow", func() {
	var (
		now      time.Time
		deadline time.Time
		attempt  domain.VerificationAttempt
	)

	BeforeEach(func() {
		now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		deadline = now.Add(15 * time.Minute)
		attempt = methodflow.NewCodeAttempt("attempt-1", "subject-1", domain.MethodEmailCode, "123456", now, deadline)
	})

	It("starts in validating state awaiting a code", func() {
		Expect(attempt.State).To(Equal(domain.AttemptValidating))
	})

	It("completes on an exact code match", func() {
		updated, outcome := methodflow.SubmitCode(attempt, "123456", now.Add(time.Minute), "verification-req-1")
		Expect(updated.State).To(Equal(domain.AttemptCompleted))
		Expect(outcome.Done).To(BeTrue())
		Expect(outcome.Failure).To(BeNil())
		Expect(outcome.Completion).NotTo(BeNil())
		Expect(outcome.Completion.Method).To(Equal(domain.MethodEmailCode))
		Expect(outcome.Completion.SourceVerificationID).To(Equal("verification-req-1"))
	})

	It("increments the wrong-code counter without failing below the cap", func() {
		updated, outcome := methodflow.SubmitCode(attempt, "000000", now.Add(time.Minute), "verification-req-1")
		Expect(outcome.Done).To(BeFalse())
		Expect(updated.State).To(Equal(domain.AttemptValidating))
		Expect(updated.WrongCodeAttempts).To(Equal(1))
	})

	It("rejects the attempt once wrong submissions reach the max", func() {
		for i := 0; i < methodflow.MaxWrongCodeAttempts; i++ {
			var outcome methodflow.Outcome
			attempt, outcome = methodflow.SubmitCode(attempt, "000000", now.Add(time.Minute), "verification-req-1")
			if i < methodflow.MaxWrongCodeAttempts-1 {
				Expect(outcome.Done).To(BeFalse())
			}
		}
		Expect(attempt.State).To(Equal(domain.AttemptRejected))
		Expect(attempt.WrongCodeAttempts).To(Equal(methodflow.MaxWrongCodeAttempts))
	})

	It("expires the attempt once the deadline has elapsed", func() {
		updated, outcome := methodflow.SubmitCode(attempt, "123456", deadline.Add(time.Second), "verification-req-1")
		Expect(updated.State).To(Equal(domain.AttemptExpired))
		Expect(outcome.Done).To(BeTrue())
		Expect(outcome.Failure.Kind).To(Equal(methodflow.FailureTimeout))
	})

	It("rejects a submission when the attempt is not awaiting a code", func() {
		attempt.State = domain.AttemptCompleted
		_, outcome := methodflow.SubmitCode(attempt, "123456", now, "verification-req-1")
		Expect(outcome.Done).To(BeTrue())
		Expect(outcome.Failure.Kind).To(Equal(methodflow.FailureInvalidInput))
	})
})
