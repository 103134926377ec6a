package domain_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/communitytrust/verification/pkg/verification/domain"
)

var _ = Describe("Attempt state machine", func() {
	Describe("IsTerminal", func() {
		DescribeTable("should correctly identify terminal vs non-terminal states",
			func(s domain.AttemptState, expected bool) {
				Expect(domain.IsTerminal(s)).To(Equal(expected))
			},
			Entry("pending is not terminal", domain.AttemptPending, false),
			Entry("awaiting_parties is not terminal", domain.AttemptAwaitingParties, false),
			Entry("validating is not terminal", domain.AttemptValidating, false),
			Entry("completed is terminal", domain.AttemptCompleted, true),
			Entry("rejected is terminal", domain.AttemptRejected, true),
			Entry("expired is terminal", domain.AttemptExpired, true),
			Entry("revoked is terminal", domain.AttemptRevoked, true),
		)
	})

	Describe("CanTransition", func() {
		DescribeTable("should validate state machine edges from spec.md §4.6",
			func(from, to domain.AttemptState, allowed bool) {
				Expect(domain.CanTransition(from, to)).To(Equal(allowed))
			},
			Entry("pending -> awaiting_parties: allowed", domain.AttemptPending, domain.AttemptAwaitingParties, true),
			Entry("pending -> validating: allowed (single-party methods)", domain.AttemptPending, domain.AttemptValidating, true),
			Entry("pending -> completed: NOT allowed", domain.AttemptPending, domain.AttemptCompleted, false),
			Entry("awaiting_parties -> validating: allowed", domain.AttemptAwaitingParties, domain.AttemptValidating, true),
			Entry("awaiting_parties -> expired: allowed (timeout)", domain.AttemptAwaitingParties, domain.AttemptExpired, true),
			Entry("awaiting_parties -> rejected: allowed (compensated)", domain.AttemptAwaitingParties, domain.AttemptRejected, true),
			Entry("validating -> completed: allowed", domain.AttemptValidating, domain.AttemptCompleted, true),
			Entry("validating -> rejected: allowed (invalid)", domain.AttemptValidating, domain.AttemptRejected, true),
			Entry("validating -> pending: NOT allowed", domain.AttemptValidating, domain.AttemptPending, false),
			Entry("completed -> revoked: allowed", domain.AttemptCompleted, domain.AttemptRevoked, true),
			Entry("completed -> expired: allowed (decay)", domain.AttemptCompleted, domain.AttemptExpired, true),
			Entry("completed -> rejected: NOT allowed", domain.AttemptCompleted, domain.AttemptRejected, false),
			Entry("rejected -> anything: NOT allowed (terminal)", domain.AttemptRejected, domain.AttemptCompleted, false),
			Entry("revoked -> anything: NOT allowed (terminal)", domain.AttemptRevoked, domain.AttemptCompleted, false),
		)
	})

	Describe("Transition", func() {
		It("should mutate state on an allowed transition", func() {
			a := &domain.VerificationAttempt{State: domain.AttemptPending}
			Expect(a.Transition(domain.AttemptAwaitingParties)).To(BeTrue())
			Expect(a.State).To(Equal(domain.AttemptAwaitingParties))
		})

		It("should leave state untouched on a disallowed transition", func() {
			a := &domain.VerificationAttempt{State: domain.AttemptRejected}
			Expect(a.Transition(domain.AttemptCompleted)).To(BeFalse())
			Expect(a.State).To(Equal(domain.AttemptRejected))
		})
	})

	Describe("NonTerminal", func() {
		It("should report true for in-flight states", func() {
			a := domain.VerificationAttempt{State: domain.AttemptValidating}
			Expect(a.NonTerminal()).To(BeTrue())
		})

		It("should report false for terminal states", func() {
			a := domain.VerificationAttempt{State: domain.AttemptCompleted}
			Expect(a.NonTerminal()).To(BeFalse())
		})
	})
})
