package methodflow_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/communitytrust/verification/pkg/verification/domain"
	"github.com/communitytrust/verification/pkg/verification/methodflow"
)

var _ = Describe("Personal reference attestation flow", func() {
	var (
		now     time.Time
		attempt domain.VerificationAttempt
	)

	BeforeEach(func() {
		now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		attempt = methodflow.NewAttestationAttempt("attempt-1", "subject-1", now)
	})

	It("produces a completion on the first distinct attestation", func() {
		updated, outcome := methodflow.RecordAttestation(attempt, "attestor-1", now)
		Expect(outcome.Done).To(BeTrue())
		Expect(outcome.Completion.Count).To(Equal(1))
		Expect(updated.State).To(Equal(domain.AttemptValidating))
		Expect(updated.Attestors).To(HaveKey("attestor-1"))
	})

	It("stays open and accumulates distinct attestors", func() {
		updated, _ := methodflow.RecordAttestation(attempt, "attestor-1", now)
		updated, outcome := methodflow.RecordAttestation(updated, "attestor-2", now.Add(time.Hour))
		Expect(outcome.Done).To(BeTrue())
		Expect(outcome.Completion.Count).To(Equal(2))
		Expect(updated.State).To(Equal(domain.AttemptValidating))
	})

	It("never double-counts a repeated attestor", func() {
		updated, _ := methodflow.RecordAttestation(attempt, "attestor-1", now)
		updated, outcome := methodflow.RecordAttestation(updated, "attestor-1", now.Add(time.Hour))
		Expect(outcome.Done).To(BeFalse())
		Expect(len(updated.Attestors)).To(Equal(1))
	})

	It("clamps the awarded count at the method's max multiplier", func() {
		updated := attempt
		var outcome methodflow.Outcome
		for i := 0; i < 5; i++ {
			updated, outcome = methodflow.RecordAttestation(updated, string(rune('a'+i)), now.Add(time.Duration(i)*time.Hour))
		}
		Expect(outcome.Completion.Count).To(Equal(3))
	})

	It("rejects self-attestation", func() {
		_, outcome := methodflow.RecordAttestation(attempt, "subject-1", now)
		Expect(outcome.Done).To(BeTrue())
		Expect(outcome.Failure.Kind).To(Equal(methodflow.FailureInvalidInput))
	})
})
