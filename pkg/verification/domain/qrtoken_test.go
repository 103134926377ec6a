package domain_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/communitytrust/verification/pkg/verification/domain"
)

var _ = Describe("QrToken", func() {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	Describe("GenerateQrToken", func() {
		It("should produce a URL-safe token with at least 192 bits of entropy", func() {
			tok, err := domain.GenerateQrToken("attempt-1", domain.SlotOne, now, time.Hour)
			Expect(err).ToNot(HaveOccurred())
			Expect(tok.Token).ToNot(BeEmpty())
			// base64.RawURLEncoding of 24 bytes is 32 chars, no padding.
			Expect(tok.Token).To(HaveLen(32))
		})

		It("should produce distinct tokens for slot 1 and slot 2 (spec.md §8 property 6)", func() {
			t1, err := domain.GenerateQrToken("attempt-1", domain.SlotOne, now, time.Hour)
			Expect(err).ToNot(HaveOccurred())
			t2, err := domain.GenerateQrToken("attempt-1", domain.SlotTwo, now, time.Hour)
			Expect(err).ToNot(HaveOccurred())
			Expect(t1.Token).ToNot(Equal(t2.Token))
		})
	})

	Describe("Valid", func() {
		var tok domain.QrToken

		BeforeEach(func() {
			var err error
			tok, err = domain.GenerateQrToken("attempt-1", domain.SlotOne, now, time.Hour)
			Expect(err).ToNot(HaveOccurred())
		})

		It("should be valid before expiry when unconsumed and not invalidated", func() {
			Expect(tok.Valid(now.Add(30 * time.Minute))).To(BeTrue())
		})

		It("should be invalid once expired", func() {
			Expect(tok.Valid(now.Add(2 * time.Hour))).To(BeFalse())
		})

		It("should be invalid once consumed", func() {
			tok.ConsumedBy = "verifier-1"
			Expect(tok.Valid(now)).To(BeFalse())
		})

		It("should be invalid once invalidated", func() {
			tok.Invalidated = true
			Expect(tok.Valid(now)).To(BeFalse())
		})
	})

	Describe("VerifyURI", func() {
		It("should render scheme://host/verify/{attempt_id}/{token}", func() {
			uri := domain.VerifyURI("https", "trust.example.org", "attempt-1", "abc123")
			Expect(uri).To(Equal("https://trust.example.org/verify/attempt-1/abc123"))
		})
	})
})
