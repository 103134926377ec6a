package activities_test

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/communitytrust/verification/pkg/notification"
	"github.com/communitytrust/verification/pkg/verification/activities"
	"github.com/communitytrust/verification/pkg/verification/domain"
)

type fakeNotifier struct {
	calls     int32
	failTimes int32
}

func (f *fakeNotifier) Deliver(ctx context.Context, msg notification.Message) error {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failTimes {
		return &notification.RetryableError{Cause: errors.New("temporarily unavailable")}
	}
	return nil
}

type fakeScanner struct {
	result activities.DocumentMetadata
	err    error
}

func (f *fakeScanner) Scan(ctx context.Context, handle string) (activities.DocumentMetadata, error) {
	return f.result, f.err
}

type fakeCredentialRegistry struct {
	creds map[domain.Credential]bool
	err   error
}

func (f *fakeCredentialRegistry) Lookup(ctx context.Context, principalID string) (map[domain.Credential]bool, error) {
	return f.creds, f.err
}

var _ = Describe("Activities", func() {
	It("retries a flaky notifier until it succeeds", func() {
		notifier := &fakeNotifier{failTimes: 1}
		a := activities.New(notifier, nil, nil)

		err := a.Notify(context.Background(), notification.Message{SubjectID: "subject-1", Kind: notification.KindLevelChange})
		Expect(err).NotTo(HaveOccurred())
		Expect(notifier.calls).To(Equal(int32(2)))
	})

	It("scans a document and returns its metadata", func() {
		scanner := &fakeScanner{result: activities.DocumentMetadata{Format: "pdf", SizeBytes: 1024, Readable: true}}
		a := activities.New(nil, scanner, nil)

		meta, err := a.ScanDocument(context.Background(), "doc-handle-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(meta.Format).To(Equal("pdf"))
		Expect(meta.Readable).To(BeTrue())
	})

	It("looks up verifier credentials", func() {
		registry := &fakeCredentialRegistry{creds: map[domain.Credential]bool{domain.CredentialNotary: true}}
		a := activities.New(nil, nil, registry)

		creds, err := a.CheckCredentials(context.Background(), "verifier-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(creds[domain.CredentialNotary]).To(BeTrue())
	})
})

var _ = Describe("Pool", func() {
	It("runs every function and aggregates the first error", func() {
		pool := activities.NewPool(2)
		var ran int32

		err := pool.Run(context.Background(),
			func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return nil },
			func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return errors.New("boom") },
			func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return nil },
		)
		Expect(err).To(HaveOccurred())
		Expect(ran).To(Equal(int32(3)))
	})
})
