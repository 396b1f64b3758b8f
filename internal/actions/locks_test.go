package actions_test

import (
	"context"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/nicholas-fedor/imagekeeper/internal/actions"
)

var _ = ginkgo.Describe("the container locks", func() {
	var locks *actions.Locks

	ginkgo.BeforeEach(func() {
		locks = actions.NewLocks()
	})

	ginkgo.It("lets one holder in per key", func() {
		release, err := locks.Acquire(context.Background(), "web-1")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		_, err = locks.TryAcquire("web-1")
		gomega.Expect(err).To(gomega.MatchError(actions.ErrBusy))

		other, err := locks.TryAcquire("db-1")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		other()

		release()

		again, err := locks.TryAcquire("web-1")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		again()
	})

	ginkgo.It("wakes a waiter when the holder releases", func() {
		release, err := locks.Acquire(context.Background(), "web-1")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		acquired := make(chan struct{})

		go func() {
			defer ginkgo.GinkgoRecover()

			next, err := locks.Acquire(context.Background(), "web-1")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			close(acquired)
			next()
		}()

		gomega.Consistently(acquired, 50*time.Millisecond).ShouldNot(gomega.BeClosed())
		release()
		gomega.Eventually(acquired).Should(gomega.BeClosed())
	})

	ginkgo.It("stops waiting when the context ends", func() {
		release, err := locks.Acquire(context.Background(), "web-1")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err = locks.Acquire(ctx, "web-1")
		gomega.Expect(err).To(gomega.MatchError(context.DeadlineExceeded))
	})

	ginkgo.It("drops entries once nobody references them", func() {
		release, err := locks.Acquire(context.Background(), "web-1")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		_, err = locks.TryAcquire("web-1")
		gomega.Expect(err).To(gomega.HaveOccurred())
		gomega.Expect(locks.Len()).To(gomega.Equal(1))

		release()
		release()
		gomega.Expect(locks.Len()).To(gomega.BeZero())
	})
})
