package ratelimit_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/murmurhq/murmur/pkg/ratelimit"
)

var _ = Describe("MemoryLimiter", func() {
	ctx := context.Background()

	It("allows up to the limit within a window", func() {
		l := ratelimit.NewMemoryLimiter(3, time.Minute)
		for i := 0; i < 3; i++ {
			ok, err := l.Allow(ctx, "ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		}
		ok, err := l.Allow(ctx, "ada")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("tracks users independently", func() {
		l := ratelimit.NewMemoryLimiter(1, time.Minute)
		ok, _ := l.Allow(ctx, "ada")
		Expect(ok).To(BeTrue())
		ok, _ = l.Allow(ctx, "ada")
		Expect(ok).To(BeFalse())
		ok, _ = l.Allow(ctx, "grace")
		Expect(ok).To(BeTrue())
	})

	It("resets when the window rolls over", func() {
		l := ratelimit.NewMemoryLimiter(1, 10*time.Millisecond)
		ok, _ := l.Allow(ctx, "ada")
		Expect(ok).To(BeTrue())
		ok, _ = l.Allow(ctx, "ada")
		Expect(ok).To(BeFalse())

		Eventually(func() bool {
			ok, _ := l.Allow(ctx, "ada")
			return ok
		}, "200ms", "10ms").Should(BeTrue())
	})
})
