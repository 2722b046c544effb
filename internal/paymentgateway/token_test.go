package paymentgateway_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/mazuri-stores/mazuri-api/internal/paymentgateway"
)

var _ = Describe("MemoryTokenCache", func() {
	var (
		ctx   context.Context
		cache *paymentgateway.MemoryTokenCache
	)

	BeforeEach(func() {
		ctx = context.Background()
		cache = paymentgateway.NewMemoryTokenCache()
	})

	It("misses when empty", func() {
		_, ok, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("returns a token until it expires", func() {
		Expect(cache.Set(ctx, "abc", 50*time.Millisecond)).To(Succeed())

		token, ok, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(token).To(Equal("abc"))

		Eventually(func() bool {
			_, ok, _ := cache.Get(ctx)
			return ok
		}).WithTimeout(time.Second).Should(BeFalse())
	})
})

var _ = Describe("RedisTokenCache", func() {
	var (
		ctx   context.Context
		mr    *miniredis.Miniredis
		cache *paymentgateway.RedisTokenCache
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)
		cache = paymentgateway.NewRedisTokenCache(client, "174379")
	})

	It("misses when the key is absent", func() {
		_, ok, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("stores the token under the shortcode key with a ttl", func() {
		Expect(cache.Set(ctx, "shared-token", time.Minute)).To(Succeed())

		token, ok, err := cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(token).To(Equal("shared-token"))
		Expect(mr.TTL("mpesa:oauth:174379")).To(Equal(time.Minute))

		mr.FastForward(2 * time.Minute)
		_, ok, err = cache.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("reports connection failures", func() {
		mr.Close()
		_, _, err := cache.Get(ctx)
		Expect(err).To(HaveOccurred())
	})
})
