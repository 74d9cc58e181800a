package cache_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taskmesh/taskcore/internal/cache"
	"github.com/taskmesh/taskcore/internal/observability"
)

type item struct {
	ID   int64
	Name string
}

func newMiniRedisCache() (*cache.RedisCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.NewRedisCacheFromClient(client), mr
}

var _ = Describe("RedisCache", func() {
	var (
		rc *cache.RedisCache
		mr *miniredis.Miniredis
		ctx = context.Background()
	)

	BeforeEach(func() {
		rc, mr = newMiniRedisCache()
	})

	AfterEach(func() {
		Expect(rc.Close()).To(Succeed())
		mr.Close()
	})

	It("round-trips a value through Set and Get", func() {
		in := item{ID: 1, Name: "alpha"}
		Expect(rc.Set(ctx, "k1", in, time.Minute)).To(Succeed())

		var out item
		Expect(rc.Get(ctx, "k1", &out)).To(Succeed())
		Expect(out).To(Equal(in))
	})

	It("returns ErrNotFound for a missing key", func() {
		var out item
		err := rc.Get(ctx, "missing", &out)
		Expect(err).To(MatchError(cache.ErrNotFound))
	})

	It("expires a key after its TTL", func() {
		Expect(rc.Set(ctx, "k2", item{ID: 2}, time.Second)).To(Succeed())
		mr.FastForward(2 * time.Second)

		var out item
		err := rc.Get(ctx, "k2", &out)
		Expect(err).To(MatchError(cache.ErrNotFound))
	})

	It("removes a key on Delete", func() {
		Expect(rc.Set(ctx, "k3", item{ID: 3}, time.Minute)).To(Succeed())
		Expect(rc.Delete(ctx, "k3")).To(Succeed())

		var out item
		err := rc.Get(ctx, "k3", &out)
		Expect(err).To(MatchError(cache.ErrNotFound))
	})
})

var _ = Describe("MultiLevelCache", func() {
	var (
		mlc     *cache.MultiLevelCache
		rc      *cache.RedisCache
		mr      *miniredis.Miniredis
		metrics *observability.Metrics
		ctx     = context.Background()
	)

	BeforeEach(func() {
		rc, mr = newMiniRedisCache()
		metrics = observability.NewMetrics(prometheus.NewRegistry())
		var err error
		mlc, err = cache.NewMultiLevelCache(rc, cache.MultiLevelConfig{L1MaxSize: 8, DefaultTTL: time.Minute}, metrics)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(mlc.Close()).To(Succeed())
		mr.Close()
	})

	It("serves a value from L1 without touching L2 after the first Get", func() {
		in := item{ID: 7, Name: "seven"}
		Expect(mlc.Set(ctx, "k", in, time.Minute)).To(Succeed())

		var out item
		Expect(mlc.Get(ctx, "k", &out)).To(Succeed())
		Expect(out).To(Equal(in))

		mr.FlushAll() // blow away L2; L1 should still answer
		var out2 item
		Expect(mlc.Get(ctx, "k", &out2)).To(Succeed())
		Expect(out2).To(Equal(in))
	})

	It("falls through to L2 on an L1 miss and repopulates L1", func() {
		in := item{ID: 9, Name: "nine"}
		Expect(rc.Set(ctx, "direct", in, time.Minute)).To(Succeed())

		var out item
		Expect(mlc.Get(ctx, "direct", &out)).To(Succeed())
		Expect(out).To(Equal(in))

		mr.FlushAll() // blow away L2; the repopulated L1 should still answer
		var out2 item
		Expect(mlc.Get(ctx, "direct", &out2)).To(Succeed())
		Expect(out2).To(Equal(in))
	})

	It("returns ErrNotFound when absent from both tiers", func() {
		var out item
		err := mlc.Get(ctx, "nope", &out)
		Expect(err).To(MatchError(cache.ErrNotFound))
	})

	It("removes a key from both tiers on Delete", func() {
		in := item{ID: 11}
		Expect(mlc.Set(ctx, "k11", in, time.Minute)).To(Succeed())
		Expect(mlc.Delete(ctx, "k11")).To(Succeed())

		var out item
		err := mlc.Get(ctx, "k11", &out)
		Expect(err).To(MatchError(cache.ErrNotFound))
	})
})
