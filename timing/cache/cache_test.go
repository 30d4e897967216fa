package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86emu/timing/cache"
)

// Small cache for testing: 4KB, 4-way, 64B lines, 16 sets. Addresses 1KB
// apart map to the same set.
func smallConfig() cache.Config {
	return cache.Config{
		Size:          4 * 1024,
		Associativity: 4,
		BlockSize:     64,
		HitLatency:    1,
		MissLatency:   10,
	}
}

var _ = Describe("Cache", func() {
	var c *cache.Cache

	BeforeEach(func() {
		c = cache.New(smallConfig())
	})

	Describe("Read operations", func() {
		It("should miss on cold cache", func() {
			result := c.Read(0x1000, 4)
			Expect(result.Hit).To(BeFalse())
			Expect(result.Latency).To(Equal(uint64(10)))

			stats := c.Stats()
			Expect(stats.Reads).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(0)))
		})

		It("should hit on cached data", func() {
			c.Read(0x1000, 4)

			result := c.Read(0x1000, 4)
			Expect(result.Hit).To(BeTrue())
			Expect(result.Latency).To(Equal(uint64(1)))

			stats := c.Stats()
			Expect(stats.Reads).To(Equal(uint64(2)))
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(1)))
			Expect(stats.HitRate()).To(BeNumerically("~", 0.5))
		})

		It("should hit on different addresses in same cache line", func() {
			c.Read(0x1000, 4)

			Expect(c.Read(0x103C, 4).Hit).To(BeTrue())
			Expect(c.Contains(0x1020)).To(BeTrue())
			Expect(c.Contains(0x1040)).To(BeFalse())
		})

		It("should touch both lines of a straddling access", func() {
			result := c.Read(0x103E, 4)
			Expect(result.Hit).To(BeFalse())
			Expect(c.Stats().Misses).To(Equal(uint64(2)))
			Expect(c.Contains(0x1000)).To(BeTrue())
			Expect(c.Contains(0x1040)).To(BeTrue())

			c.Invalidate(0x1040)
			result = c.Read(0x103E, 4)
			Expect(result.Hit).To(BeFalse())
			Expect(result.Latency).To(Equal(uint64(10)))
		})
	})

	Describe("Write operations", func() {
		It("should write-allocate on miss", func() {
			result := c.Write(0x1000, 4)
			Expect(result.Hit).To(BeFalse())
			Expect(result.Latency).To(Equal(uint64(10)))

			Expect(c.Read(0x1000, 4).Hit).To(BeTrue())
		})

		It("should hit on cached data", func() {
			c.Write(0x1000, 4)

			result := c.Write(0x1000, 4)
			Expect(result.Hit).To(BeTrue())
			Expect(result.Latency).To(Equal(uint64(1)))
			Expect(c.Stats().Writes).To(Equal(uint64(2)))
		})
	})

	Describe("Eviction", func() {
		It("should evict when a set is full", func() {
			c.Write(0x0000, 4)
			c.Write(0x0400, 4)
			c.Write(0x0800, 4)
			c.Write(0x0C00, 4)

			Expect(c.Read(0x0000, 4).Hit).To(BeTrue())
			Expect(c.Read(0x0400, 4).Hit).To(BeTrue())
			Expect(c.Read(0x0800, 4).Hit).To(BeTrue())
			Expect(c.Read(0x0C00, 4).Hit).To(BeTrue())

			result := c.Write(0x1000, 4)
			Expect(result.Hit).To(BeFalse())
			Expect(result.Evicted).To(BeTrue())
			Expect(result.EvictedAddr).To(Equal(uint32(0x0000)))
			Expect(c.Stats().Evictions).To(Equal(uint64(1)))
		})

		It("should count writebacks of dirty evicted blocks only", func() {
			c.Write(0x0000, 4)
			c.Read(0x0400, 4)
			c.Read(0x0800, 4)
			c.Read(0x0C00, 4)

			// 0x0000 is the LRU block and dirty.
			c.Read(0x1000, 4)
			Expect(c.Stats().Writebacks).To(Equal(uint64(1)))

			// 0x0400 is clean.
			c.Read(0x1400, 4)
			Expect(c.Stats().Evictions).To(Equal(uint64(2)))
			Expect(c.Stats().Writebacks).To(Equal(uint64(1)))
		})
	})

	Describe("Flush", func() {
		It("should write back all dirty blocks and invalidate", func() {
			c.Write(0x0000, 4)
			c.Write(0x1000, 4)
			c.Read(0x2000, 4)

			c.Flush()

			Expect(c.Stats().Writebacks).To(Equal(uint64(2)))
			Expect(c.Contains(0x0000)).To(BeFalse())
			Expect(c.Contains(0x2000)).To(BeFalse())
		})
	})

	Describe("Reset", func() {
		It("should invalidate everything and clear statistics", func() {
			c.Write(0x0000, 4)
			c.Reset()

			Expect(c.Stats()).To(Equal(cache.Statistics{}))
			Expect(c.Read(0x0000, 4).Hit).To(BeFalse())
		})
	})

	Describe("Hierarchy", func() {
		var l2 *cache.Cache

		BeforeEach(func() {
			l2 = cache.New(cache.Config{
				Size:          16 * 1024,
				Associativity: 8,
				BlockSize:     64,
				HitLatency:    8,
				MissLatency:   100,
			})
			c.SetNextLevel(l2)
		})

		It("should charge the next level on a miss", func() {
			Expect(c.NextLevel()).To(BeIdenticalTo(l2))

			result := c.Read(0x1000, 4)
			Expect(result.Latency).To(Equal(uint64(1 + 100)))

			c.Invalidate(0x1000)
			result = c.Read(0x1000, 4)
			Expect(result.Latency).To(Equal(uint64(1 + 8)))
			Expect(l2.Stats().Hits).To(Equal(uint64(1)))
		})

		It("should write dirty victims back to the next level", func() {
			c.Write(0x0000, 4)
			c.Read(0x0400, 4)
			c.Read(0x0800, 4)
			c.Read(0x0C00, 4)
			c.Read(0x1000, 4)

			Expect(l2.Stats().Writes).To(Equal(uint64(1)))
		})
	})

	Describe("Configurations", func() {
		It("should provide valid defaults", func() {
			Expect(cache.DefaultL1Config().Validate()).To(Succeed())
			Expect(cache.DefaultL2Config().Validate()).To(Succeed())
			Expect(cache.DefaultL1Config().BlockSize).To(Equal(64))
		})

		It("should reject bad geometry", func() {
			config := smallConfig()
			config.BlockSize = 48
			Expect(config.Validate()).NotTo(Succeed())

			config = smallConfig()
			config.Associativity = 0
			Expect(config.Validate()).NotTo(Succeed())

			config = smallConfig()
			config.Size = 1000
			Expect(config.Validate()).NotTo(Succeed())

			config = smallConfig()
			config.HitLatency = 0
			Expect(config.Validate()).NotTo(Succeed())
		})
	})
})
