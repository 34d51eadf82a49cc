package registry_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/subtracker/registry"
	"github.com/ddevcap/subtracker/store"
)

// countingStore wraps a history store and counts loads.
type countingStore struct {
	store.HistoryStore
	mu    sync.Mutex
	loads int
}

func (c *countingStore) Load(ctx context.Context, id string) ([]store.StatSnapshot, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.HistoryStore.Load(ctx, id)
}

func (c *countingStore) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

var _ = Describe("HistoryCache", func() {
	var (
		ctx     context.Context
		backing *countingStore
		cache   *registry.HistoryCache
		base    time.Time
	)

	at := func(subs int64, offset time.Duration) store.StatSnapshot {
		return store.StatSnapshot{ChannelID: "a", Name: "A", Subscribers: subs, Timestamp: base.Add(offset)}
	}

	BeforeEach(func() {
		ctx = context.Background()
		base = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		fs, err := store.NewFileHistoryStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		backing = &countingStore{HistoryStore: fs}
		cache = registry.NewHistoryCache(backing, time.Hour, 0)
		DeferCleanup(cache.Stop)
	})

	It("loads on a miss and memoizes", func() {
		_, err := backing.Append(ctx, "a", at(1, 0))
		Expect(err).NotTo(HaveOccurred())

		series, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(series).To(HaveLen(1))
		Expect(cache.Resident("a")).To(BeTrue())

		_, err = cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(backing.Loads()).To(Equal(1))
	})

	It("appends durably and updates a resident series", func() {
		_, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())

		_, err = cache.Append(ctx, "a", at(1, 0))
		Expect(err).NotTo(HaveOccurred())
		_, err = cache.Append(ctx, "a", at(2, time.Minute))
		Expect(err).NotTo(HaveOccurred())

		series, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(series).To(HaveLen(2))
		Expect(backing.Loads()).To(Equal(1))

		onDisk, err := backing.HistoryStore.Load(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(onDisk).To(Equal(series))
	})

	It("does not load a series just to append to it", func() {
		_, err := cache.Append(ctx, "a", at(1, 0))
		Expect(err).NotTo(HaveOccurred())
		Expect(cache.Resident("a")).To(BeFalse())
		Expect(backing.Loads()).To(Equal(0))
	})

	It("never loses appended data across eviction", func() {
		_, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		_, err = cache.Append(ctx, "a", at(1, 0))
		Expect(err).NotTo(HaveOccurred())

		Expect(cache.EvictAll()).To(Equal(1))
		Expect(cache.Len()).To(BeZero())

		_, err = cache.Append(ctx, "a", at(2, time.Minute))
		Expect(err).NotTo(HaveOccurred())

		series, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(series).To(HaveLen(2))
		Expect(backing.Loads()).To(Equal(2))
	})

	It("keeps timestamps non-decreasing under concurrent appends", func() {
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				// Offsets deliberately go backwards for odd i.
				offset := time.Duration(i) * time.Second
				if i%2 == 1 {
					offset = -offset
				}
				_, err := cache.Append(ctx, "a", at(int64(i), offset))
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		series, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(series).To(HaveLen(20))
		for i := 1; i < len(series); i++ {
			Expect(series[i].Timestamp.Before(series[i-1].Timestamp)).To(BeFalse())
		}
	})

	It("returns copies that callers may modify", func() {
		_, err := cache.Append(ctx, "a", at(1, 0))
		Expect(err).NotTo(HaveOccurred())
		series, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		series[0].Subscribers = 999

		again, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(again[0].Subscribers).To(Equal(int64(1)))
	})
})
