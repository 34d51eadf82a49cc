package registry_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/subtracker/registry"
	"github.com/ddevcap/subtracker/store"
)

func snap(id, name string, subs int64) store.StatSnapshot {
	return store.StatSnapshot{
		ChannelID:   id,
		Name:        name,
		Subscribers: subs,
		Timestamp:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var _ = Describe("Registry", func() {
	var reg *registry.Registry

	BeforeEach(func() {
		reg = registry.New(nil)
	})

	Describe("tracked set", func() {
		It("keeps insertion order and rejects duplicates", func() {
			Expect(reg.Track("b")).To(BeTrue())
			Expect(reg.Track("a")).To(BeTrue())
			Expect(reg.Track("b")).To(BeFalse())

			Expect(reg.Tracked()).To(Equal([]string{"b", "a"}))
			Expect(reg.Len()).To(Equal(2))
			Expect(reg.IsTracked("a")).To(BeTrue())
			Expect(reg.IsTracked("c")).To(BeFalse())
		})

		It("gives every tracked channel exactly one placeholder snapshot", func() {
			reg.Track("a")
			s, ok := reg.Snapshot("a")
			Expect(ok).To(BeTrue())
			Expect(s.ChannelID).To(Equal("a"))
			Expect(s.Subscribers).To(BeZero())
			Expect(reg.Snapshots()).To(HaveLen(1))
		})

		It("dedupes on SetTracked and drops snapshots of removed channels", func() {
			reg.Track("gone")
			reg.SetTracked([]string{"x", "y", "x"})

			Expect(reg.Tracked()).To(Equal([]string{"x", "y"}))
			_, ok := reg.Snapshot("gone")
			Expect(ok).To(BeFalse())
			Expect(reg.Snapshots()).To(HaveLen(2))
		})

		It("returns a copy of the tracked set", func() {
			reg.Track("a")
			ids := reg.Tracked()
			ids[0] = "mutated"
			Expect(reg.Tracked()).To(Equal([]string{"a"}))
		})
	})

	Describe("snapshots", func() {
		It("overwrites the snapshot of a tracked channel in place", func() {
			reg.Track("a")
			Expect(reg.UpsertSnapshot(snap("a", "Alpha", 10))).To(BeTrue())
			Expect(reg.UpsertSnapshot(snap("a", "Alpha", 12))).To(BeTrue())

			s, _ := reg.Snapshot("a")
			Expect(s.Subscribers).To(Equal(int64(12)))
			Expect(reg.Snapshots()).To(HaveLen(1))
		})

		It("ignores snapshots for untracked channels", func() {
			Expect(reg.UpsertSnapshot(snap("stray", "Stray", 1))).To(BeFalse())
			_, ok := reg.Snapshot("stray")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("routes", func() {
		It("registers a data route exactly once", func() {
			Expect(reg.RegisterRoute("a")).To(BeTrue())
			Expect(reg.RegisterRoute("a")).To(BeFalse())
			Expect(reg.HasRoute("a")).To(BeTrue())
			Expect(reg.HasRoute("b")).To(BeFalse())
			Expect(reg.RouteCount()).To(Equal(1))
		})
	})

	Describe("ListSnapshots", func() {
		BeforeEach(func() {
			for _, s := range []store.StatSnapshot{
				snap("UCone", "Gaming Daily", 300),
				snap("UCtwo", "Cooking Show", 100),
				snap("UCthree", "Daily News", 200),
				snap("UCfour", "Music", 200),
			} {
				reg.Track(s.ChannelID)
				reg.UpsertSnapshot(s)
			}
		})

		It("sorts by subscribers descending with the ID as tie-break", func() {
			page := reg.ListSnapshots(1, 10, "")
			Expect(page.Total).To(Equal(4))
			ids := make([]string, 0, len(page.Channels))
			for _, c := range page.Channels {
				ids = append(ids, c.ChannelID)
			}
			Expect(ids).To(Equal([]string{"UCone", "UCfour", "UCthree", "UCtwo"}))
		})

		It("filters case-insensitively on ID or name before paginating", func() {
			page := reg.ListSnapshots(1, 1, "DAILY")
			Expect(page.Total).To(Equal(2))
			Expect(page.Channels).To(HaveLen(1))
			Expect(page.Channels[0].ChannelID).To(Equal("UCone"))

			page = reg.ListSnapshots(2, 1, "daily")
			Expect(page.Channels[0].ChannelID).To(Equal("UCthree"))

			page = reg.ListSnapshots(1, 10, "uctwo")
			Expect(page.Total).To(Equal(1))
		})

		DescribeTable("normalizes paging parameters",
			func(pageNum, limit, wantLen int) {
				Expect(reg.ListSnapshots(pageNum, limit, "").Channels).To(HaveLen(wantLen))
			},
			Entry("zero page is the first page", 0, 3, 3),
			Entry("zero limit uses the default", 1, 0, 4),
			Entry("page past the end is empty", 3, 2, 0),
			Entry("huge page number is empty", int(^uint(0)>>1), 2, 0),
		)
	})

	It("sums subscribers and counts tracked channels", func() {
		reg.Track("a")
		reg.Track("b")
		reg.Track("c")
		reg.UpsertSnapshot(snap("a", "A", 5))
		reg.UpsertSnapshot(snap("b", "B", 7))

		Expect(reg.GlobalStats()).To(Equal(registry.Stats{TotalChannels: 3, TotalSubscribers: 12}))
	})

	Describe("Warm", func() {
		It("loads the newest stored snapshot for each tracked channel", func() {
			hs, err := store.NewFileHistoryStore(GinkgoT().TempDir())
			Expect(err).NotTo(HaveOccurred())
			ctx := context.Background()
			for i := range 3 {
				_, err := hs.Append(ctx, "a", snap("a", fmt.Sprintf("A%d", i), int64(i)))
				Expect(err).NotTo(HaveOccurred())
			}

			reg.SetTracked([]string{"a", "fresh"})
			n, err := reg.Warm(ctx, hs)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			s, _ := reg.Snapshot("a")
			Expect(s.Name).To(Equal("A2"))
			Expect(s.Subscribers).To(Equal(int64(2)))

			fresh, ok := reg.Snapshot("fresh")
			Expect(ok).To(BeTrue())
			Expect(fresh.Subscribers).To(BeZero())
		})
	})
})
