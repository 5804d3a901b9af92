package search_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/strata-io/strata/search"
	"github.com/strata-io/strata/split"
	"github.com/strata-io/strata/store"
)

// packFakeSplit packs docs into a split blob, uploads it to s under
// <splitID>.split and returns the offsets a leaf needs to search it.
func packFakeSplit(s store.Storage, splitID string, docs []fakeDoc) search.SplitOffsets {
	raw, err := json.Marshal(docs)
	Expect(err).NotTo(HaveOccurred())
	packed, err := split.Pack([]split.SubFile{{Path: "docs.json", Data: raw}}, []byte("hotcache"))
	Expect(err).NotTo(HaveOccurred())
	err = s.Put(context.Background(), splitID+".split", &store.BytesPayload{Data: packed.Blob})
	Expect(err).NotTo(HaveOccurred())

	var lo, hi *int64
	for _, d := range docs {
		ts := d.TS
		if lo == nil || ts < *lo {
			v := ts
			lo = &v
		}
		if hi == nil || ts > *hi {
			v := ts
			hi = &v
		}
	}
	return search.SplitOffsets{
		SplitID:     splitID,
		FileLen:     int64(len(packed.Blob)),
		FooterStart: packed.Footer.Start,
		FooterEnd:   packed.Footer.End,
		TimeRangeLo: lo,
		TimeRangeHi: hi,
		NumDocs:     int64(len(docs)),
	}
}

func newTestLeaf(s store.Storage) *search.Leaf {
	return search.NewLeaf(
		s,
		fakeOpener,
		search.NewFooterCache(128),
		search.NewFastFieldCache(1<<20),
		search.NewResultCache(128),
	)
}

var _ = Describe("Leaf", func() {
	var (
		remote store.Storage
		leaf   *search.Leaf
		ctx    context.Context
	)

	BeforeEach(func() {
		remote = store.NewMemStore()
		leaf = newTestLeaf(remote)
		ctx = context.Background()
	})

	It("returns the matching docs as partial hits ordered by sort key", func() {
		offsets := packFakeSplit(remote, "s1", []fakeDoc{
			{Body: "alpha error", TS: 10, Fast: map[string]uint64{"sev": 3}},
			{Body: "beta ok", TS: 20, Fast: map[string]uint64{"sev": 1}},
			{Body: "gamma error", TS: 30, Fast: map[string]uint64{"sev": 5}},
		})
		resp, err := leaf.Search(ctx, search.LeafRequest{
			Request: search.Request{
				Query:   "error",
				MaxHits: 10,
				SortBy:  search.SortBy{Kind: search.SortByFastField, Field: "sev", Order: search.Desc},
			},
			SplitOffsets: []search.SplitOffsets{offsets},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.NumHits).To(Equal(uint64(2)))
		Expect(resp.PartialHits).To(HaveLen(2))
		Expect(resp.PartialHits[0].DocID).To(Equal(uint32(2))) // sev=5 first
		Expect(resp.PartialHits[1].DocID).To(Equal(uint32(0)))
	})

	It("returns num_hits only when max_hits is zero", func() {
		offsets := packFakeSplit(remote, "s2", []fakeDoc{
			{Body: "x error", TS: 1},
			{Body: "y error", TS: 2},
		})
		resp, err := leaf.Search(ctx, search.LeafRequest{
			Request:      search.Request{Query: "error", MaxHits: 0},
			SplitOffsets: []search.SplitOffsets{offsets},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.NumHits).To(Equal(uint64(2)))
		Expect(resp.PartialHits).To(BeEmpty())
	})

	It("applies the half-open timestamp filter before counting", func() {
		offsets := packFakeSplit(remote, "s3", []fakeDoc{
			{Body: "a error", TS: 10},
			{Body: "b error", TS: 20},
			{Body: "c error", TS: 30},
		})
		start, end := int64(10), int64(30)
		resp, err := leaf.Search(ctx, search.LeafRequest{
			Request: search.Request{
				Query:          "error",
				MaxHits:        10,
				StartTimestamp: &start,
				EndTimestamp:   &end, // [10, 30): excludes ts=30
				TimestampField: "ts",
			},
			SplitOffsets: []search.SplitOffsets{offsets},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.NumHits).To(Equal(uint64(2)))
	})

	It("memoizes identical leaf searches", func() {
		offsets := packFakeSplit(remote, "s4", []fakeDoc{{Body: "hit error", TS: 1}})
		req := search.LeafRequest{
			Request:      search.Request{Query: "error", MaxHits: 1},
			SplitOffsets: []search.SplitOffsets{offsets},
		}
		first, err := leaf.Search(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		second, err := leaf.Search(ctx, req)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeIdenticalTo(first)) // same cached pointer
	})

	It("collects per-split failures without failing the request", func() {
		good := packFakeSplit(remote, "s5", []fakeDoc{{Body: "error here", TS: 1}})
		missing := search.SplitOffsets{SplitID: "nope", FileLen: 100, FooterStart: 0, FooterEnd: 100}
		resp, err := leaf.Search(ctx, search.LeafRequest{
			Request:      search.Request{Query: "error", MaxHits: 5},
			SplitOffsets: []search.SplitOffsets{good, missing},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.NumAttemptedSplits).To(Equal(2))
		Expect(resp.FailedSplits).To(HaveLen(1))
		Expect(resp.FailedSplits[0].SplitID).To(Equal("nope"))
		Expect(resp.NumHits).To(Equal(uint64(1)))
	})

	It("fetches stored documents for partial hits", func() {
		offsets := packFakeSplit(remote, "s6", []fakeDoc{{Body: "fetch error me", TS: 7}})
		resp, err := leaf.Search(ctx, search.LeafRequest{
			Request:      search.Request{Query: "error", MaxHits: 1},
			SplitOffsets: []search.SplitOffsets{offsets},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.PartialHits).To(HaveLen(1))

		docs, err := leaf.FetchDocs(ctx, search.FetchDocsRequest{
			PartialHits:  resp.PartialHits,
			SplitOffsets: []search.SplitOffsets{offsets},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs.Hits).To(HaveLen(1))
		Expect(string(docs.Hits[0].Document)).To(ContainSubstring("fetch error me"))
	})

	It("deduplicates terms across splits in list-terms", func() {
		o1 := packFakeSplit(remote, "s7", []fakeDoc{{Body: "apple banana", TS: 1}})
		o2 := packFakeSplit(remote, "s8", []fakeDoc{{Body: "banana cherry", TS: 2}})
		resp, err := leaf.ListTerms(ctx, search.ListTermsRequest{
			Field:        "body",
			SplitOffsets: []search.SplitOffsets{o1, o2},
		})
		Expect(err).NotTo(HaveOccurred())
		got := make([]string, len(resp.Terms))
		for i, t := range resp.Terms {
			got[i] = string(t)
		}
		Expect(got).To(Equal([]string{"apple", "banana", "cherry"}))
	})
})
