package search_test

import (
	"math"
	"testing"

	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/search"
)

func TestSortKeyOrdering(t *testing.T) {
	// Descending fast-field: larger raw value, larger key.
	tassert.Errorf(t, search.SortKeyForU64(10, search.Desc) > search.SortKeyForU64(5, search.Desc),
		"desc keys must preserve raw order")
	// Ascending: complemented, so smaller raw value wins.
	tassert.Errorf(t, search.SortKeyForU64(5, search.Asc) > search.SortKeyForU64(10, search.Asc),
		"asc keys must invert raw order")
}

func TestSortKeyForScoreMonotonic(t *testing.T) {
	scores := []float32{float32(math.Inf(-1)), -2.5, -0.0, 0, 0.5, 1.0, 42.0, float32(math.Inf(1))}
	for i := 1; i < len(scores); i++ {
		a := search.SortKeyForScore(scores[i-1], search.Desc)
		b := search.SortKeyForScore(scores[i], search.Desc)
		tassert.Errorf(t, a <= b, "score keys must be monotonic: f(%v)=%d > f(%v)=%d",
			scores[i-1], a, scores[i], b)
	}
}

func TestTopKTieBreaksOnAscendingDocID(t *testing.T) {
	c := search.NewTopKCollector(0, 2)
	c.Collect(search.PartialHit{SplitID: "s", DocID: 9, SortKey: 100})
	c.Collect(search.PartialHit{SplitID: "s", DocID: 3, SortKey: 100})
	c.Collect(search.PartialHit{SplitID: "s", DocID: 7, SortKey: 100})

	hits := c.Harvest()
	tassert.Fatalf(t, len(hits) == 2, "expected 2 kept hits, got %d", len(hits))
	tassert.Errorf(t, hits[0].DocID == 3 && hits[1].DocID == 7,
		"equal keys must keep the lowest doc ids, got %d,%d", hits[0].DocID, hits[1].DocID)
}

func TestTopKCountsBeyondCapacity(t *testing.T) {
	c := search.NewTopKCollector(0, 1)
	for i := 0; i < 5; i++ {
		c.Collect(search.PartialHit{DocID: uint32(i), SortKey: uint64(i)})
	}
	tassert.Errorf(t, c.NumHits() == 5, "expected 5 counted hits, got %d", c.NumHits())
	hits := c.Harvest()
	tassert.Fatalf(t, len(hits) == 1, "expected 1 kept hit")
	tassert.Errorf(t, hits[0].SortKey == 4, "expected best sort key kept, got %d", hits[0].SortKey)
}

func TestMergePartialHitsAppliesStartOffset(t *testing.T) {
	a := &search.LeafResponse{NumHits: 2, PartialHits: []search.PartialHit{
		{SplitID: "a", DocID: 1, SortKey: 50},
		{SplitID: "a", DocID: 2, SortKey: 40},
	}}
	b := &search.LeafResponse{NumHits: 2, PartialHits: []search.PartialHit{
		{SplitID: "b", DocID: 1, SortKey: 60},
		{SplitID: "b", DocID: 2, SortKey: 30},
	}}
	num, merged := search.MergePartialHits([]*search.LeafResponse{a, b}, 1, 2)
	tassert.Errorf(t, num == 4, "expected 4 total hits, got %d", num)
	tassert.Fatalf(t, len(merged) == 2, "expected 2 merged hits, got %d", len(merged))
	tassert.Errorf(t, merged[0].SortKey == 50 && merged[1].SortKey == 40,
		"expected the offset to skip the best hit, got keys %d,%d", merged[0].SortKey, merged[1].SortKey)
}

func TestTimestampFilterHalfOpen(t *testing.T) {
	start, end := int64(10), int64(30)
	f := search.TimestampFilter{Start: &start, End: &end}
	tassert.Errorf(t, f.Accept(10), "start bound is inclusive")
	tassert.Errorf(t, f.Accept(29), "inside the window")
	tassert.Errorf(t, !f.Accept(30), "end bound is exclusive")
	tassert.Errorf(t, !f.Accept(9), "below the window")
}
