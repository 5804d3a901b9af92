package search

import (
	"container/heap"
	"math"
	"sort"
)

// SortKeyForU64 maps a raw fast-field value onto the collector's unsigned
// sort key: identity for descending, complement for ascending, so that the
// collector always keeps the hits with the largest keys.
func SortKeyForU64(raw uint64, order SortOrder) uint64 {
	if order == Asc {
		return math.MaxUint64 - raw
	}
	return raw
}

// SortKeyForScore maps an f32 score to a u64 that preserves IEEE-754
// ordering when compared as an unsigned integer: reinterpret the bits, then
// flip the sign bit for non-negative values and all bits for negatives.
func SortKeyForScore(score float32, order SortOrder) uint64 {
	bits := math.Float32bits(score)
	if bits&0x8000_0000 != 0 {
		bits = ^bits
	} else {
		bits |= 0x8000_0000
	}
	return SortKeyForU64(uint64(bits), order)
}

// hitHeap is a min-heap over partial hits: the root is the worst hit kept,
// so a better candidate evicts it in O(log k). "Worse" is the inverse of
// PartialHit.Less.
type hitHeap []PartialHit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return h[j].Less(h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(PartialHit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopKCollector keeps the best start_offset+max_hits candidates, counting
// every accepted doc, with ties broken on ascending doc id.
type TopKCollector struct {
	capacity int
	numHits  uint64
	heap     hitHeap
}

func NewTopKCollector(startOffset, maxHits int) *TopKCollector {
	return &TopKCollector{capacity: startOffset + maxHits}
}

// Collect counts the hit and, capacity permitting, retains it.
func (c *TopKCollector) Collect(hit PartialHit) {
	c.numHits++
	if c.capacity == 0 {
		return
	}
	if len(c.heap) < c.capacity {
		heap.Push(&c.heap, hit)
		return
	}
	if hit.Less(c.heap[0]) {
		c.heap[0] = hit
		heap.Fix(&c.heap, 0)
	}
}

func (c *TopKCollector) NumHits() uint64 { return c.numHits }

// Harvest returns the kept hits in final order.
func (c *TopKCollector) Harvest() []PartialHit {
	out := make([]PartialHit, len(c.heap))
	copy(out, c.heap)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// TimestampFilter rejects docs outside the half-open [Start, End) window
// before they are counted.
type TimestampFilter struct {
	Start, End *int64
}

func (f TimestampFilter) Empty() bool { return f.Start == nil && f.End == nil }

func (f TimestampFilter) Accept(ts int64) bool {
	if f.Start != nil && ts < *f.Start {
		return false
	}
	if f.End != nil && ts >= *f.End {
		return false
	}
	return true
}

// MergePartialHits is the root-side merge collector: top-K over the union of
// leaf hits ordered by (desc sort key, asc doc id, asc split id), with the
// first startOffset merged hits skipped.
func MergePartialHits(responses []*LeafResponse, startOffset, maxHits int) (uint64, []PartialHit) {
	var numHits uint64
	c := NewTopKCollector(startOffset, maxHits)
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		numHits += resp.NumHits
		for _, h := range resp.PartialHits {
			c.Collect(h)
		}
	}
	merged := c.Harvest()
	if startOffset >= len(merged) {
		return numHits, nil
	}
	merged = merged[startOffset:]
	if len(merged) > maxHits {
		merged = merged[:maxHits]
	}
	return numHits, merged
}
