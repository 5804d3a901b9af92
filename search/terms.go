package search

import (
	"bytes"
	"container/heap"
	"context"
	"sort"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/split"
)

// ListTermsRequest asks for the distinct term-dictionary keys of one field
// in [StartKey, EndKey), capped at MaxHits.
type ListTermsRequest struct {
	Request      Request        `json:"request"`
	Field        string         `json:"field"`
	StartKey     []byte         `json:"startKey,omitempty"`
	EndKey       []byte         `json:"endKey,omitempty"`
	MaxHits      int            `json:"maxHits"`
	SplitOffsets []SplitOffsets `json:"splitOffsets"`
	IndexURI     string         `json:"indexUri"`
}

type ListTermsResponse struct {
	Terms [][]byte `json:"terms"`
}

// termStream is one segment's cursor position inside the k-way merge.
type termStream struct {
	cursor TermCursor
	key    []byte
}

type termHeap []*termStream

func (h termHeap) Len() int            { return len(h) }
func (h termHeap) Less(i, j int) bool  { return bytes.Compare(h[i].key, h[j].key) < 0 }
func (h termHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *termHeap) Push(x interface{}) { *h = append(*h, x.(*termStream)) }
func (h *termHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ListTerms is the leaf side: for each split's segments, stream keys in
// [start, end) and k-way-merge them, deduplicating across segments. A cuckoo
// filter screens out already-emitted keys cheaply; the exact set of emitted
// keys backs it up since the filter can report false positives.
func (l *Leaf) ListTerms(ctx context.Context, req ListTermsRequest) (*ListTermsResponse, error) {
	var cursors []TermCursor
	defer func() {
		for _, c := range cursors {
			c.Close()
		}
	}()

	for _, offsets := range req.SplitOffsets {
		footer, err := l.resolveFooter(ctx, offsets)
		if err != nil {
			return nil, err
		}
		container := split.OpenWithFooter(l.Storage, splitPath(offsets.SplitID), footer)
		reader, err := l.Opener(ctx, layerDirectories(container, offsets.SplitID, l.FastFields))
		if err != nil {
			return nil, errs.Wrap(errs.InternalError, offsets.SplitID+" open index", err)
		}
		defer reader.Close()
		for _, seg := range reader.Segments() {
			cur, err := seg.Terms(req.Field, req.StartKey)
			if err != nil {
				return nil, errs.Wrap(errs.InternalError, offsets.SplitID+" open term dict", err)
			}
			cursors = append(cursors, cur)
		}
	}

	var h termHeap
	for _, cur := range cursors {
		if cur.Next() {
			heap.Push(&h, &termStream{cursor: cur, key: append([]byte(nil), cur.Key()...)})
		}
	}

	filter := cuckoo.NewFilter(1 << 16)
	emitted := make(map[string]struct{})
	var out [][]byte

	for h.Len() > 0 && (req.MaxHits == 0 || len(out) < req.MaxHits) {
		s := heap.Pop(&h).(*termStream)
		key := s.key
		if req.EndKey != nil && bytes.Compare(key, req.EndKey) >= 0 {
			// Streams are ordered; this one is exhausted for the range.
		} else {
			dup := false
			if filter.Lookup(key) {
				_, dup = emitted[string(key)]
			}
			if !dup {
				filter.Insert(key)
				emitted[string(key)] = struct{}{}
				out = append(out, key)
			}
			if s.cursor.Next() {
				heap.Push(&h, &termStream{cursor: s.cursor, key: append([]byte(nil), s.cursor.Key()...)})
			}
		}
	}
	return &ListTermsResponse{Terms: out}, nil
}

// RootListTerms fans out over the same placement as Search and merges the
// per-node term lists in key order, deduplicated, capped at MaxHits.
func (r *Root) RootListTerms(ctx context.Context, req ListTermsRequest) (*ListTermsResponse, error) {
	bySplitIndex, err := r.relevantSplits(ctx, req.Request)
	if err != nil {
		return nil, err
	}
	nodes := r.searcherNodes()
	if len(nodes) == 0 {
		return nil, errs.New(errs.InternalError, "no ready searcher in the pool")
	}

	var jobs []Job
	indexURIBySplit := make(map[string]string)
	for uid, splits := range bySplitIndex {
		meta, err := r.Metastore.IndexMetadata(ctx, uid)
		if err != nil {
			return nil, err
		}
		for _, s := range splits {
			o := toOffsets(s)
			jobs = append(jobs, Job{Offsets: o, Cost: JobCost(o)})
			indexURIBySplit[s.SplitID] = meta.IndexURI
		}
	}
	placement := PlaceJobs(jobs, nodes, nil)

	var (
		mu     sync.Mutex
		merged [][]byte
		wg     sync.WaitGroup
	)
	for addr, nodeJobs := range placement {
		addr, nodeJobs := addr, nodeJobs
		offsets := make([]SplitOffsets, len(nodeJobs))
		indexURI := ""
		for i, j := range nodeJobs {
			offsets[i] = j.Offsets
			indexURI = indexURIBySplit[j.Offsets.SplitID]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			leafReq := req
			leafReq.SplitOffsets = offsets
			leafReq.IndexURI = indexURI
			resp, err := r.Clients.Get(addr).LeafListTerms(ctx, leafReq)
			if err != nil {
				return
			}
			mu.Lock()
			merged = append(merged, resp.Terms...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(merged, func(i, j int) bool { return bytes.Compare(merged[i], merged[j]) < 0 })
	var out [][]byte
	for _, t := range merged {
		if len(out) > 0 && bytes.Equal(out[len(out)-1], t) {
			continue
		}
		out = append(out, t)
		if req.MaxHits > 0 && len(out) >= req.MaxHits {
			break
		}
	}
	return &ListTermsResponse{Terms: out}, nil
}
