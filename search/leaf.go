package search

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/strata-io/strata/cmn"
	"github.com/strata-io/strata/cmn/cos"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/split"
	"github.com/strata-io/strata/stats"
	"github.com/strata-io/strata/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Leaf executes single-split searches on this node: footer resolution
// through the process-wide cache, layered directory open, warmup, top-K
// collection, and result caching.
type Leaf struct {
	Storage store.Storage
	Opener  IndexOpener

	Footers    *FooterCache
	FastFields *FastFieldCache
	Results    *ResultCache

	// splitSem caps concurrent split searches on this node.
	splitSem *semaphore.Weighted
}

func NewLeaf(storage store.Storage, opener IndexOpener, footers *FooterCache, ff *FastFieldCache, results *ResultCache) *Leaf {
	maxConc := cmn.GCO.Get().Search.MaxConcurrentSplitSearches
	if maxConc <= 0 {
		maxConc = 1
	}
	return &Leaf{
		Storage:    storage,
		Opener:     opener,
		Footers:    footers,
		FastFields: ff,
		Results:    results,
		splitSem:   semaphore.NewWeighted(int64(maxConc)),
	}
}

func splitPath(splitID string) string { return splitID + ".split" }

// resolveFooter returns the split's footer, range-fetching and memoizing it
// on a cache miss.
func (l *Leaf) resolveFooter(ctx context.Context, s SplitOffsets) (*split.Footer, error) {
	if f, ok := l.Footers.Get(s.SplitID); ok {
		return f, nil
	}
	raw, err := l.Storage.GetSlice(ctx, splitPath(s.SplitID), store.ByteRange{Start: s.FooterStart, End: s.FooterEnd})
	if err != nil {
		return nil, errs.Wrap(errs.Io, splitPath(s.SplitID)+" fetch footer", err)
	}
	f, err := split.ParseFooter(raw, cos.ByteRange{Start: s.FooterStart, End: s.FooterEnd})
	if err != nil {
		return nil, err
	}
	l.Footers.Put(s.SplitID, f)
	return f, nil
}

// Search answers a LeafRequest: every split is searched concurrently under
// the node-wide semaphore, per-split failures are collected rather than
// failing the whole request, and the answer is memoized keyed on
// (split offsets, canonicalized request).
func (l *Leaf) Search(ctx context.Context, req LeafRequest) (*LeafResponse, error) {
	key := l.Results.Key(req.Request, req.SplitOffsets)
	return l.Results.Do(key, func() (*LeafResponse, error) {
		return l.searchUncached(ctx, req)
	})
}

func (l *Leaf) searchUncached(ctx context.Context, req LeafRequest) (*LeafResponse, error) {
	started := time.Now()
	deadline := cmn.GCO.Get().Search.DefaultDeadline
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resp := &LeafResponse{NumAttemptedSplits: len(req.SplitOffsets)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, offsets := range req.SplitOffsets {
		offsets := offsets
		g.Go(func() error {
			if err := l.splitSem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer l.splitSem.Release(1)

			splitResp, err := l.searchSplit(gctx, rewriteForSplit(req.Request, offsets), offsets)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				glog.Warningf("leaf search %s: %v", offsets.SplitID, err)
				resp.FailedSplits = append(resp.FailedSplits, SplitError{
					SplitID:   offsets.SplitID,
					Error:     err.Error(),
					Retryable: errs.Retryable(err),
				})
				return nil
			}
			resp.NumHits += splitResp.NumHits
			resp.PartialHits = append(resp.PartialHits, splitResp.PartialHits...)
			if len(splitResp.IntermediateAgg) > 0 {
				resp.IntermediateAgg = append(resp.IntermediateAgg, splitResp.IntermediateAgg...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats.T.Observe(stats.LeafSearchLatency, time.Since(started))
	return resp, nil
}

const maxAggBuckets = 65_000

// searchSplit runs the request against a single split.
func (l *Leaf) searchSplit(ctx context.Context, req Request, offsets SplitOffsets) (*LeafResponse, error) {
	footer, err := l.resolveFooter(ctx, offsets)
	if err != nil {
		return nil, err
	}
	container := split.OpenWithFooter(l.Storage, splitPath(offsets.SplitID), footer)
	dir := layerDirectories(container, offsets.SplitID, l.FastFields)

	reader, err := l.Opener(ctx, dir)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, offsets.SplitID+" open index", err)
	}
	defer reader.Close()

	segments := reader.Segments()
	plan := buildWarmupPlan(req)
	wg, wctx := errgroup.WithContext(ctx)
	for _, seg := range segments {
		seg := seg
		wg.Go(func() error { return seg.Warmup(wctx, plan) })
	}
	if err := wg.Wait(); err != nil {
		return nil, errs.Wrap(errs.Io, offsets.SplitID+" warmup", err)
	}

	scoring := req.SortBy.Kind == SortByScore
	tsFilter := TimestampFilter{Start: req.StartTimestamp, End: req.EndTimestamp}
	collector := NewTopKCollector(req.StartOffset, req.MaxHits)

	for _, seg := range segments {
		seg := seg
		err := seg.Search(ctx, req.Query, scoring, func(docID uint32, score float32) error {
			if !tsFilter.Empty() && req.TimestampField != "" {
				ts, ok := seg.FastFieldU64(req.TimestampField, docID)
				if !ok || !tsFilter.Accept(int64(ts)) {
					return nil
				}
			}
			var sortKey uint64
			switch req.SortBy.Kind {
			case SortByFastField:
				raw, _ := seg.FastFieldU64(req.SortBy.Field, docID)
				sortKey = SortKeyForU64(raw, req.SortBy.Order)
			case SortByScore:
				sortKey = SortKeyForScore(score, req.SortBy.Order)
			default:
				// DocId ordering: earlier docs win, and sort keys compare
				// descending, so invert.
				sortKey = SortKeyForU64(uint64(docID), Asc)
			}
			collector.Collect(PartialHit{
				SplitID:    offsets.SplitID,
				SegmentOrd: seg.Ord(),
				DocID:      docID,
				SortKey:    sortKey,
			})
			return nil
		})
		if err != nil {
			return nil, errs.Wrap(errs.InternalError, offsets.SplitID+" segment search", err)
		}
	}

	resp := &LeafResponse{NumHits: collector.NumHits()}
	if req.MaxHits > 0 {
		resp.PartialHits = collector.Harvest()
	}
	if req.Aggregation != "" {
		for _, seg := range segments {
			agg, err := seg.Aggregate(ctx, req.Aggregation, maxAggBuckets)
			if err != nil {
				return nil, errs.Wrap(errs.InternalError, offsets.SplitID+" aggregation", err)
			}
			resp.IntermediateAgg = append(resp.IntermediateAgg, agg...)
		}
	}
	return resp, nil
}

// FetchDocs resolves already-ranked partial hits into stored documents.
func (l *Leaf) FetchDocs(ctx context.Context, req FetchDocsRequest) (*FetchDocsResponse, error) {
	bySplit := make(map[string]SplitOffsets, len(req.SplitOffsets))
	for _, o := range req.SplitOffsets {
		bySplit[o.SplitID] = o
	}

	out := make([]Hit, len(req.PartialHits))
	readers := make(map[string]IndexReader)
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	for i, ph := range req.PartialHits {
		offsets, ok := bySplit[ph.SplitID]
		if !ok {
			return nil, errs.New(errs.InvalidArgument, "partial hit references unknown split "+ph.SplitID)
		}
		reader, ok := readers[ph.SplitID]
		if !ok {
			footer, err := l.resolveFooter(ctx, offsets)
			if err != nil {
				return nil, err
			}
			container := split.OpenWithFooter(l.Storage, splitPath(ph.SplitID), footer)
			reader, err = l.Opener(ctx, layerDirectories(container, ph.SplitID, l.FastFields))
			if err != nil {
				return nil, errs.Wrap(errs.InternalError, ph.SplitID+" open index", err)
			}
			readers[ph.SplitID] = reader
		}
		var doc []byte
		var err error
		for _, seg := range reader.Segments() {
			if seg.Ord() == ph.SegmentOrd {
				doc, err = seg.Doc(ctx, ph.DocID)
				break
			}
		}
		if err != nil {
			return nil, errs.Wrap(errs.InternalError, ph.SplitID+" fetch doc", err)
		}
		out[i] = Hit{PartialHit: ph, Document: doc}
	}
	return &FetchDocsResponse{Hits: out}, nil
}
