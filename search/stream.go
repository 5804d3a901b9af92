package search

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/strata-io/strata/cmn"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/split"
	"golang.org/x/sync/semaphore"
)

// SearchStream is the leaf side of the streaming variant: every split's
// matching rows are emitted as chunks tagged with their split id, with at
// most MaxConcurrentSplitStreams of this call's splits streaming at once.
// The semaphore is created per call, so concurrent calls on the same node
// do not share the cap.
func (l *Leaf) SearchStream(ctx context.Context, req LeafRequest) (<-chan StreamChunk, error) {
	maxStreams := cmn.GCO.Get().Search.MaxConcurrentSplitStreams
	if maxStreams <= 0 {
		maxStreams = 1
	}
	sem := semaphore.NewWeighted(int64(maxStreams))

	out := make(chan StreamChunk, 16)
	var wg sync.WaitGroup
	for _, offsets := range req.SplitOffsets {
		offsets := offsets
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				out <- StreamChunk{SplitID: offsets.SplitID, Err: err}
				return
			}
			defer sem.Release(1)
			l.streamSplit(ctx, rewriteForSplit(req.Request, offsets), offsets, out)
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// streamSplit emits one chunk per matching document's row encoding. Row
// encoding (CSV vs binary) is the index library's concern; here a row is the
// stored document bytes.
func (l *Leaf) streamSplit(ctx context.Context, req Request, offsets SplitOffsets, out chan<- StreamChunk) {
	footer, err := l.resolveFooter(ctx, offsets)
	if err != nil {
		out <- StreamChunk{SplitID: offsets.SplitID, Err: err}
		return
	}
	container := split.OpenWithFooter(l.Storage, splitPath(offsets.SplitID), footer)
	reader, err := l.Opener(ctx, layerDirectories(container, offsets.SplitID, l.FastFields))
	if err != nil {
		out <- StreamChunk{SplitID: offsets.SplitID, Err: errs.Wrap(errs.InternalError, offsets.SplitID+" open index", err)}
		return
	}
	defer reader.Close()

	tsFilter := TimestampFilter{Start: req.StartTimestamp, End: req.EndTimestamp}
	for _, seg := range reader.Segments() {
		seg := seg
		err := seg.Search(ctx, req.Query, false, func(docID uint32, _ float32) error {
			if !tsFilter.Empty() && req.TimestampField != "" {
				ts, ok := seg.FastFieldU64(req.TimestampField, docID)
				if !ok || !tsFilter.Accept(int64(ts)) {
					return nil
				}
			}
			doc, err := seg.Doc(ctx, docID)
			if err != nil {
				return err
			}
			select {
			case out <- StreamChunk{SplitID: offsets.SplitID, Data: doc}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			out <- StreamChunk{SplitID: offsets.SplitID, Err: err}
			return
		}
	}
}

// Stream is the root side: same placement as Search, but each leaf's chunks
// are muxed into one unordered stream.
func (r *Root) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	bySplitIndex, err := r.relevantSplits(ctx, req)
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

	out := make(chan StreamChunk, 64)
	var wg sync.WaitGroup
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
			leafStream, err := r.Clients.Get(addr).LeafSearchStream(ctx, LeafRequest{
				Request:      req,
				SplitOffsets: offsets,
				IndexURI:     indexURI,
			})
			if err != nil {
				glog.Warningf("leaf stream on %s failed: %v", addr, err)
				out <- StreamChunk{Err: err}
				return
			}
			for chunk := range leafStream {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}
