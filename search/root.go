package search

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/membership"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/stats"
)

// AggregationMerger combines the leaves' intermediate aggregation results.
// The shape of an intermediate result belongs to the index library, so the
// combiner is a collaborator too; nil disables aggregation merging.
type AggregationMerger func(partials [][]byte) ([]byte, error)

// Root orchestrates the fan-out: resolve indexes, list relevant splits,
// place jobs, dispatch leaf requests, merge partial hits, fetch documents.
type Root struct {
	Metastore metastore.Metastore
	Pool      *membership.Pool
	Clients   *ClientPool

	MergeAggs AggregationMerger

	// RetryPolicy: one retry round on a different node for per-split
	// failures marked retryable.
	RetrySplitFailures bool
}

// relevantSplits asks the metastore for published splits intersecting the
// request's time range and tag filter, per matched index.
func (r *Root) relevantSplits(ctx context.Context, req Request) (map[string][]*metastore.SplitMetadata, error) {
	uids, err := r.Metastore.ListIndexes(ctx, req.IndexIDPatterns)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, errs.New(errs.IndexDoesNotExist, "no index matches the request")
	}
	out := make(map[string][]*metastore.SplitMetadata, len(uids))
	for _, uid := range uids {
		splits, err := r.Metastore.ListSplits(ctx, metastore.SplitQuery{
			IndexUIDs:   []string{uid},
			States:      []metastore.SplitState{metastore.Published},
			TimeRangeLo: req.StartTimestamp,
			TimeRangeHi: req.EndTimestamp,
			Tags:        req.Tags,
		})
		if err != nil {
			return nil, err
		}
		out[uid] = splits
	}
	return out, nil
}

func toOffsets(s *metastore.SplitMetadata) SplitOffsets {
	return SplitOffsets{
		SplitID:       s.SplitID,
		FileLen:       s.FooterOffsetEnd,
		FooterStart:   s.FooterOffsetStart,
		FooterEnd:     s.FooterOffsetEnd,
		TimeRangeLo:   s.TimeRangeLo,
		TimeRangeHi:   s.TimeRangeHi,
		NumDocs:       s.NumDocs,
		DeleteOpstamp: s.DeleteOpstamp,
	}
}

type leafDispatch struct {
	addr string
	req  LeafRequest
}

// Search runs the full root protocol and returns the merged response.
func (r *Root) Search(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	bySplitIndex, err := r.relevantSplits(ctx, req)
	if err != nil {
		return nil, err
	}
	searchers := r.searcherNodes()
	if len(searchers) == 0 {
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

	responses, failedRetryable := r.dispatchLeafSearches(ctx, req, jobs, indexURIBySplit, nil)
	if r.RetrySplitFailures && len(failedRetryable) > 0 {
		retryJobs, excluded := failedRetryable.retryPlan(jobs)
		glog.Warningf("root search: retrying %d failed splits away from %d nodes", len(retryJobs), len(excluded))
		retryResponses, _ := r.dispatchLeafSearches(ctx, req, retryJobs, indexURIBySplit, excluded)
		responses = append(responses, retryResponses...)
	}

	numHits, merged := MergePartialHits(responses, req.StartOffset, req.MaxHits)

	var errorsOut []string
	for _, resp := range responses {
		for _, fs := range resp.FailedSplits {
			errorsOut = append(errorsOut, fs.SplitID+": "+fs.Error)
		}
	}

	hits, err := r.fetchDocs(ctx, merged, jobs, indexURIBySplit)
	if err != nil {
		return nil, err
	}

	var aggErr error
	if r.MergeAggs != nil {
		var partials [][]byte
		for _, resp := range responses {
			if len(resp.IntermediateAgg) > 0 {
				partials = append(partials, resp.IntermediateAgg)
			}
		}
		if len(partials) > 0 {
			if _, aggErr = r.MergeAggs(partials); aggErr != nil {
				errorsOut = append(errorsOut, "aggregation merge: "+aggErr.Error())
			}
		}
	}

	stats.T.Observe(stats.RootSearchLatency, time.Since(started))
	return &Response{
		NumHits:       numHits,
		Hits:          hits,
		ElapsedMicros: time.Since(started).Microseconds(),
		Errors:        errorsOut,
	}, nil
}

func (r *Root) searcherNodes() []*membership.Member {
	all := r.Pool.Members()
	out := make([]*membership.Member, 0, len(all))
	for _, m := range all {
		if m.HasService(membership.ServiceSearcher) {
			out = append(out, m)
		}
	}
	return out
}

// failedSplitSet tracks which splits failed on which node during a dispatch
// round.
type failedSplitSet map[string]string // split_id -> addr that failed it

// retryPlan selects the jobs to re-dispatch and the addresses to avoid.
func (f failedSplitSet) retryPlan(jobs []Job) ([]Job, map[string]struct{}) {
	var retry []Job
	excluded := make(map[string]struct{})
	for _, j := range jobs {
		if addr, ok := f[j.Offsets.SplitID]; ok {
			retry = append(retry, j)
			excluded[addr] = struct{}{}
		}
	}
	return retry, excluded
}

// dispatchLeafSearches places jobs and runs the per-node leaf requests
// concurrently, returning the responses plus the set of retryable per-split
// failures.
func (r *Root) dispatchLeafSearches(ctx context.Context, req Request, jobs []Job, indexURIBySplit map[string]string, excluded map[string]struct{}) ([]*LeafResponse, failedSplitSet) {
	placement := PlaceJobs(jobs, r.searcherNodes(), excluded)

	var (
		mu        sync.Mutex
		responses []*LeafResponse
		failed    = make(failedSplitSet)
		wg        sync.WaitGroup
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
			resp, err := r.Clients.Get(addr).LeafSearch(ctx, LeafRequest{
				Request:      req,
				SplitOffsets: offsets,
				IndexURI:     indexURI,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				glog.Warningf("leaf search on %s failed: %v", addr, err)
				for _, o := range offsets {
					failed[o.SplitID] = addr
				}
				return
			}
			for _, fs := range resp.FailedSplits {
				if fs.Retryable {
					failed[fs.SplitID] = addr
				}
			}
			responses = append(responses, resp)
		}()
	}
	wg.Wait()
	return responses, failed
}

// fetchDocs groups partial hits by split, sends per-split fetch requests to
// nodes with affinity for those splits, and zips the hits back into merged
// order.
func (r *Root) fetchDocs(ctx context.Context, merged []PartialHit, jobs []Job, indexURIBySplit map[string]string) ([]Hit, error) {
	if len(merged) == 0 {
		return nil, nil
	}
	offsetsBySplit := make(map[string]SplitOffsets, len(jobs))
	for _, j := range jobs {
		offsetsBySplit[j.Offsets.SplitID] = j.Offsets
	}

	grouped := make(map[string][]PartialHit)
	for _, ph := range merged {
		grouped[ph.SplitID] = append(grouped[ph.SplitID], ph)
	}

	nodes := r.searcherNodes()
	type fetchResult struct {
		hits []Hit
		err  error
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []fetchResult
	)
	for splitID, hits := range grouped {
		splitID, hits := splitID, hits
		node := NodeForSplit(splitID, nodes, nil)
		if node == nil {
			return nil, errs.New(errs.InternalError, "no node available for fetch-docs")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := r.Clients.Get(node.GRPCAddr).FetchDocs(ctx, FetchDocsRequest{
				PartialHits:  hits,
				SplitOffsets: []SplitOffsets{offsetsBySplit[splitID]},
				IndexURI:     indexURIBySplit[splitID],
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results = append(results, fetchResult{err: err})
				return
			}
			results = append(results, fetchResult{hits: resp.Hits})
		}()
	}
	wg.Wait()

	byKey := make(map[PartialHit][]byte)
	for _, res := range results {
		if res.err != nil {
			return nil, errs.Wrap(errs.InternalError, "fetch docs", res.err)
		}
		for _, h := range res.hits {
			byKey[h.PartialHit] = h.Document
		}
	}

	out := make([]Hit, 0, len(merged))
	for _, ph := range merged {
		out = append(out, Hit{PartialHit: ph, Document: byKey[ph]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PartialHit.Less(out[j].PartialHit) })
	return out, nil
}
