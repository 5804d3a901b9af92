package search

import (
	"sort"

	"github.com/OneOfOne/xxhash"
	"github.com/strata-io/strata/membership"
)

// Job is one unit of placeable leaf work: a split plus its cost. Cost is a
// constant today; the signature leaves room for a metadata-derived weight.
type Job struct {
	Offsets SplitOffsets
	Cost    int64
}

func JobCost(SplitOffsets) int64 { return 1 }

// PlaceJobs assigns jobs to nodes with rendezvous hashing over split id:
// for every node compute hash(node_id || split_id), sort nodes by that hash
// descending, then pick the least-loaded of the top two so placement stays
// stable under node churn while still balancing. excluded addresses are
// skipped unless that would empty the pool.
func PlaceJobs(jobs []Job, nodes []*membership.Member, excluded map[string]struct{}) map[string][]Job {
	candidates := nodes
	if len(excluded) > 0 {
		kept := make([]*membership.Member, 0, len(nodes))
		for _, n := range nodes {
			if _, skip := excluded[n.GRPCAddr]; !skip {
				kept = append(kept, n)
			}
		}
		if len(kept) > 0 {
			candidates = kept
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Place the biggest jobs first so load accumulation balances well.
	ordered := make([]Job, len(jobs))
	copy(ordered, jobs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Cost > ordered[j].Cost })

	load := make(map[string]int64, len(candidates))
	out := make(map[string][]Job)

	type ranked struct {
		node *membership.Member
		hash uint64
	}
	for _, job := range ordered {
		ranks := make([]ranked, 0, len(candidates))
		for _, n := range candidates {
			h := xxhash.ChecksumString64S(n.ID+job.Offsets.SplitID, 0)
			ranks = append(ranks, ranked{node: n, hash: h})
		}
		sort.Slice(ranks, func(i, j int) bool { return ranks[i].hash > ranks[j].hash })

		top := ranks
		if len(top) > 2 {
			top = top[:2]
		}
		best := top[0]
		for _, r := range top[1:] {
			if load[r.node.GRPCAddr] < load[best.node.GRPCAddr] {
				best = r
			}
			// Equal load: keep the larger hash, i.e. the earlier-ranked node.
		}
		load[best.node.GRPCAddr] += job.Cost
		out[best.node.GRPCAddr] = append(out[best.node.GRPCAddr], job)
	}
	return out
}

// NodeForSplit returns the rendezvous-preferred node for one split, used by
// the fetch-docs phase to keep affinity with the node that already warmed
// the split up.
func NodeForSplit(splitID string, nodes []*membership.Member, excluded map[string]struct{}) *membership.Member {
	var best *membership.Member
	var bestHash uint64
	for _, n := range nodes {
		if _, skip := excluded[n.GRPCAddr]; skip {
			continue
		}
		h := xxhash.ChecksumString64S(n.ID+splitID, 0)
		if best == nil || h > bestHash {
			best, bestHash = n, h
		}
	}
	if best == nil && len(nodes) > 0 {
		// Exclusion would empty the pool; ignore it.
		return NodeForSplit(splitID, nodes, nil)
	}
	return best
}
