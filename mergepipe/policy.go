// Package mergepipe implements background split merging: a planner that
// groups published splits into merge operations, a downloader and executor
// sharing an I/O throughput limit, and the package/upload/publish tail it
// shares with the indexing pipeline.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package mergepipe

import (
	"sort"
	"sync"
	"time"

	"github.com/strata-io/strata/metastore"
)

// Policy is the stable multi-tenant merge policy: splits merge with peers of
// the same merge generation within their partition, until they are mature.
type Policy struct {
	TargetSplitSizeBytes int64
	MaxMergeFactor       int
	MinMergeFactor       int
	MaturityAge          time.Duration
}

// IsMature reports whether a split is done merging: it reached the target
// size, or it aged out.
func (p Policy) IsMature(s *metastore.SplitMetadata, now time.Time) bool {
	if s.UncompressedDocsSize >= p.TargetSplitSizeBytes {
		return true
	}
	return now.Sub(s.CreateTimestamp) >= p.MaturityAge
}

// OpKind distinguishes a size-driven merge from a delete-applying merge.
type OpKind int

const (
	KindMerge OpKind = iota
	KindDeleteAndMerge
)

// Operation is one planned unit of merge work.
type Operation struct {
	Kind          OpKind
	IndexUID      string
	Splits        []*metastore.SplitMetadata
	DeleteQueries []string
	DeleteOpstamp int64 // the index's latest opstamp at planning time
}

func (op *Operation) SplitIDs() []string {
	ids := make([]string, len(op.Splits))
	for i, s := range op.Splits {
		ids[i] = s.SplitID
	}
	return ids
}

// Plan groups published splits by partition, then by merge generation, and
// emits an operation whenever a generation accumulates max_merge_factor
// same-level splits. Mature splits never participate.
func (p Policy) Plan(indexUID string, splits []*metastore.SplitMetadata, now time.Time, exclude func(splitID string) bool) []*Operation {
	byPartition := make(map[string][]*metastore.SplitMetadata)
	for _, s := range splits {
		if s.State != metastore.Published || p.IsMature(s, now) {
			continue
		}
		if exclude != nil && exclude(s.SplitID) {
			continue
		}
		byPartition[s.PartitionID] = append(byPartition[s.PartitionID], s)
	}

	var ops []*Operation
	for _, group := range byPartition {
		byLevel := make(map[int][]*metastore.SplitMetadata)
		for _, s := range group {
			byLevel[s.NumMergeOps] = append(byLevel[s.NumMergeOps], s)
		}
		for _, level := range sortedLevels(byLevel) {
			peers := byLevel[level]
			sort.Slice(peers, func(i, j int) bool { return peers[i].SplitID < peers[j].SplitID })
			for len(peers) >= p.MaxMergeFactor {
				ops = append(ops, &Operation{
					Kind:     KindMerge,
					IndexUID: indexUID,
					Splits:   peers[:p.MaxMergeFactor],
				})
				peers = peers[p.MaxMergeFactor:]
			}
		}
	}
	return ops
}

func sortedLevels(byLevel map[int][]*metastore.SplitMetadata) []int {
	levels := make([]int, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels
}

// Inventory tracks splits already claimed by an in-flight operation so the
// planner and the delete planner never schedule overlapping work.
type Inventory struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewInventory() *Inventory {
	return &Inventory{inFlight: make(map[string]struct{})}
}

// TryClaim atomically claims every split of op, failing without claiming
// anything if any is already taken.
func (inv *Inventory) TryClaim(op *Operation) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, id := range op.SplitIDs() {
		if _, taken := inv.inFlight[id]; taken {
			return false
		}
	}
	for _, id := range op.SplitIDs() {
		inv.inFlight[id] = struct{}{}
	}
	return true
}

func (inv *Inventory) Release(op *Operation) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, id := range op.SplitIDs() {
		delete(inv.inFlight, id)
	}
}

func (inv *Inventory) InFlight(splitID string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	_, ok := inv.inFlight[splitID]
	return ok
}
