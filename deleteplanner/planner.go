// Package deleteplanner reconciles pending delete tasks against mature
// splits: splits a delete query cannot touch get their opstamp bumped
// cheaply, and only splits a probe proves affected are scheduled for a
// delete-and-merge.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package deleteplanner

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/mergepipe"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/search"
)

// LeafProbe runs a zero-hit leaf search just to learn whether a query
// matches anything in one split.
type LeafProbe interface {
	NumHitsNonZero(ctx context.Context, indexURI string, query string, offsets search.SplitOffsets) (bool, error)
}

// SearcherProbe implements LeafProbe over an in-process leaf.
type SearcherProbe struct {
	Leaf *search.Leaf
}

func (p *SearcherProbe) NumHitsNonZero(ctx context.Context, indexURI string, query string, offsets search.SplitOffsets) (bool, error) {
	resp, err := p.Leaf.Search(ctx, search.LeafRequest{
		Request:      search.Request{Query: query, MaxHits: 0},
		SplitOffsets: []search.SplitOffsets{offsets},
		IndexURI:     indexURI,
	})
	if err != nil {
		return false, err
	}
	if len(resp.FailedSplits) > 0 {
		fs := resp.FailedSplits[0]
		return false, errs.New(errs.InternalError, "probe "+fs.SplitID+": "+fs.Error)
	}
	return resp.NumHits > 0, nil
}

// Planner scans one index's stale splits each cycle.
type Planner struct {
	IndexUID  string
	Metastore metastore.Metastore
	Policy    mergepipe.Policy
	Inventory *mergepipe.Inventory
	Probe     LeafProbe
	Out       mergepipe.Enqueuer

	// StaleFetchLimit bounds how many stale splits one cycle considers.
	StaleFetchLimit int
}

const defaultStaleFetchLimit = 100

// Cycle runs one planning pass.
func (p *Planner) Cycle(ctx context.Context) error {
	lastOpstamp, err := p.Metastore.LastDeleteOpstamp(ctx, p.IndexUID)
	if err != nil {
		return err
	}
	if lastOpstamp == 0 {
		return nil
	}

	limit := p.StaleFetchLimit
	if limit <= 0 {
		limit = defaultStaleFetchLimit
	}
	stale, err := p.Metastore.ListStaleSplits(ctx, p.IndexUID, lastOpstamp, limit)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, s := range stale {
		if !p.Policy.IsMature(s, now) {
			continue
		}
		if p.Inventory.InFlight(s.SplitID) {
			continue
		}
		if err := p.planSplit(ctx, s, lastOpstamp); err != nil {
			glog.Warningf("delete planner %s/%s: %v", p.IndexUID, s.SplitID, err)
		}
	}
	return nil
}

// planSplit decides one split's fate: bump the opstamp if no pending delete
// can touch it, otherwise probe and either bump or schedule the merge.
func (p *Planner) planSplit(ctx context.Context, s *metastore.SplitMetadata, lastOpstamp int64) error {
	tasks, err := p.Metastore.ListDeleteTasks(ctx, p.IndexUID, s.DeleteOpstamp)
	if err != nil {
		return err
	}
	tasks = pruneUnmatchable(tasks, s)
	if len(tasks) == 0 {
		return p.bump(ctx, s, lastOpstamp)
	}

	offsets := search.SplitOffsets{
		SplitID:     s.SplitID,
		FileLen:     s.FooterOffsetEnd,
		FooterStart: s.FooterOffsetStart,
		FooterEnd:   s.FooterOffsetEnd,
		TimeRangeLo: s.TimeRangeLo,
		TimeRangeHi: s.TimeRangeHi,
	}
	meta, err := p.Metastore.IndexMetadata(ctx, p.IndexUID)
	if err != nil {
		return err
	}

	var queries []string
	anyMatch := false
	for _, task := range tasks {
		queries = append(queries, task.Query)
		if anyMatch {
			continue
		}
		match, err := p.Probe.NumHitsNonZero(ctx, meta.IndexURI, task.Query, offsets)
		if err != nil {
			return err
		}
		if match {
			anyMatch = true
		}
	}
	if !anyMatch {
		return p.bump(ctx, s, lastOpstamp)
	}

	op := &mergepipe.Operation{
		Kind:          mergepipe.KindDeleteAndMerge,
		IndexUID:      p.IndexUID,
		Splits:        []*metastore.SplitMetadata{s},
		DeleteQueries: queries,
		DeleteOpstamp: lastOpstamp,
	}
	if !p.Inventory.TryClaim(op) {
		return nil
	}
	if !p.Out.Enqueue(op) {
		p.Inventory.Release(op)
		return nil
	}
	glog.Infof("delete planner %s: scheduled delete-and-merge of %s (%d queries)",
		p.IndexUID, s.SplitID, len(queries))
	return nil
}

func (p *Planner) bump(ctx context.Context, s *metastore.SplitMetadata, lastOpstamp int64) error {
	return p.Metastore.UpdateSplitsDeleteOpstamp(ctx, p.IndexUID, []string{s.SplitID}, lastOpstamp)
}

// pruneUnmatchable drops tasks whose time range or tags cannot intersect
// the split, so they never cost a probe.
func pruneUnmatchable(tasks []*metastore.DeleteTask, s *metastore.SplitMetadata) []*metastore.DeleteTask {
	var out []*metastore.DeleteTask
	for _, t := range tasks {
		if !timeRangesIntersect(t.TimeRangeLo, t.TimeRangeHi, s.TimeRangeLo, s.TimeRangeHi) {
			continue
		}
		if !tagsCanMatch(t.Tags, s.Tags) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// timeRangesIntersect applies the half-open-vs-inclusive rule: the task's
// [lo, hi) window intersects the split's inclusive [lo, hi].
func timeRangesIntersect(taskLo, taskHi, splitLo, splitHi *int64) bool {
	if taskLo == nil && taskHi == nil {
		return true
	}
	if splitLo == nil || splitHi == nil {
		return true // untimed split: cannot rule the task out
	}
	if taskLo != nil && *taskLo > *splitHi {
		return false
	}
	if taskHi != nil && *splitLo >= *taskHi {
		return false
	}
	return true
}

// tagsCanMatch mirrors the metastore's tag filter: every task tag must be
// present exactly or covered by its field's catch-all marker.
func tagsCanMatch(taskTags, splitTags []string) bool {
	for _, want := range taskTags {
		field := want
		for i := 0; i < len(want); i++ {
			if want[i] == ':' {
				field = want[:i]
				break
			}
		}
		found := false
		for _, have := range splitTags {
			if have == want || have == field+":*" {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
