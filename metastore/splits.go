package metastore

import (
	"context"

	"github.com/strata-io/strata/cmn/errs"
)

func (m *JSONMetastore) StageSplits(ctx context.Context, indexUID string, splits []SplitMetadata) error {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, s := range splits {
		if _, exists := st.splits[s.SplitID]; exists {
			return errs.New(errs.InvalidArgument, "split already exists: "+s.SplitID)
		}
	}
	for i := range splits {
		s := splits[i]
		s.State = Staged
		st.splits[s.SplitID] = &s
	}
	return m.persist(ctx, indexUID, m.snapshotLocked(st))
}

// applyCheckpointDelta validates and applies a delta in place: accepted
// only if, for each partition, the delta's From equals the stored position;
// the stored position then becomes the delta's To. Every partition is
// validated before any position is written, so a rejected delta leaves
// checkpoints untouched.
func applyCheckpointDelta(checkpoints map[string]map[string]int64, delta []CheckpointDelta) error {
	for _, d := range delta {
		part := checkpoints[d.SourceID]
		var cur int64
		if part != nil {
			cur = part[d.PartitionID]
		}
		if cur != d.From {
			return errs.New(errs.IncompatibleCheckpointDelta, d.SourceID+"/"+d.PartitionID)
		}
	}
	for _, d := range delta {
		if checkpoints[d.SourceID] == nil {
			checkpoints[d.SourceID] = make(map[string]int64)
		}
		checkpoints[d.SourceID][d.PartitionID] = d.To
	}
	return nil
}

// PublishSplits is one atomic transition: apply the checkpoint
// delta, move new_ids Staged->Published (idempotent if already Published),
// and move replaced_ids to MarkedForDeletion. On any failure nothing is
// persisted.
func (m *JSONMetastore) PublishSplits(ctx context.Context, indexUID string, newIDs, replacedIDs []string, delta []CheckpointDelta) error {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, id := range newIDs {
		s, ok := st.splits[id]
		if !ok {
			return errs.New(errs.SplitDoesNotExist, id)
		}
		if s.State != Staged && s.State != Published {
			return errs.New(errs.InvalidArgument, "split "+id+" not in Staged state")
		}
	}
	for _, id := range replacedIDs {
		if _, ok := st.splits[id]; !ok {
			return errs.New(errs.SplitDoesNotExist, id)
		}
	}

	if len(delta) > 0 {
		if err := applyCheckpointDelta(st.meta.Checkpoints, delta); err != nil {
			return err
		}
	}
	for _, id := range newIDs {
		st.splits[id].State = Published
	}
	for _, id := range replacedIDs {
		st.splits[id].State = MarkedForDeletion
	}
	return m.persist(ctx, indexUID, m.snapshotLocked(st))
}

func (m *JSONMetastore) MarkSplitsForDeletion(ctx context.Context, indexUID string, splitIDs []string) error {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, id := range splitIDs {
		if s, ok := st.splits[id]; ok {
			s.State = MarkedForDeletion
		}
	}
	return m.persist(ctx, indexUID, m.snapshotLocked(st))
}

// DeleteSplits hard-deletes Staged or MarkedForDeletion splits; a Published
// split triggers Forbidden.
func (m *JSONMetastore) DeleteSplits(ctx context.Context, indexUID string, splitIDs []string) error {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, id := range splitIDs {
		s, ok := st.splits[id]
		if !ok {
			continue
		}
		if s.State == Published {
			return errs.New(errs.Forbidden, "split "+id+" is Published")
		}
	}
	for _, id := range splitIDs {
		delete(st.splits, id)
	}
	return m.persist(ctx, indexUID, m.snapshotLocked(st))
}

func (m *JSONMetastore) UpdateSplitsDeleteOpstamp(ctx context.Context, indexUID string, splitIDs []string, opstamp int64) error {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, id := range splitIDs {
		if s, ok := st.splits[id]; ok {
			s.DeleteOpstamp = opstamp
		}
	}
	return m.persist(ctx, indexUID, m.snapshotLocked(st))
}

// ListSplits filters by index/state/time-range (half-open query
// intersecting the split's inclusive range),
// tags (AND of conjuncts, each satisfied by an exact tag or its field's
// catch-all marker), delete_opstamp cutoff, and maturity.
func (m *JSONMetastore) ListSplits(ctx context.Context, q SplitQuery) ([]*SplitMetadata, error) {
	m.mu.RLock()
	var indexUIDs []string
	if len(q.IndexUIDs) > 0 {
		indexUIDs = q.IndexUIDs
	} else {
		for id := range m.indexes {
			indexUIDs = append(indexUIDs, id)
		}
	}
	m.mu.RUnlock()

	var out []*SplitMetadata
	for _, uid := range indexUIDs {
		st, err := m.getIndex(uid)
		if err != nil {
			continue
		}
		st.mu.RLock()
		for _, s := range st.splits {
			if matchesQuery(s, q) {
				out = append(out, s)
			}
		}
		st.mu.RUnlock()
		if q.Limit > 0 && len(out) >= q.Limit {
			out = out[:q.Limit]
			break
		}
	}
	return out, nil
}

func matchesQuery(s *SplitMetadata, q SplitQuery) bool {
	if len(q.States) > 0 {
		found := false
		for _, st := range q.States {
			if s.State == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	// half-open [a,b) intersects inclusive [lo,hi] iff a<=hi && lo<b.
	if q.TimeRangeLo != nil || q.TimeRangeHi != nil {
		if s.TimeRangeLo == nil || s.TimeRangeHi == nil {
			return false
		}
		if q.TimeRangeLo != nil && *q.TimeRangeLo > *s.TimeRangeHi {
			return false
		}
		if q.TimeRangeHi != nil && *s.TimeRangeLo >= *q.TimeRangeHi {
			return false
		}
	}
	if q.DeleteOpstampMax != nil && s.DeleteOpstamp > *q.DeleteOpstampMax {
		return false
	}
	if q.MatureOnly {
		if q.Now.Sub(s.CreateTimestamp) < q.MaturityAge {
			return false
		}
	}
	for _, conj := range q.Tags {
		if !hasTagOrWildcard(s.Tags, conj.Field, conj.Value) {
			return false
		}
	}
	return true
}

func hasTagOrWildcard(tags []string, field, value string) bool {
	exact := field + ":" + value
	wildcard := field + ":*"
	for _, t := range tags {
		if t == exact || t == wildcard {
			return true
		}
	}
	return false
}
