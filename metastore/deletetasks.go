package metastore

import (
	"context"
	"sort"
)

// CreateDeleteTask appends a delete task with a freshly allocated,
// monotonically increasing opstamp.
func (m *JSONMetastore) CreateDeleteTask(ctx context.Context, indexUID, query string, timeRangeLo, timeRangeHi *int64, tags []string) (*DeleteTask, error) {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.nextOpstamp++
	task := &DeleteTask{
		Opstamp:     st.nextOpstamp,
		IndexUID:    indexUID,
		Query:       query,
		TimeRangeLo: timeRangeLo,
		TimeRangeHi: timeRangeHi,
		Tags:        tags,
	}
	st.deleteTasks = append(st.deleteTasks, task)
	if err := m.persist(ctx, indexUID, m.snapshotLocked(st)); err != nil {
		st.nextOpstamp--
		st.deleteTasks = st.deleteTasks[:len(st.deleteTasks)-1]
		return nil, err
	}
	return task, nil
}

func (m *JSONMetastore) LastDeleteOpstamp(ctx context.Context, indexUID string) (int64, error) {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return 0, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.nextOpstamp, nil
}

func (m *JSONMetastore) ListDeleteTasks(ctx context.Context, indexUID string, sinceOpstamp int64) ([]*DeleteTask, error) {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []*DeleteTask
	for _, t := range st.deleteTasks {
		if t.Opstamp > sinceOpstamp {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListStaleSplits returns splits whose delete_opstamp has not caught up
// with lastOpstamp, i.e. still need delete reconciliation; a split whose
// opstamp equals the index's latest needs no delete work. Results are
// ordered by delete_opstamp ascending before limit is applied.
func (m *JSONMetastore) ListStaleSplits(ctx context.Context, indexUID string, lastOpstamp int64, limit int) ([]*SplitMetadata, error) {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []*SplitMetadata
	for _, s := range st.splits {
		if s.DeleteOpstamp < lastOpstamp {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeleteOpstamp < out[j].DeleteOpstamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
