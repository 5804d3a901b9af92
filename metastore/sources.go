package metastore

import (
	"context"

	"github.com/strata-io/strata/cmn/errs"
)

func (m *JSONMetastore) AddSource(ctx context.Context, indexUID string, src SourceMetadata) error {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	src.Enabled = true
	st.meta.Sources[src.SourceID] = &src
	if st.meta.Checkpoints[src.SourceID] == nil {
		st.meta.Checkpoints[src.SourceID] = make(map[string]int64)
	}
	return m.persist(ctx, indexUID, m.snapshotLocked(st))
}

func (m *JSONMetastore) ToggleSource(ctx context.Context, indexUID, sourceID string, enable bool) error {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	src, ok := st.meta.Sources[sourceID]
	if !ok {
		return errs.New(errs.InvalidArgument, "unknown source "+sourceID)
	}
	src.Enabled = enable
	return m.persist(ctx, indexUID, m.snapshotLocked(st))
}

func (m *JSONMetastore) DeleteSource(ctx context.Context, indexUID, sourceID string) error {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.meta.Sources, sourceID)
	delete(st.meta.Checkpoints, sourceID)
	return m.persist(ctx, indexUID, m.snapshotLocked(st))
}

func (m *JSONMetastore) ResetSourceCheckpoint(ctx context.Context, indexUID, sourceID string) error {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.meta.Checkpoints[sourceID] = make(map[string]int64)
	return m.persist(ctx, indexUID, m.snapshotLocked(st))
}
