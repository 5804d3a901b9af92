package metastore

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/cmn/jsp"
	"github.com/strata-io/strata/store"
)

// Metastore is the registry surface. All methods are safe for concurrent
// use.
type Metastore interface {
	CreateIndex(ctx context.Context, cfg IndexConfig) (*IndexMetadata, error)
	DeleteIndex(ctx context.Context, indexUID string) error
	ListIndexes(ctx context.Context, patterns []string) ([]string, error)
	IndexMetadata(ctx context.Context, indexUID string) (*IndexMetadata, error)
	ListIndexesMetadata(ctx context.Context, patterns []string) ([]*IndexMetadata, error)

	AddSource(ctx context.Context, indexUID string, src SourceMetadata) error
	ToggleSource(ctx context.Context, indexUID, sourceID string, enable bool) error
	DeleteSource(ctx context.Context, indexUID, sourceID string) error
	ResetSourceCheckpoint(ctx context.Context, indexUID, sourceID string) error

	StageSplits(ctx context.Context, indexUID string, splits []SplitMetadata) error
	PublishSplits(ctx context.Context, indexUID string, newIDs, replacedIDs []string, delta []CheckpointDelta) error
	MarkSplitsForDeletion(ctx context.Context, indexUID string, splitIDs []string) error
	DeleteSplits(ctx context.Context, indexUID string, splitIDs []string) error
	ListSplits(ctx context.Context, q SplitQuery) ([]*SplitMetadata, error)
	UpdateSplitsDeleteOpstamp(ctx context.Context, indexUID string, splitIDs []string, opstamp int64) error

	CreateDeleteTask(ctx context.Context, indexUID, query string, timeRangeLo, timeRangeHi *int64, tags []string) (*DeleteTask, error)
	LastDeleteOpstamp(ctx context.Context, indexUID string) (int64, error)
	ListDeleteTasks(ctx context.Context, indexUID string, sinceOpstamp int64) ([]*DeleteTask, error)
	ListStaleSplits(ctx context.Context, indexUID string, lastOpstamp int64, limit int) ([]*SplitMetadata, error)
}

// indexState is the per-index in-memory record guarded by its own RWMutex
// so indexes never contend with each other.
type indexState struct {
	mu          sync.RWMutex
	meta        *IndexMetadata
	splits      map[string]*SplitMetadata
	deleteTasks []*DeleteTask
	nextOpstamp int64
}

// JSONMetastore is the single-JSON-file-backed implementation: one file per
// index on the abstract storage, with a read-through in-memory cache and a
// write-through put. persist is called with the lock for that index held,
// after every mutation, so the in-memory cache never leads the persisted
// state.
type JSONMetastore struct {
	mu      sync.RWMutex
	indexes map[string]*indexState
	persist func(ctx context.Context, uid string, snapshot IndexSnapshot) error
}

// IndexSnapshot is the JSON-serializable shape persisted per index.
type IndexSnapshot struct {
	Meta        *IndexMetadata            `json:"meta"`
	Splits      map[string]*SplitMetadata `json:"splits"`
	DeleteTasks []*DeleteTask             `json:"deleteTasks"`
	NextOpstamp int64                     `json:"nextOpstamp"`
}

// NewJSONMetastore constructs an empty metastore whose persist hook is
// called after every mutating call. Callers needing durability wire persist
// to cmn/jsp.Save against a store.Storage; tests may pass a no-op.
func NewJSONMetastore(persist func(ctx context.Context, uid string, snapshot IndexSnapshot) error) *JSONMetastore {
	if persist == nil {
		persist = func(context.Context, string, IndexSnapshot) error { return nil }
	}
	return &JSONMetastore{indexes: make(map[string]*indexState), persist: persist}
}

// metastoreFileName is the per-index metadata document, rewritten in full
// on every change.
const metastoreFileName = "metastore.json"

// PersistToStorage returns a persist hook writing each index's snapshot
// through cmn/jsp to indexes/<uid>/metastore.json on s.
func PersistToStorage(s store.Storage) func(ctx context.Context, uid string, snapshot IndexSnapshot) error {
	return func(ctx context.Context, uid string, snapshot IndexSnapshot) error {
		return jsp.Save(ctx, s, path.Join("indexes", uid, metastoreFileName), snapshot)
	}
}

// LoadFromStorage rehydrates one index's state from its persisted snapshot,
// used at startup before the in-memory cache starts serving reads.
func (m *JSONMetastore) LoadFromStorage(ctx context.Context, s store.Storage, uid string) error {
	var snapshot IndexSnapshot
	if err := jsp.Load(ctx, s, path.Join("indexes", uid, metastoreFileName), &snapshot); err != nil {
		return err
	}
	if snapshot.Meta == nil {
		return errs.New(errs.InvalidManifest, "snapshot for "+uid+" has no index metadata")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[uid] = &indexState{
		meta:        snapshot.Meta,
		splits:      snapshot.Splits,
		deleteTasks: snapshot.DeleteTasks,
		nextOpstamp: snapshot.NextOpstamp,
	}
	return nil
}

func (m *JSONMetastore) getIndex(indexUID string) (*indexState, error) {
	m.mu.RLock()
	st, ok := m.indexes[indexUID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.IndexDoesNotExist, indexUID)
	}
	return st, nil
}

func (m *JSONMetastore) snapshotLocked(st *indexState) IndexSnapshot {
	return IndexSnapshot{Meta: st.meta, Splits: st.splits, DeleteTasks: st.deleteTasks, NextOpstamp: st.nextOpstamp}
}

func (m *JSONMetastore) CreateIndex(ctx context.Context, cfg IndexConfig) (*IndexMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[cfg.IndexID]; ok {
		return nil, errs.New(errs.IndexAlreadyExists, cfg.IndexID)
	}
	meta := &IndexMetadata{
		IndexID:     cfg.IndexID,
		IndexUID:    cfg.IndexID,
		IndexURI:    cfg.IndexURI,
		Config:      cfg,
		Sources:     make(map[string]*SourceMetadata),
		Checkpoints: make(map[string]map[string]int64),
		CreatedAt:   time.Now(),
	}
	st := &indexState{meta: meta, splits: make(map[string]*SplitMetadata)}
	m.indexes[cfg.IndexID] = st
	if err := m.persist(ctx, meta.IndexUID, m.snapshotLocked(st)); err != nil {
		delete(m.indexes, cfg.IndexID)
		return nil, err
	}
	return meta, nil
}

func (m *JSONMetastore) DeleteIndex(ctx context.Context, indexUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[indexUID]; !ok {
		return errs.New(errs.IndexDoesNotExist, indexUID)
	}
	delete(m.indexes, indexUID)
	return nil
}

func (m *JSONMetastore) ListIndexes(ctx context.Context, patterns []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return matchPatterns(patterns, func() []string {
		ids := make([]string, 0, len(m.indexes))
		for id := range m.indexes {
			ids = append(ids, id)
		}
		return ids
	})
}

func (m *JSONMetastore) IndexMetadata(ctx context.Context, indexUID string) (*IndexMetadata, error) {
	st, err := m.getIndex(indexUID)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.meta, nil
}

func (m *JSONMetastore) ListIndexesMetadata(ctx context.Context, patterns []string) ([]*IndexMetadata, error) {
	ids, err := m.ListIndexes(ctx, patterns)
	if err != nil {
		return nil, err
	}
	out := make([]*IndexMetadata, 0, len(ids))
	for _, id := range ids {
		meta, err := m.IndexMetadata(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// matchPatterns glob-matches ids; a non-glob pattern matching nothing is an
// error.
func matchPatterns(patterns []string, allIDs func() []string) ([]string, error) {
	if len(patterns) == 0 {
		return allIDs(), nil
	}
	ids := allIDs()
	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		matchedAny := false
		isGlob := strings.ContainsAny(p, "*?[")
		for _, id := range ids {
			ok, err := path.Match(p, id)
			if err != nil {
				return nil, errs.Wrap(errs.InvalidArgument, "bad pattern "+p, err)
			}
			if ok {
				matchedAny = true
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
		if !matchedAny && !isGlob {
			return nil, errs.New(errs.IndexDoesNotExist, p)
		}
	}
	return out, nil
}
