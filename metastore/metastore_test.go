package metastore_test

import (
	"context"
	"testing"

	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/store"
)

func newTestStore(t *testing.T) *metastore.JSONMetastore {
	t.Helper()
	return metastore.NewJSONMetastore(nil)
}

// Create index idx; publish split A with delta {p: 0->10}.
// Attempt publish_splits([B], delta {p: 5->15}) must fail with
// IncompatibleCheckpointDelta; list_splits(state=Published) returns [A].
func TestCheckpointMonotonicity(t *testing.T) {
	ms := newTestStore(t)
	ctx := context.Background()

	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx"})
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, ms.StageSplits(ctx, "idx", []metastore.SplitMetadata{
		{SplitID: "A"}, {SplitID: "B"},
	}))

	err = ms.PublishSplits(ctx, "idx", []string{"A"}, nil, []metastore.CheckpointDelta{
		{SourceID: "s", PartitionID: "p", From: 0, To: 10},
	})
	tassert.CheckFatal(t, err)

	err = ms.PublishSplits(ctx, "idx", []string{"B"}, nil, []metastore.CheckpointDelta{
		{SourceID: "s", PartitionID: "p", From: 5, To: 15},
	})
	tassert.Fatalf(t, err != nil, "expected IncompatibleCheckpointDelta error")
	tassert.Errorf(t, errs.KindOf(err) == errs.IncompatibleCheckpointDelta, "expected IncompatibleCheckpointDelta kind, got %v", errs.KindOf(err))

	published, err := ms.ListSplits(ctx, metastore.SplitQuery{States: []metastore.SplitState{metastore.Published}})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(published) == 1, "expected exactly one published split, got %d", len(published))
	tassert.Errorf(t, published[0].SplitID == "A", "expected A published, got %s", published[0].SplitID)
}

func TestPublishSplitsIsAtomicOnFailure(t *testing.T) {
	ms := newTestStore(t)
	ctx := context.Background()
	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx"})
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, ms.StageSplits(ctx, "idx", []metastore.SplitMetadata{{SplitID: "A"}}))

	err = ms.PublishSplits(ctx, "idx", []string{"does-not-exist"}, nil, nil)
	tassert.Fatalf(t, err != nil, "expected error for unknown split")

	splits, err := ms.ListSplits(ctx, metastore.SplitQuery{States: []metastore.SplitState{metastore.Published}})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(splits) == 0, "expected no splits published after failed call")
}

func TestDeleteSplitsForbidsPublished(t *testing.T) {
	ms := newTestStore(t)
	ctx := context.Background()
	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx"})
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, ms.StageSplits(ctx, "idx", []metastore.SplitMetadata{{SplitID: "A"}}))
	tassert.CheckFatal(t, ms.PublishSplits(ctx, "idx", []string{"A"}, nil, nil))

	err = ms.DeleteSplits(ctx, "idx", []string{"A"})
	tassert.Fatalf(t, err != nil, "expected Forbidden error")
	tassert.Errorf(t, errs.KindOf(err) == errs.Forbidden, "expected Forbidden kind, got %v", errs.KindOf(err))
}

func TestCreateDeleteTaskAllocatesMonotonicOpstamp(t *testing.T) {
	ms := newTestStore(t)
	ctx := context.Background()
	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx"})
	tassert.CheckFatal(t, err)

	t1, err := ms.CreateDeleteTask(ctx, "idx", "body:delete", nil, nil, nil)
	tassert.CheckFatal(t, err)
	t2, err := ms.CreateDeleteTask(ctx, "idx", "MatchNothing", nil, nil, nil)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, t2.Opstamp == t1.Opstamp+1, "expected monotonically increasing opstamps, got %d then %d", t1.Opstamp, t2.Opstamp)
}

func TestPersistAndReloadFromStorage(t *testing.T) {
	ctx := context.Background()
	remote := store.NewMemStore()

	ms := metastore.NewJSONMetastore(metastore.PersistToStorage(remote))
	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx", IndexURI: "ram://idx"})
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, ms.StageSplits(ctx, "idx", []metastore.SplitMetadata{{SplitID: "A"}}))
	tassert.CheckFatal(t, ms.PublishSplits(ctx, "idx", []string{"A"}, nil, []metastore.CheckpointDelta{
		{SourceID: "s", PartitionID: "p", From: 0, To: 5},
	}))
	_, err = ms.CreateDeleteTask(ctx, "idx", "body:x", nil, nil, nil)
	tassert.CheckFatal(t, err)

	// A fresh instance rehydrates the same state from storage.
	fresh := metastore.NewJSONMetastore(metastore.PersistToStorage(remote))
	tassert.CheckFatal(t, fresh.LoadFromStorage(ctx, remote, "idx"))

	splits, err := fresh.ListSplits(ctx, metastore.SplitQuery{States: []metastore.SplitState{metastore.Published}})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(splits) == 1 && splits[0].SplitID == "A", "expected published A after reload, got %v", splits)

	last, err := fresh.LastDeleteOpstamp(ctx, "idx")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, last == 1, "expected opstamp 1 after reload, got %d", last)

	meta, err := fresh.IndexMetadata(ctx, "idx")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, meta.Checkpoints["s"]["p"] == 5, "expected checkpoint position 5 after reload")
}
