package deleteplanner_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strata-io/strata/deleteplanner"
	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/mergepipe"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/search"
)

// bodyProbe answers probes from an in-memory map of split contents: a query
// "field:value" matches when any body contains the value.
type bodyProbe struct {
	bodies map[string][]string // split_id -> bodies
}

func (p *bodyProbe) NumHitsNonZero(ctx context.Context, indexURI, query string, offsets search.SplitOffsets) (bool, error) {
	needle := query
	if i := strings.Index(query, ":"); i >= 0 {
		needle = query[i+1:]
	}
	for _, body := range p.bodies[offsets.SplitID] {
		if strings.Contains(body, needle) {
			return true, nil
		}
	}
	return false, nil
}

type recordingEnqueuer struct {
	mu  sync.Mutex
	ops []*mergepipe.Operation
}

func (e *recordingEnqueuer) Enqueue(op *mergepipe.Operation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, op)
	return true
}

// Three mature splits, two delete tasks ("body:delete" and one matching
// nothing): exactly one delete-and-merge is emitted, for the split whose
// body contains "delete"; the other two get their opstamp bumped to the
// latest.
func TestDeletePlannerProbesBeforeScheduling(t *testing.T) {
	ctx := context.Background()
	ms := metastore.NewJSONMetastore(nil)
	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx", IndexURI: "ram://idx"})
	tassert.CheckFatal(t, err)

	old := time.Now().Add(-3 * time.Hour)
	for _, id := range []string{"s1", "s2", "s3"} {
		tassert.CheckFatal(t, ms.StageSplits(ctx, "idx", []metastore.SplitMetadata{{
			SplitID:         id,
			IndexUID:        "idx",
			CreateTimestamp: old,
		}}))
		tassert.CheckFatal(t, ms.PublishSplits(ctx, "idx", []string{id}, nil, nil))
	}

	_, err = ms.CreateDeleteTask(ctx, "idx", "body:delete", nil, nil, nil)
	tassert.CheckFatal(t, err)
	_, err = ms.CreateDeleteTask(ctx, "idx", "body:MatchNothing", nil, nil, nil)
	tassert.CheckFatal(t, err)

	out := &recordingEnqueuer{}
	p := &deleteplanner.Planner{
		IndexUID:  "idx",
		Metastore: ms,
		Policy: mergepipe.Policy{
			TargetSplitSizeBytes: 1 << 30,
			MaxMergeFactor:       10,
			MaturityAge:          time.Hour,
		},
		Inventory: mergepipe.NewInventory(),
		Probe: &bodyProbe{bodies: map[string][]string{
			"s1": {"keep this"},
			"s2": {"please delete me"},
			"s3": {"also keep"},
		}},
		Out: out,
	}
	tassert.CheckFatal(t, p.Cycle(ctx))

	tassert.Fatalf(t, len(out.ops) == 1, "expected exactly 1 delete-and-merge, got %d", len(out.ops))
	op := out.ops[0]
	tassert.Errorf(t, op.Kind == mergepipe.KindDeleteAndMerge, "expected a delete-and-merge op")
	tassert.Fatalf(t, len(op.Splits) == 1 && op.Splits[0].SplitID == "s2",
		"expected the op to target s2, got %v", op.SplitIDs())
	tassert.Errorf(t, op.DeleteOpstamp == 2, "op must carry the latest opstamp, got %d", op.DeleteOpstamp)

	splits, err := ms.ListSplits(ctx, metastore.SplitQuery{IndexUIDs: []string{"idx"}})
	tassert.CheckFatal(t, err)
	for _, s := range splits {
		switch s.SplitID {
		case "s2":
			tassert.Errorf(t, s.DeleteOpstamp == 0, "scheduled split keeps its opstamp until the merge publishes")
		default:
			tassert.Errorf(t, s.DeleteOpstamp == 2, "untouched split %s must be bumped to 2, got %d", s.SplitID, s.DeleteOpstamp)
		}
	}
}

func TestDeletePlannerSkipsImmatureAndInFlight(t *testing.T) {
	ctx := context.Background()
	ms := metastore.NewJSONMetastore(nil)
	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx", IndexURI: "ram://idx"})
	tassert.CheckFatal(t, err)

	// young: immature. claimed: already part of an in-flight op.
	tassert.CheckFatal(t, ms.StageSplits(ctx, "idx", []metastore.SplitMetadata{
		{SplitID: "young", IndexUID: "idx", CreateTimestamp: time.Now()},
		{SplitID: "claimed", IndexUID: "idx", CreateTimestamp: time.Now().Add(-3 * time.Hour)},
	}))
	tassert.CheckFatal(t, ms.PublishSplits(ctx, "idx", []string{"young", "claimed"}, nil, nil))
	_, err = ms.CreateDeleteTask(ctx, "idx", "body:x", nil, nil, nil)
	tassert.CheckFatal(t, err)

	inv := mergepipe.NewInventory()
	claimed, err := ms.ListSplits(ctx, metastore.SplitQuery{IndexUIDs: []string{"idx"}})
	tassert.CheckFatal(t, err)
	for _, s := range claimed {
		if s.SplitID == "claimed" {
			tassert.Fatalf(t, inv.TryClaim(&mergepipe.Operation{Splits: []*metastore.SplitMetadata{s}}), "claim fixture")
		}
	}

	out := &recordingEnqueuer{}
	p := &deleteplanner.Planner{
		IndexUID:  "idx",
		Metastore: ms,
		Policy: mergepipe.Policy{
			TargetSplitSizeBytes: 1 << 30,
			MaxMergeFactor:       10,
			MaturityAge:          time.Hour,
		},
		Inventory: inv,
		Probe:     &bodyProbe{bodies: map[string][]string{"young": {"x"}, "claimed": {"x"}}},
		Out:       out,
	}
	tassert.CheckFatal(t, p.Cycle(ctx))
	tassert.Errorf(t, len(out.ops) == 0, "immature and in-flight splits must be skipped, got %d ops", len(out.ops))
}

func TestDeletePlannerPrunesByTags(t *testing.T) {
	ctx := context.Background()
	ms := metastore.NewJSONMetastore(nil)
	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "idx", IndexURI: "ram://idx"})
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, ms.StageSplits(ctx, "idx", []metastore.SplitMetadata{{
		SplitID:         "tagged",
		IndexUID:        "idx",
		CreateTimestamp: time.Now().Add(-3 * time.Hour),
		Tags:            []string{"app:web"},
	}}))
	tassert.CheckFatal(t, ms.PublishSplits(ctx, "idx", []string{"tagged"}, nil, nil))

	// The delete targets app:api; the split only carries app:web, so no
	// probe is needed and the opstamp advances directly.
	_, err = ms.CreateDeleteTask(ctx, "idx", "body:gone", nil, nil, []string{"app:api"})
	tassert.CheckFatal(t, err)

	out := &recordingEnqueuer{}
	p := &deleteplanner.Planner{
		IndexUID:  "idx",
		Metastore: ms,
		Policy: mergepipe.Policy{
			TargetSplitSizeBytes: 1 << 30,
			MaxMergeFactor:       10,
			MaturityAge:          time.Hour,
		},
		Inventory: mergepipe.NewInventory(),
		Probe:     &bodyProbe{bodies: map[string][]string{"tagged": {"gone"}}},
		Out:       out,
	}
	tassert.CheckFatal(t, p.Cycle(ctx))
	tassert.Errorf(t, len(out.ops) == 0, "an unmatchable tag filter must not schedule work")

	splits, err := ms.ListSplits(ctx, metastore.SplitQuery{IndexUIDs: []string{"idx"}})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, splits[0].DeleteOpstamp == 1, "opstamp must be bumped without a probe, got %d", splits[0].DeleteOpstamp)
}
