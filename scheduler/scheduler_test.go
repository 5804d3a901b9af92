package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/strata-io/strata/cmn"
	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/membership"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/scheduler"
)

type recordingPusher struct {
	mu     sync.Mutex
	pushes map[string][][]scheduler.Task
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{pushes: make(map[string][][]scheduler.Task)}
}

func (p *recordingPusher) Push(ctx context.Context, nodeID string, tasks []scheduler.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes[nodeID] = append(p.pushes[nodeID], tasks)
}

func (p *recordingPusher) pushCount(nodeID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes[nodeID])
}

func (p *recordingPusher) last(nodeID string) []scheduler.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.pushes[nodeID])
	if n == 0 {
		return nil
	}
	return p.pushes[nodeID][n-1]
}

type staticObserved struct{ plan scheduler.Plan }

func (o *staticObserved) RunningPlan() scheduler.Plan { return o.plan }

func fixture(t *testing.T, pipelines int, nodes ...string) (*scheduler.Scheduler, *recordingPusher, *staticObserved) {
	t.Helper()
	ctx := context.Background()

	// Disable the scheduling cool-down for deterministic tests.
	c := cmn.GCO.BeginUpdate()
	c.Sched.MinDurationBetweenScheduling = 0
	cmn.GCO.CommitUpdate(c)

	ms := metastore.NewJSONMetastore(nil)
	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "logs"})
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, ms.AddSource(ctx, "logs", metastore.SourceMetadata{
		SourceID: "kafka", Enabled: true, DesiredPipelineCnt: pipelines,
	}))

	pool := membership.NewPool()
	members := make([]*membership.Member, len(nodes))
	for i, id := range nodes {
		members[i] = &membership.Member{
			ID: id, GRPCAddr: id + ":7281",
			ServiceTags: []string{string(membership.ServiceIndexer)},
			Ready:       true,
		}
	}
	pool.Update(members)

	pusher := newRecordingPusher()
	observed := &staticObserved{plan: scheduler.Plan{}}
	return scheduler.New(ms, pool, pusher, observed), pusher, observed
}

func TestScheduleAssignsAllPipelines(t *testing.T) {
	s, pusher, _ := fixture(t, 4, "n1", "n2")
	tassert.CheckFatal(t, s.Schedule(context.Background()))

	total := len(pusher.last("n1")) + len(pusher.last("n2"))
	tassert.Errorf(t, total == 4, "expected 4 assigned tasks, got %d", total)
	// Balanced: 2 per node.
	tassert.Errorf(t, len(pusher.last("n1")) == 2 && len(pusher.last("n2")) == 2,
		"expected balanced assignment, got %d/%d", len(pusher.last("n1")), len(pusher.last("n2")))
}

func TestScheduleIsIdempotentOnUnchangedModel(t *testing.T) {
	s, pusher, _ := fixture(t, 2, "n1")
	tassert.CheckFatal(t, s.Schedule(context.Background()))
	first := pusher.pushCount("n1")
	tassert.CheckFatal(t, s.Schedule(context.Background()))
	tassert.Errorf(t, pusher.pushCount("n1") == first,
		"an unchanged plan must not be re-pushed")
}

func TestControlLoopRepushesOnTaskDrift(t *testing.T) {
	s, pusher, observed := fixture(t, 2, "n1")
	ctx := context.Background()
	tassert.CheckFatal(t, s.Schedule(ctx))
	applied := pusher.last("n1")
	tassert.Fatalf(t, len(applied) == 2, "precondition: 2 tasks on n1")

	// The node advertises only one of its two tasks: same node set, drifted
	// tasks. The control tick must re-push the saved plan without a
	// recompute.
	observed.plan = scheduler.Plan{"n1": applied[:1]}
	before := pusher.pushCount("n1")
	s.ControlTick(ctx)
	tassert.Errorf(t, pusher.pushCount("n1") == before+1, "expected one re-push after task drift")
	tassert.Errorf(t, len(pusher.last("n1")) == 2, "re-push must carry the full saved plan")
}

func TestDuplicateTasksCompareAsMultiset(t *testing.T) {
	s, pusher, observed := fixture(t, 2, "n1")
	ctx := context.Background()
	tassert.CheckFatal(t, s.Schedule(ctx))

	// Both pipelines of the same source on one node: the observed plan
	// advertising both identical tasks matches; advertising just one does
	// not.
	applied := pusher.last("n1")
	observed.plan = scheduler.Plan{"n1": applied}
	before := pusher.pushCount("n1")
	s.ControlTick(ctx)
	tassert.Errorf(t, pusher.pushCount("n1") == before, "matching multiset must be a no-op")
}

func TestRescheduleRateLimited(t *testing.T) {
	s, pusher, _ := fixture(t, 1, "n1")
	c := cmn.GCO.BeginUpdate()
	c.Sched.MinDurationBetweenScheduling = time.Hour
	cmn.GCO.CommitUpdate(c)
	defer func() {
		c := cmn.GCO.BeginUpdate()
		c.Sched.MinDurationBetweenScheduling = 0
		cmn.GCO.CommitUpdate(c)
	}()

	ctx := context.Background()
	tassert.CheckFatal(t, s.Schedule(ctx))
	first := pusher.pushCount("n1")
	tassert.CheckFatal(t, s.Schedule(ctx))
	tassert.Errorf(t, pusher.pushCount("n1") == first, "a second schedule inside the cool-down must be a no-op")
}
