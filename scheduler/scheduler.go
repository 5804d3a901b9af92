// Package scheduler runs on the control plane: it derives the set of
// logical indexing tasks from the metastore's enabled sources, assigns them
// to indexers balancing load and source affinity, and reconciles the
// gossip-observed running plan against the last-applied one.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/strata-io/strata/cmn"
	"github.com/strata-io/strata/membership"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/stats"
)

// Task is one logical indexing assignment. The same (index, source) pair
// may legitimately appear multiple times on one node (pipeline ordinals),
// so plans compare as multisets.
type Task struct {
	IndexUID string
	SourceID string
	ShardID  string
}

// Plan maps node id -> the tasks it should run.
type Plan map[string][]Task

// PlanPusher delivers a node's task list; the transport is fire-and-forget.
type PlanPusher interface {
	Push(ctx context.Context, nodeID string, tasks []Task)
}

// RunningPlanSource reports what each indexer is currently advertising over
// gossip.
type RunningPlanSource interface {
	RunningPlan() Plan
}

// Scheduler owns the desired-vs-observed reconciliation loop.
type Scheduler struct {
	Metastore metastore.Metastore
	Pool      *membership.Pool
	Pusher    PlanPusher
	Observed  RunningPlanSource

	mu            sync.Mutex
	lastApplied   Plan
	lastScheduled time.Time

	// affinity remembers which node last owned a source so re-planning
	// keeps tasks where their state (split cache, source position) is warm.
	affinity map[string]string // index_uid/source_id -> node_id
}

func New(ms metastore.Metastore, pool *membership.Pool, pusher PlanPusher, observed RunningPlanSource) *Scheduler {
	return &Scheduler{
		Metastore: ms,
		Pool:      pool,
		Pusher:    pusher,
		Observed:  observed,
		affinity:  make(map[string]string),
	}
}

// logicalTasks enumerates the desired tasks from every enabled source of
// every index.
func (s *Scheduler) logicalTasks(ctx context.Context) ([]Task, error) {
	metas, err := s.Metastore.ListIndexesMetadata(ctx, nil)
	if err != nil {
		return nil, err
	}
	var tasks []Task
	for _, meta := range metas {
		for _, src := range meta.Sources {
			if !src.Enabled {
				continue
			}
			n := src.DesiredPipelineCnt
			if n <= 0 {
				n = 1
			}
			for i := 0; i < n; i++ {
				tasks = append(tasks, Task{IndexUID: meta.IndexUID, SourceID: src.SourceID})
			}
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].IndexUID != tasks[j].IndexUID {
			return tasks[i].IndexUID < tasks[j].IndexUID
		}
		return tasks[i].SourceID < tasks[j].SourceID
	})
	return tasks, nil
}

func (s *Scheduler) indexers() []*membership.Member {
	var out []*membership.Member
	for _, m := range s.Pool.Members() {
		if m.HasService(membership.ServiceIndexer) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// buildPlan assigns each task to an indexer, preferring the node that owned
// the source before, otherwise the least-loaded node.
func (s *Scheduler) buildPlan(tasks []Task, nodes []*membership.Member) Plan {
	plan := make(Plan, len(nodes))
	load := make(map[string]int, len(nodes))
	for _, n := range nodes {
		plan[n.ID] = nil
	}
	for _, t := range tasks {
		key := t.IndexUID + "/" + t.SourceID
		nodeID := ""
		if prev, ok := s.affinity[key]; ok {
			if _, alive := plan[prev]; alive {
				nodeID = prev
			}
		}
		if nodeID == "" || load[nodeID] > minLoad(load, nodes)+1 {
			nodeID = leastLoaded(load, nodes)
		}
		plan[nodeID] = append(plan[nodeID], t)
		load[nodeID]++
		s.affinity[key] = nodeID
	}
	return plan
}

func minLoad(load map[string]int, nodes []*membership.Member) int {
	min := int(^uint(0) >> 1)
	for _, n := range nodes {
		if load[n.ID] < min {
			min = load[n.ID]
		}
	}
	return min
}

func leastLoaded(load map[string]int, nodes []*membership.Member) string {
	best := nodes[0].ID
	for _, n := range nodes[1:] {
		if load[n.ID] < load[best] {
			best = n.ID
		}
	}
	return best
}

// Schedule recomputes the desired plan and pushes the per-node diffs. It is
// rate-limited; a call inside the cool-down window is a no-op.
func (s *Scheduler) Schedule(ctx context.Context) error {
	s.mu.Lock()
	minBetween := cmn.GCO.Get().Sched.MinDurationBetweenScheduling
	if time.Since(s.lastScheduled) < minBetween {
		s.mu.Unlock()
		return nil
	}
	s.lastScheduled = time.Now()
	s.mu.Unlock()

	tasks, err := s.logicalTasks(ctx)
	if err != nil {
		return err
	}
	nodes := s.indexers()
	if len(nodes) == 0 {
		glog.Warningf("scheduler: no ready indexer, keeping previous plan")
		return nil
	}

	s.mu.Lock()
	plan := s.buildPlan(tasks, nodes)
	changed := diffPlans(s.lastApplied, plan)
	s.lastApplied = plan
	s.mu.Unlock()

	for _, nodeID := range changed {
		s.Pusher.Push(ctx, nodeID, plan[nodeID])
	}
	if len(changed) > 0 {
		stats.T.AddOne(stats.PlansAppliedCount)
		glog.Infof("scheduler: pushed plan to %d node(s)", len(changed))
	}
	return nil
}

// diffPlans returns the node ids whose task multiset changed.
func diffPlans(prev, next Plan) []string {
	var changed []string
	for nodeID, tasks := range next {
		if !sameTaskMultiset(prev[nodeID], tasks) {
			changed = append(changed, nodeID)
		}
	}
	for nodeID := range prev {
		if _, still := next[nodeID]; !still {
			changed = append(changed, nodeID)
		}
	}
	sort.Strings(changed)
	return changed
}

// sameTaskMultiset compares task lists ignoring order but respecting
// multiplicity: the same (index, source) pair can run twice on one node.
func sameTaskMultiset(a, b []Task) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[Task]int, len(a))
	for _, t := range a {
		counts[t]++
	}
	for _, t := range b {
		counts[t]--
		if counts[t] < 0 {
			return false
		}
	}
	return true
}

// ControlLoop compares the gossip-observed running plan with the
// last-applied plan every control interval: node-set drift forces a full
// re-schedule, task drift on matching nodes re-pushes the saved plan
// without recomputing.
func (s *Scheduler) ControlLoop(ctx context.Context) {
	interval := cmn.GCO.Get().Timeout.ControlLoop
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ControlTick(ctx)
		}
	}
}

func (s *Scheduler) ControlTick(ctx context.Context) {
	running := s.Observed.RunningPlan()

	s.mu.Lock()
	applied := s.lastApplied
	s.mu.Unlock()
	if applied == nil {
		if err := s.Schedule(ctx); err != nil {
			glog.Errorf("scheduler: %v", err)
		}
		return
	}

	if !sameNodeSet(running, applied) {
		stats.T.AddOne(stats.ReschedulesCount)
		glog.Infof("scheduler: node set drifted, re-scheduling")
		if err := s.Schedule(ctx); err != nil {
			glog.Errorf("scheduler: %v", err)
		}
		return
	}

	// Same nodes; if any node's tasks drifted, re-push the saved plan as-is.
	var drifted []string
	for nodeID, want := range applied {
		if !sameTaskMultiset(running[nodeID], want) {
			drifted = append(drifted, nodeID)
		}
	}
	for _, nodeID := range drifted {
		s.Pusher.Push(ctx, nodeID, applied[nodeID])
	}
	if len(drifted) > 0 {
		glog.Infof("scheduler: re-pushed plan to %d drifted node(s)", len(drifted))
	}
}

func sameNodeSet(a, b Plan) bool {
	if len(a) != len(b) {
		return false
	}
	for nodeID := range a {
		if _, ok := b[nodeID]; !ok {
			return false
		}
	}
	return true
}
