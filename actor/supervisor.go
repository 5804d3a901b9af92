package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// Factory constructs a fresh Behavior instance, invoked on first spawn and
// again on every respawn. Mailboxes are preserved across restarts (pending
// messages survive); Behavior instances are not.
type Factory func() Behavior

type genResult struct {
	gen int64
	res Result
}

// Supervisor holds (factory, inbox, handle) and periodically polls
// child health, restarting it from factory on failure or a missed progress
// deadline.
type Supervisor struct {
	factory  Factory
	mbx      *Mailbox
	ks       *KillSwitch
	deadline time.Duration
	tick     time.Duration

	mu  sync.Mutex
	rt  *Runtime
	gen int64

	NumKills  atomic.Int64
	NumErrors atomic.Int64
	NumPanics atomic.Int64
}

func NewSupervisor(factory Factory, mbx *Mailbox, ks *KillSwitch, progressDeadline, superviseTick time.Duration) *Supervisor {
	return &Supervisor{factory: factory, mbx: mbx, ks: ks, deadline: progressDeadline, tick: superviseTick}
}

// Run starts the child and supervises it until it reaches Success, exits
// Killed, or the supervisor's own context is cancelled.
func (s *Supervisor) Run(ctx context.Context) Result {
	resultCh := make(chan genResult, 1)
	go s.runChild(ctx, s.spawn(), resultCh)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case t := <-resultCh:
			if t.gen != s.curGen() {
				continue // stale result from an already-replaced child
			}
			if t.res.Status == Success || t.res.Status == Killed || ctx.Err() != nil {
				return t.res
			}
			s.onChildExit(t.res)
			go s.runChild(ctx, s.spawn(), resultCh)
		case <-ticker.C:
			s.superviseTick(ctx, resultCh)
		case <-ctx.Done():
			return Result{Status: Quit}
		}
	}
}

func (s *Supervisor) curGen() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Supervisor) spawn() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.rt = NewRuntime(s.mbx, s.ks)
	return s.gen
}

func (s *Supervisor) runChild(ctx context.Context, gen int64, out chan<- genResult) {
	s.mu.Lock()
	rt := s.rt
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.NumPanics.Add(1)
			glog.Errorf("actor panicked: %v", p)
			out <- genResult{gen, Result{Status: Panicked}}
		}
	}()
	out <- genResult{gen, Run(ctx, rt, s.factory())}
}

func (s *Supervisor) onChildExit(res Result) {
	s.NumKills.Add(1)
	if res.Status == Failure || res.Status == Panicked {
		s.NumErrors.Add(1)
	}
}

// superviseTick implements the periodic health check: a Processing actor
// that missed its progress deadline is killed and respawned.
func (s *Supervisor) superviseTick(ctx context.Context, resultCh chan<- genResult) {
	s.mu.Lock()
	rt := s.rt
	s.mu.Unlock()
	if rt == nil {
		return
	}
	if rt.MissedDeadline(s.deadline) {
		s.NumKills.Add(1)
		s.NumErrors.Add(1)
		go s.runChild(ctx, s.spawn(), resultCh)
	}
}
