package actor

import (
	"context"
	goruntime "runtime"
	"sync/atomic"
	"time"
)

// Runtime is the per-actor execution context handed to Run: the actor's own
// mailbox, the kill switch it shares with its supervision tree, and a
// progress clock the supervisor polls to detect a frozen actor.
type Runtime struct {
	Mailbox    *Mailbox
	KillSwitch *KillSwitch

	state        atomic.Int32 // RunState
	paused       atomic.Bool
	lastProgress atomic.Int64 // unix nanos
}

func NewRuntime(mbx *Mailbox, ks *KillSwitch) *Runtime {
	r := &Runtime{Mailbox: mbx, KillSwitch: ks}
	r.touchProgress()
	return r
}

func (r *Runtime) touchProgress() { r.lastProgress.Store(time.Now().UnixNano()) }

// State reports the supervisor-visible run state; a paused actor that is
// not mid-message reports Paused.
func (r *Runtime) State() RunState {
	s := RunState(r.state.Load())
	if s == Healthy && r.paused.Load() {
		return Paused
	}
	return s
}

func (r *Runtime) setState(s RunState) { r.state.Store(int32(s)) }

// Pause restricts delivery to high-priority envelopes until Resume.
func (r *Runtime) Pause() { r.paused.Store(true) }

func (r *Runtime) Resume() { r.paused.Store(false) }

// MissedDeadline reports whether a Processing-state actor has gone longer
// than deadline without calling ProtectFuture or yielding control.
func (r *Runtime) MissedDeadline(deadline time.Duration) bool {
	if r.State() != Processing {
		return false
	}
	last := time.Unix(0, r.lastProgress.Load())
	return time.Since(last) > deadline
}

// ProtectFuture runs fn, recording progress before and after so a long
// future does not make the supervisor believe the actor is frozen.
func (r *Runtime) ProtectFuture(ctx context.Context, fn func(context.Context) error) error {
	r.touchProgress()
	err := fn(ctx)
	r.touchProgress()
	return err
}

// YieldNow cooperatively yields to the Go scheduler and records progress.
func (r *Runtime) YieldNow() {
	r.touchProgress()
	goruntime.Gosched()
}

// Run drives behavior against mbx until it reaches a terminal ExitStatus,
// implementing the receive protocol (high-priority first, Paused delivers
// only high-priority, exit on sender-ref drop) and the kill-switch
// checkpoint.
func Run(ctx context.Context, rt *Runtime, behavior Behavior) Result {
	rt.setState(Healthy)
	defer func() {
		if p := recover(); p != nil {
			behavior.Finalize(Panicked)
			panic(p) // re-panic after Finalize so Run's caller still observes it
		}
	}()

	for {
		if rt.KillSwitch != nil && rt.KillSwitch.Tripped() {
			behavior.Finalize(Killed)
			return Result{Status: Killed}
		}

		env, ok := rt.Mailbox.TryReceive(rt.paused.Load())
		if !ok {
			if rt.Mailbox.AddSenderRef(0) == 0 {
				behavior.Finalize(Success)
				return Result{Status: Success}
			}
			select {
			case <-rt.Mailbox.Notify():
				continue
			case <-ctx.Done():
				behavior.Finalize(Quit)
				return Result{Status: Quit}
			}
		}

		rt.setState(Processing)
		rt.touchProgress()
		err := behavior.Receive(ctx, env)
		rt.touchProgress()
		rt.setState(Healthy)
		if err != nil {
			behavior.Finalize(Failure)
			return Result{Status: Failure, Err: err}
		}
	}
}
