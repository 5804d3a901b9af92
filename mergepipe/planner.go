package mergepipe

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/strata-io/strata/actor"
	"github.com/strata-io/strata/metastore"
)

// Enqueuer receives planned operations; in production it is the executor's
// work queue, in tests a recorder.
type Enqueuer interface {
	Enqueue(op *Operation) bool
}

// MailboxEnqueuer feeds operations to an executor actor's mailbox.
type MailboxEnqueuer struct {
	Mbx *actor.Mailbox
}

func (m *MailboxEnqueuer) Enqueue(op *Operation) bool { return m.Mbx.SendLow(OpMsg{Op: op}) }

// OpMsg carries one operation to the executor actor.
type OpMsg struct{ Op *Operation }

// planTick is the planner's periodic self-message.
type planTick struct{}

// PublishedMsg is the publisher's eager notification of a fresh split.
type PublishedMsg struct{ Meta metastore.SplitMetadata }

// Planner periodically lists published splits and emits merge operations;
// publish notifications trigger an immediate re-plan of the affected index.
type Planner struct {
	IndexUID  string
	Metastore metastore.Metastore
	Policy    Policy
	Inventory *Inventory
	Out       Enqueuer

	Mbx       *actor.Mailbox
	Scheduler *actor.Scheduler
	Interval  time.Duration
}

// SplitPublished implements the indexing pipeline's merge-notifier hook.
func (p *Planner) SplitPublished(meta metastore.SplitMetadata) {
	p.Mbx.SendHigh(PublishedMsg{Meta: meta})
}

// Receive implements actor.Behavior.
func (p *Planner) Receive(ctx context.Context, env actor.Envelope) error {
	switch env.Msg.(type) {
	case planTick, PublishedMsg:
		if err := p.plan(ctx); err != nil {
			return err
		}
		if _, isTick := env.Msg.(planTick); isTick {
			p.Scheduler.ScheduleSelfMsg(p.Interval, p.Mbx, planTick{})
		}
	}
	return nil
}

func (p *Planner) Finalize(actor.ExitStatus) {}

// Start schedules the first tick.
func (p *Planner) Start() {
	p.Scheduler.BeginInit()
	defer p.Scheduler.EndInit()
	p.Mbx.SendHigh(planTick{})
}

func (p *Planner) plan(ctx context.Context) error {
	splits, err := p.Metastore.ListSplits(ctx, metastore.SplitQuery{
		IndexUIDs: []string{p.IndexUID},
		States:    []metastore.SplitState{metastore.Published},
	})
	if err != nil {
		return err
	}
	ops := p.Policy.Plan(p.IndexUID, splits, time.Now(), p.Inventory.InFlight)
	for _, op := range ops {
		if !p.Inventory.TryClaim(op) {
			continue
		}
		if !p.Out.Enqueue(op) {
			p.Inventory.Release(op)
			glog.Warningf("merge planner %s: executor queue full, dropping plan", p.IndexUID)
			continue
		}
		glog.Infof("merge planner %s: scheduled %d-way merge", p.IndexUID, len(op.Splits))
	}
	return nil
}

// ExecutorBehavior drains operations from a bounded mailbox into the
// executor, releasing the inventory claim when each finishes.
type ExecutorBehavior struct {
	Executor  *Executor
	Inventory *Inventory
}

func (b *ExecutorBehavior) Receive(ctx context.Context, env actor.Envelope) error {
	msg, ok := env.Msg.(OpMsg)
	if !ok {
		return nil
	}
	defer b.Inventory.Release(msg.Op)
	return b.Executor.Execute(ctx, msg.Op)
}

func (b *ExecutorBehavior) Finalize(actor.ExitStatus) {}
