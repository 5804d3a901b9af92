package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/strata-io/strata/actor"
	"github.com/strata-io/strata/internal/tassert"
)

// Send low-priority 1, then high-priority 2. First recv
// returns 2, second returns 1, third blocks (reports no envelope).
func TestMailboxPriorityOrdering(t *testing.T) {
	mbx := actor.NewMailbox(0)
	mbx.SendLow(1)
	mbx.SendHigh(2)

	env, ok := mbx.TryReceive(false)
	tassert.Fatalf(t, ok, "expected an envelope")
	tassert.Errorf(t, env.Msg == 2, "expected high-priority message first, got %v", env.Msg)

	env, ok = mbx.TryReceive(false)
	tassert.Fatalf(t, ok, "expected a second envelope")
	tassert.Errorf(t, env.Msg == 1, "expected low-priority message second, got %v", env.Msg)

	_, ok = mbx.TryReceive(false)
	tassert.Errorf(t, !ok, "expected mailbox empty on third receive")
}

func TestMailboxPausedOnlyDeliversHighPriority(t *testing.T) {
	mbx := actor.NewMailbox(0)
	mbx.SendLow(1)
	mbx.SendHigh(2)

	env, ok := mbx.TryReceive(true)
	tassert.Fatalf(t, ok, "expected high-priority envelope while paused")
	tassert.Errorf(t, env.Msg == 2, "expected message 2, got %v", env.Msg)

	_, ok = mbx.TryReceive(true)
	tassert.Errorf(t, !ok, "expected low-priority message withheld while paused")
}

func TestMailboxLowPriorityBackpressure(t *testing.T) {
	mbx := actor.NewMailbox(1)
	tassert.Errorf(t, mbx.SendLow(1), "expected first send to succeed")
	tassert.Errorf(t, !mbx.SendLow(2), "expected second send to be rejected at capacity")
}

func TestMailboxSendLowBlockingUnblocksOnSpace(t *testing.T) {
	mbx := actor.NewMailbox(1)
	tassert.Errorf(t, mbx.SendLow(1), "expected first send to succeed")

	done := make(chan error, 1)
	go func() {
		done <- mbx.SendLowBlocking(context.Background(), 2)
	}()

	select {
	case <-done:
		t.Fatal("expected SendLowBlocking to block while queue is full")
	case <-time.After(30 * time.Millisecond):
	}

	_, ok := mbx.TryReceive(false)
	tassert.Fatalf(t, ok, "expected to dequeue the first message")

	select {
	case err := <-done:
		tassert.CheckFatal(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected SendLowBlocking to unblock after space freed")
	}
}
