package actor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strata-io/strata/actor"
	"github.com/strata-io/strata/internal/tassert"
)

type panicOnThirdBehavior struct {
	total        *int32
	counter      int
	mu           *sync.Mutex
	observations *[]int
}

func (b *panicOnThirdBehavior) Receive(ctx context.Context, env actor.Envelope) error {
	b.counter++
	b.mu.Lock()
	*b.observations = append(*b.observations, b.counter)
	b.mu.Unlock()

	if atomic.AddInt32(b.total, 1) == 3 {
		panic("boom")
	}
	return nil
}

func (b *panicOnThirdBehavior) Finalize(actor.ExitStatus) {}

// An actor panics on the 3rd message; the supervisor respawns; the
// 4th message is delivered and processed with a fresh state (counter
// reset); num_panics == 1.
func TestSupervisorRestartAfterPanic(t *testing.T) {
	mbx := actor.NewMailbox(0)
	mbx.AddSenderRef(1)
	for _, msg := range []int{1, 2, 3, 4} {
		mbx.SendLow(msg)
	}
	mbx.AddSenderRef(-1)

	var total int32
	var mu sync.Mutex
	var observations []int
	factory := func() actor.Behavior {
		return &panicOnThirdBehavior{total: &total, mu: &mu, observations: &observations}
	}

	ks := actor.NewKillSwitch()
	sup := actor.NewSupervisor(factory, mbx, ks, 200*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resCh := make(chan actor.Result, 1)
	go func() { resCh <- sup.Run(ctx) }()

	select {
	case res := <-resCh:
		tassert.Errorf(t, res.Status == actor.Success, "expected eventual Success, got %v", res.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not finish in time")
	}

	tassert.Errorf(t, sup.NumPanics.Load() == 1, "expected num_panics == 1, got %d", sup.NumPanics.Load())

	mu.Lock()
	defer mu.Unlock()
	tassert.Errorf(t, len(observations) == 4, "expected 4 observed messages, got %v", observations)
	if len(observations) == 4 {
		tassert.Errorf(t, observations[3] == 1, "expected 4th message processed with fresh counter==1, got %v", observations)
	}
}
