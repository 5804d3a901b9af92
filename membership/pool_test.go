package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/membership"
)

func TestPoolUpdateEmitsAddedAndRemoved(t *testing.T) {
	p := membership.NewPool()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := p.Watch(ctx)

	p.Update([]*membership.Member{{ID: "n1", Ready: true, ServiceTags: []string{"searcher"}}})
	select {
	case ev := <-sub:
		tassert.Errorf(t, len(ev.Added) == 1 && ev.Added[0].ID == "n1", "expected n1 added, got %+v", ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for add event")
	}

	p.Update(nil)
	select {
	case ev := <-sub:
		tassert.Errorf(t, len(ev.Removed) == 1 && ev.Removed[0].ID == "n1", "expected n1 removed, got %+v", ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remove event")
	}
}

func TestWaitForMembersSucceedsOnPredicate(t *testing.T) {
	p := membership.NewPool()
	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Update([]*membership.Member{{ID: "n1", Ready: true}})
		close(done)
	}()

	ok := p.WaitForMembers(context.Background(), func(ms []*membership.Member) bool {
		return len(ms) >= 1
	}, time.Second)
	tassert.Errorf(t, ok, "expected WaitForMembers to succeed")
	<-done
}

func TestMemberDigestStable(t *testing.T) {
	m := &membership.Member{ID: "node-a"}
	d1 := m.Digest()
	d2 := m.Digest()
	tassert.Errorf(t, d1 == d2, "expected stable digest across calls")
}
