package cmn

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeoutGroup is a sync.WaitGroup variant that supports a bounded wait.
// Once the count reaches zero the group stays signalled; it is not reset
// for a later round of Add and Wait.
type TimeoutGroup struct {
	count int64
	done  chan struct{}
	mu    sync.Mutex
}

func NewTimeoutGroup() *TimeoutGroup {
	return &TimeoutGroup{done: make(chan struct{})}
}

func (tg *TimeoutGroup) Add(n int) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if atomic.AddInt64(&tg.count, int64(n)) == 0 {
		tg.signal()
	}
}

func (tg *TimeoutGroup) Done() {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if atomic.AddInt64(&tg.count, -1) == 0 {
		tg.signal()
	}
}

func (tg *TimeoutGroup) signal() {
	select {
	case <-tg.done:
	default:
		close(tg.done)
	}
}

func (tg *TimeoutGroup) Wait() {
	<-tg.done
}

// WaitTimeout blocks until all Add'd work is Done or d elapses, returning
// true on timeout.
func (tg *TimeoutGroup) WaitTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-tg.done:
		return false
	case <-t.C:
		return true
	}
}
