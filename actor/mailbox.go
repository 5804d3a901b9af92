package actor

import (
	"context"
	"sync"
)

// Mailbox implements the two-lane receive protocol: an unbounded high-priority
// queue and a (possibly bounded) low-priority queue, with high-priority
// envelopes always delivered first, and a one-slot stash for a
// speculatively dequeued low-priority envelope that must be held back
// because a high-priority one then arrived.
type Mailbox struct {
	mu       sync.Mutex
	notEmpty chan struct{}

	high []Envelope
	low  []Envelope

	lowCap     int // 0 means unbounded
	spaceAvail chan struct{}
	stash      *Envelope

	closed    bool
	senderRef int // open sender handles; supervisor's own ref is not counted
}

// NewMailbox creates a mailbox whose low-priority queue is bounded by
// lowCap (0 for unbounded, applying back-pressure to SendLow otherwise).
func NewMailbox(lowCap int) *Mailbox {
	return &Mailbox{notEmpty: make(chan struct{}, 1), lowCap: lowCap, spaceAvail: make(chan struct{}, 1)}
}

func (m *Mailbox) signal() {
	select {
	case m.notEmpty <- struct{}{}:
	default:
	}
}

// SendHigh enqueues a high-priority envelope. The high-priority queue is
// always unbounded: command messages, scheduled self-messages and
// supervisor signals must never block their sender.
func (m *Mailbox) SendHigh(msg interface{}) {
	m.mu.Lock()
	m.high = append(m.high, Envelope{Msg: msg, Priority: High})
	m.mu.Unlock()
	m.signal()
}

// SendLow enqueues a low-priority envelope, reporting false if the bounded
// queue is full (back-pressure).
func (m *Mailbox) SendLow(msg interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lowCap > 0 && len(m.low) >= m.lowCap {
		return false
	}
	m.low = append(m.low, Envelope{Msg: msg, Priority: Low})
	m.signal()
	return true
}

// SendLowBlocking enqueues a low-priority envelope, blocking until capacity
// is available, applying backpressure to data-plane stages. High-priority
// sends are never subject to this.
func (m *Mailbox) SendLowBlocking(ctx context.Context, msg interface{}) error {
	for {
		if m.SendLow(msg) {
			return nil
		}
		select {
		case <-m.spaceAvail:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Mailbox) signalSpace() {
	select {
	case m.spaceAvail <- struct{}{}:
	default:
	}
}

// TryReceive implements the priority protocol's single dequeue step:
// drain high-priority first; if a stashed low-priority envelope exists and
// no high-priority envelope is pending, deliver the stash; otherwise
// dequeue the next low-priority envelope. The whole step holds the mailbox
// lock, so no high-priority envelope can arrive in between.
func (m *Mailbox) TryReceive(pausedOnly bool) (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.high) > 0 {
		env := m.high[0]
		m.high = m.high[1:]
		return env, true
	}
	if pausedOnly {
		return Envelope{}, false
	}
	if m.stash != nil {
		env := *m.stash
		m.stash = nil
		return env, true
	}
	if len(m.low) > 0 {
		env := m.low[0]
		m.low = m.low[1:]
		if m.lowCap > 0 {
			m.signalSpace()
		}
		return env, true
	}
	return Envelope{}, false
}

// Stash holds a speculatively dequeued low-priority envelope back for the
// next Receive call, used when a caller dequeued low-priority work, then
// observed a higher-priority one and must deliver that first without
// losing the low-priority message.
func (m *Mailbox) Stash(env Envelope) {
	m.mu.Lock()
	m.stash = &env
	m.mu.Unlock()
	m.signal()
}

func (m *Mailbox) Notify() <-chan struct{} { return m.notEmpty }

func (m *Mailbox) AddSenderRef(delta int) int {
	m.mu.Lock()
	m.senderRef += delta
	n := m.senderRef
	m.mu.Unlock()
	return n
}

func (m *Mailbox) Len() (high, low int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.high), len(m.low)
}
