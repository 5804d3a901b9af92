// Package membership maintains the gossip-discovered pool of ready peers,
// exposed through the minimum interface the search-client pool and the
// indexing scheduler reconcile against.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package membership

import (
	"context"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
)

// ServiceTag distinguishes the two roles a member can advertise:
// indexers and searchers share the same gossip pool.
type ServiceTag string

const (
	ServiceIndexer  ServiceTag = "indexer"
	ServiceSearcher ServiceTag = "searcher"
)

// Member is a single ready peer: a stable ID, the service tags it
// advertises, and the address the search/indexing clients dial.
type Member struct {
	ID          string
	GRPCAddr    string
	ServiceTags []string
	Ready       bool

	digest     uint64
	digestOnce sync.Once
}

// Digest returns a stable hash of the member's ID, computed once and
// cached, used by rendezvous placement.
func (m *Member) Digest() uint64 {
	m.digestOnce.Do(func() {
		m.digest = xxhash.ChecksumString64S(m.ID, 0)
	})
	return m.digest
}

func (m *Member) HasService(tag ServiceTag) bool {
	for _, t := range m.ServiceTags {
		if t == string(tag) {
			return true
		}
	}
	return false
}

// ChangeEvent is delivered to member_change_watcher subscribers on any pool
// mutation.
type ChangeEvent struct {
	Added   []*Member
	Removed []*Member
}

// Pool is the gossip-discovered set of ready peers. Gossip transport itself
// is an external collaborator; Pool is the
// local, observable view other components reconcile against.
type Pool struct {
	mu      sync.RWMutex
	members map[string]*Member

	watchMu   sync.Mutex
	watchers  map[int]chan ChangeEvent
	watchNext int
}

func NewPool() *Pool {
	return &Pool{members: make(map[string]*Member), watchers: make(map[int]chan ChangeEvent)}
}

// Members returns the current list of ready peers.
func (p *Pool) Members() []*Member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Member, 0, len(p.members))
	for _, m := range p.members {
		if m.Ready {
			out = append(out, m)
		}
	}
	return out
}

// Update applies a gossip snapshot: members present in next but not in the
// pool are additions, members in the pool but absent from next are
// removals. Existing members are replaced wholesale (gossip delivers full
// records, not deltas).
func (p *Pool) Update(next []*Member) {
	p.mu.Lock()
	added := make([]*Member, 0)
	removed := make([]*Member, 0)
	seen := make(map[string]struct{}, len(next))
	for _, m := range next {
		seen[m.ID] = struct{}{}
		if _, ok := p.members[m.ID]; !ok {
			added = append(added, m)
		}
		p.members[m.ID] = m
	}
	for id, m := range p.members {
		if _, ok := seen[id]; !ok {
			removed = append(removed, m)
			delete(p.members, id)
		}
	}
	p.mu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		p.broadcast(ChangeEvent{Added: added, Removed: removed})
	}
}

// SetSelfNodeReady flips the ready flag of the local member's own record
// record.
func (p *Pool) SetSelfNodeReady(selfID string, ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.members[selfID]; ok {
		m.Ready = ready
	}
}

// Watch subscribes to the member-change stream.
// The caller must drain or cancel ctx to avoid leaking the channel.
func (p *Pool) Watch(ctx context.Context) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)
	p.watchMu.Lock()
	id := p.watchNext
	p.watchNext++
	p.watchers[id] = ch
	p.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		p.watchMu.Lock()
		delete(p.watchers, id)
		p.watchMu.Unlock()
		close(ch)
	}()
	return ch
}

func (p *Pool) broadcast(ev ChangeEvent) {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	for _, ch := range p.watchers {
		select {
		case ch <- ev:
		default: // slow subscriber: drop rather than block the pool
		}
	}
}

// WaitForMembers blocks until predicate holds over the current member set
// or timeout elapses.
func (p *Pool) WaitForMembers(ctx context.Context, predicate func([]*Member) bool, timeout time.Duration) bool {
	if predicate(p.Members()) {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sub := p.Watch(ctx)
	for {
		select {
		case <-sub:
			if predicate(p.Members()) {
				return true
			}
		case <-ctx.Done():
			return predicate(p.Members())
		}
	}
}
