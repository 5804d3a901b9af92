package search

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/strata-io/strata/membership"
)

// StreamChunk is one piece of a leaf's search-stream output.
type StreamChunk struct {
	SplitID string
	Data    []byte
	Err     error
}

// LeafClient is the root's view of one remote (or in-process) leaf. The gRPC
// plumbing behind it is out of scope; an in-process Leaf satisfies it
// directly through LocalClient.
type LeafClient interface {
	LeafSearch(ctx context.Context, req LeafRequest) (*LeafResponse, error)
	FetchDocs(ctx context.Context, req FetchDocsRequest) (*FetchDocsResponse, error)
	LeafSearchStream(ctx context.Context, req LeafRequest) (<-chan StreamChunk, error)
	LeafListTerms(ctx context.Context, req ListTermsRequest) (*ListTermsResponse, error)
}

// ClientPool maintains the keyed map grpc_addr -> client, reconciled against
// the membership pool's change stream.
type ClientPool struct {
	mu      sync.RWMutex
	clients map[string]LeafClient
	dial    func(addr string) LeafClient
}

func NewClientPool(dial func(addr string) LeafClient) *ClientPool {
	return &ClientPool{clients: make(map[string]LeafClient), dial: dial}
}

// Get returns (dialing if necessary) the client for addr.
func (p *ClientPool) Get(addr string) LeafClient {
	p.mu.RLock()
	c, ok := p.clients[addr]
	p.mu.RUnlock()
	if ok {
		return c
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok = p.clients[addr]; ok {
		return c
	}
	c = p.dial(addr)
	p.clients[addr] = c
	return c
}

// Reconcile subscribes to pool changes and keeps the client map in sync:
// new searchers are dialed lazily, departed ones are dropped eagerly.
func (p *ClientPool) Reconcile(ctx context.Context, pool *membership.Pool) {
	sub := pool.Watch(ctx)
	for ev := range sub {
		p.mu.Lock()
		for _, m := range ev.Removed {
			if _, ok := p.clients[m.GRPCAddr]; ok {
				delete(p.clients, m.GRPCAddr)
				glog.Infof("search client pool: dropped %s (%s)", m.ID, m.GRPCAddr)
			}
		}
		p.mu.Unlock()
	}
}

// LocalClient adapts an in-process Leaf to the LeafClient surface, used by
// single-node deployments and tests.
type LocalClient struct {
	Leaf *Leaf
}

func (c *LocalClient) LeafSearch(ctx context.Context, req LeafRequest) (*LeafResponse, error) {
	return c.Leaf.Search(ctx, req)
}

func (c *LocalClient) FetchDocs(ctx context.Context, req FetchDocsRequest) (*FetchDocsResponse, error) {
	return c.Leaf.FetchDocs(ctx, req)
}

func (c *LocalClient) LeafSearchStream(ctx context.Context, req LeafRequest) (<-chan StreamChunk, error) {
	return c.Leaf.SearchStream(ctx, req)
}

func (c *LocalClient) LeafListTerms(ctx context.Context, req ListTermsRequest) (*ListTermsResponse, error) {
	return c.Leaf.ListTerms(ctx, req)
}
