package search

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/strata-io/strata/split"
	"golang.org/x/sync/singleflight"
)

// byteLRU is a bytes-bounded LRU backing the fast-field cache (the footer
// cache is bounded by entry count instead). Internally synchronized; entries
// are immutable once inserted.
type byteLRU struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	order    *list.List // front = most recent
	entries  map[string]*list.Element
}

type lruEntry struct {
	key  string
	data []byte
	size int64
}

func newByteLRU(maxBytes int64) *byteLRU {
	return &byteLRU{maxBytes: maxBytes, order: list.New(), entries: make(map[string]*list.Element)}
}

func (c *byteLRU) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).data, true
}

func (c *byteLRU) put(key string, data []byte) {
	size := int64(len(data))
	if size > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return
	}
	for c.curBytes+size > c.maxBytes {
		back := c.order.Back()
		if back == nil {
			break
		}
		ev := back.Value.(*lruEntry)
		c.order.Remove(back)
		delete(c.entries, ev.key)
		c.curBytes -= ev.size
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, data: data, size: size})
	c.curBytes += size
}

// FooterCache memoizes parsed split footers process-wide so each split's
// footer is range-fetched at most once per residency. Bounded by entry
// count; a footer is small relative to the split it fronts.
type FooterCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type footerEntry struct {
	splitID string
	footer  *split.Footer
}

func NewFooterCache(maxEntries int) *FooterCache {
	return &FooterCache{max: maxEntries, order: list.New(), entries: make(map[string]*list.Element)}
}

func (c *FooterCache) Get(splitID string) (*split.Footer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[splitID]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*footerEntry).footer, true
}

func (c *FooterCache) Put(splitID string, f *split.Footer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[splitID]; ok {
		el.Value.(*footerEntry).footer = f
		c.order.MoveToFront(el)
		return
	}
	for len(c.entries) >= c.max {
		back := c.order.Back()
		if back == nil {
			break
		}
		ev := back.Value.(*footerEntry)
		c.order.Remove(back)
		delete(c.entries, ev.splitID)
	}
	c.entries[splitID] = c.order.PushFront(&footerEntry{splitID: splitID, footer: f})
}

// FastFieldCache is the long-term cache of fast-field sub-files, keyed by
// (split, sub-path).
type FastFieldCache struct {
	lru *byteLRU
}

func NewFastFieldCache(maxBytes int64) *FastFieldCache {
	return &FastFieldCache{lru: newByteLRU(maxBytes)}
}

func (c *FastFieldCache) key(splitID, path string) string { return splitID + "\x00" + path }

// ResultCache memoizes leaf responses keyed by (split offsets, canonicalized
// request) so repeated identical leaf searches are free.
type ResultCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[uint64]*list.Element

	flight singleflight.Group
}

type resultEntry struct {
	key  uint64
	resp *LeafResponse
}

func NewResultCache(maxEntries int) *ResultCache {
	return &ResultCache{max: maxEntries, order: list.New(), entries: make(map[uint64]*list.Element)}
}

// Key hashes the cache identity of one leaf search.
func (c *ResultCache) Key(req Request, offsets []SplitOffsets) uint64 {
	h := xxhash.New64()
	_, _ = h.Write(canonicalize(req))
	for _, o := range offsets {
		_, _ = h.WriteString(o.SplitID)
		var buf [8]byte
		for _, v := range []int64{o.FooterStart, o.FooterEnd, o.FileLen} {
			for i := 0; i < 8; i++ {
				buf[i] = byte(uint64(v) >> (8 * i))
			}
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

func (c *ResultCache) Get(key uint64) (*LeafResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*resultEntry).resp, true
}

func (c *ResultCache) Put(key uint64, resp *LeafResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*resultEntry).resp = resp
		c.order.MoveToFront(el)
		return
	}
	for len(c.entries) >= c.max {
		back := c.order.Back()
		if back == nil {
			break
		}
		ev := back.Value.(*resultEntry)
		c.order.Remove(back)
		delete(c.entries, ev.key)
	}
	c.entries[key] = c.order.PushFront(&resultEntry{key: key, resp: resp})
}

// Do runs fn once per key across concurrent identical leaf searches,
// returning the cached response when present.
func (c *ResultCache) Do(key uint64, fn func() (*LeafResponse, error)) (*LeafResponse, error) {
	if resp, ok := c.Get(key); ok {
		return resp, nil
	}
	v, err, _ := c.flight.Do(keyString(key), func() (interface{}, error) {
		if resp, ok := c.Get(key); ok {
			return resp, nil
		}
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		c.Put(key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*LeafResponse), nil
}

func keyString(key uint64) string {
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		sb.WriteByte(byte(key >> (8 * i)))
	}
	return sb.String()
}

// The directory layers below wrap a split container so the index library's
// reads hit progressively warmer tiers:
// remote storage -> fast-field cache -> per-search whole-file cache ->
// hotcache.

type containerDirectory struct {
	c *split.Container
}

func (d *containerDirectory) OpenRead(ctx context.Context, path string) ([]byte, error) {
	return d.c.OpenRead(ctx, path)
}
func (d *containerDirectory) ListFiles() []string { return d.c.ListFiles() }
func (d *containerDirectory) Hotcache() []byte    { return d.c.Footer().Hotcache }

// fastFieldDirectory serves fast-field sub-files out of the shared long-term
// cache.
type fastFieldDirectory struct {
	SplitDirectory
	splitID string
	cache   *FastFieldCache
}

const fastFieldSuffix = ".fast"

func (d *fastFieldDirectory) OpenRead(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasSuffix(path, fastFieldSuffix) {
		return d.SplitDirectory.OpenRead(ctx, path)
	}
	key := d.cache.key(d.splitID, path)
	if data, ok := d.cache.lru.get(key); ok {
		return data, nil
	}
	data, err := d.SplitDirectory.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	d.cache.lru.put(key, data)
	return data, nil
}

// ephemeralDirectory memoizes whole files for the duration of one search.
// Not shared, not synchronized beyond its own map lock.
type ephemeralDirectory struct {
	SplitDirectory

	mu    sync.Mutex
	files map[string][]byte
}

func newEphemeralDirectory(inner SplitDirectory) *ephemeralDirectory {
	return &ephemeralDirectory{SplitDirectory: inner, files: make(map[string][]byte)}
}

func (d *ephemeralDirectory) OpenRead(ctx context.Context, path string) ([]byte, error) {
	d.mu.Lock()
	data, ok := d.files[path]
	d.mu.Unlock()
	if ok {
		return data, nil
	}
	data, err := d.SplitDirectory.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.files[path] = data
	d.mu.Unlock()
	return data, nil
}

// layerDirectories assembles the full stack for one split search.
func layerDirectories(c *split.Container, splitID string, ffCache *FastFieldCache) SplitDirectory {
	var dir SplitDirectory = &containerDirectory{c: c}
	if ffCache != nil {
		dir = &fastFieldDirectory{SplitDirectory: dir, splitID: splitID, cache: ffCache}
	}
	return newEphemeralDirectory(dir)
}
