package search_test

import (
	"bytes"
	"context"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/strata-io/strata/search"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fakeDoc is the row shape the fake index library stores in a split's
// "docs.json" sub-file.
type fakeDoc struct {
	Body string            `json:"body"`
	TS   int64             `json:"ts"`
	Fast map[string]uint64 `json:"fast,omitempty"`
}

// fakeOpener opens a split directory whose "docs.json" sub-file holds the
// segment's documents. Queries match on substring; "field:value" queries
// match docs whose body contains the value.
func fakeOpener(ctx context.Context, dir search.SplitDirectory) (search.IndexReader, error) {
	raw, err := dir.OpenRead(ctx, "docs.json")
	if err != nil {
		return nil, err
	}
	var docs []fakeDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	return &fakeReader{segments: []search.SegmentReader{&fakeSegment{docs: docs}}}, nil
}

type fakeReader struct {
	segments []search.SegmentReader
}

func (r *fakeReader) Segments() []search.SegmentReader { return r.segments }
func (r *fakeReader) Close() error                     { return nil }

type fakeSegment struct {
	docs    []fakeDoc
	warmups int
}

func (s *fakeSegment) Ord() uint32     { return 0 }
func (s *fakeSegment) NumDocs() uint32 { return uint32(len(s.docs)) }

func (s *fakeSegment) Warmup(context.Context, search.WarmupPlan) error {
	s.warmups++
	return nil
}

func queryNeedle(query string) string {
	if i := strings.Index(query, ":"); i >= 0 {
		return query[i+1:]
	}
	return query
}

func (s *fakeSegment) Search(ctx context.Context, query string, scoring bool, emit func(uint32, float32) error) error {
	needle := queryNeedle(query)
	for i, d := range s.docs {
		if needle != "" && needle != "*" && !strings.Contains(d.Body, needle) {
			continue
		}
		var score float32
		if scoring {
			score = 1.0 / float32(i+1)
		}
		if err := emit(uint32(i), score); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSegment) FastFieldU64(field string, docID uint32) (uint64, bool) {
	if int(docID) >= len(s.docs) {
		return 0, false
	}
	d := s.docs[docID]
	if field == "ts" {
		return uint64(d.TS), true
	}
	v, ok := d.Fast[field]
	return v, ok
}

func (s *fakeSegment) Doc(ctx context.Context, docID uint32) ([]byte, error) {
	return json.Marshal(s.docs[docID])
}

func (s *fakeSegment) Terms(field string, startKey []byte) (search.TermCursor, error) {
	seen := make(map[string]struct{})
	var keys []string
	for _, d := range s.docs {
		for _, w := range strings.Fields(d.Body) {
			if _, dup := seen[w]; !dup {
				seen[w] = struct{}{}
				keys = append(keys, w)
			}
		}
	}
	sort.Strings(keys)
	var filtered [][]byte
	for _, k := range keys {
		if startKey == nil || bytes.Compare([]byte(k), startKey) >= 0 {
			filtered = append(filtered, []byte(k))
		}
	}
	return &fakeCursor{keys: filtered, pos: -1}, nil
}

func (s *fakeSegment) Aggregate(ctx context.Context, spec string, maxBuckets int) ([]byte, error) {
	return json.Marshal(map[string]int{"count": len(s.docs)})
}

type fakeCursor struct {
	keys [][]byte
	pos  int
}

func (c *fakeCursor) Next() bool {
	c.pos++
	return c.pos < len(c.keys)
}
func (c *fakeCursor) Key() []byte  { return c.keys[c.pos] }
func (c *fakeCursor) Close() error { return nil }
