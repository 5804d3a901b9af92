package search_test

import (
	"context"
	"testing"

	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/membership"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/search"
	"github.com/strata-io/strata/split"
	"github.com/strata-io/strata/store"
)

// packSplitT is packFakeSplit for plain-testing tests.
func packSplitT(t *testing.T, s store.Storage, splitID string, docs []fakeDoc) search.SplitOffsets {
	t.Helper()
	raw, err := json.Marshal(docs)
	tassert.CheckFatal(t, err)
	packed, err := split.Pack([]split.SubFile{{Path: "docs.json", Data: raw}}, []byte("hotcache"))
	tassert.CheckFatal(t, err)
	tassert.CheckFatal(t, s.Put(context.Background(), splitID+".split", &store.BytesPayload{Data: packed.Blob}))

	var lo, hi *int64
	for _, d := range docs {
		ts := d.TS
		if lo == nil || ts < *lo {
			v := ts
			lo = &v
		}
		if hi == nil || ts > *hi {
			v := ts
			hi = &v
		}
	}
	return search.SplitOffsets{
		SplitID:     splitID,
		FileLen:     int64(len(packed.Blob)),
		FooterStart: packed.Footer.Start,
		FooterEnd:   packed.Footer.End,
		TimeRangeLo: lo,
		TimeRangeHi: hi,
		NumDocs:     int64(len(docs)),
	}
}

func TestRootSearchEndToEnd(t *testing.T) {
	ctx := context.Background()
	remote := store.NewMemStore()
	leaf := newTestLeaf(remote)

	ms := metastore.NewJSONMetastore(nil)
	_, err := ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "logs", IndexURI: "ram://logs"})
	tassert.CheckFatal(t, err)

	o1 := packSplitT(t, remote,"sp1", []fakeDoc{
		{Body: "disk error on node", TS: 10},
		{Body: "all good", TS: 11},
	})
	o2 := packSplitT(t, remote,"sp2", []fakeDoc{
		{Body: "net error on node", TS: 20},
	})
	for _, o := range []search.SplitOffsets{o1, o2} {
		tassert.CheckFatal(t, ms.StageSplits(ctx, "logs", []metastore.SplitMetadata{{
			SplitID:           o.SplitID,
			IndexUID:          "logs",
			TimeRangeLo:       o.TimeRangeLo,
			TimeRangeHi:       o.TimeRangeHi,
			NumDocs:           o.NumDocs,
			FooterOffsetStart: o.FooterStart,
			FooterOffsetEnd:   o.FooterEnd,
		}}))
		tassert.CheckFatal(t, ms.PublishSplits(ctx, "logs", []string{o.SplitID}, nil, nil))
	}

	pool := membership.NewPool()
	pool.Update([]*membership.Member{
		{ID: "n1", GRPCAddr: "local", ServiceTags: []string{string(membership.ServiceSearcher)}, Ready: true},
	})

	root := &search.Root{
		Metastore: ms,
		Pool:      pool,
		Clients:   search.NewClientPool(func(string) search.LeafClient { return &search.LocalClient{Leaf: leaf} }),
	}

	resp, err := root.Search(ctx, search.Request{
		IndexIDPatterns: []string{"logs"},
		Query:           "error",
		MaxHits:         10,
	})
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, resp.NumHits == 2, "expected 2 hits across splits, got %d", resp.NumHits)
	tassert.Fatalf(t, len(resp.Hits) == 2, "expected 2 fetched docs, got %d", len(resp.Hits))
	for _, h := range resp.Hits {
		tassert.Errorf(t, len(h.Document) > 0, "hit %s/%d must carry its document", h.SplitID, h.DocID)
	}
}

func TestRootSearchRejectsUnknownIndex(t *testing.T) {
	ctx := context.Background()
	ms := metastore.NewJSONMetastore(nil)
	pool := membership.NewPool()
	root := &search.Root{
		Metastore: ms,
		Pool:      pool,
		Clients:   search.NewClientPool(func(string) search.LeafClient { return nil }),
	}
	_, err := root.Search(ctx, search.Request{IndexIDPatterns: []string{"missing"}, Query: "x"})
	tassert.Fatalf(t, err != nil, "a non-glob id matching nothing must fail")
}
