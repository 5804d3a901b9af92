package split_test

import (
	"context"
	"testing"

	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/split"
	"github.com/strata-io/strata/store"
)

// split <- pack(files); open_split(split).list_files() == files, and for
// every sub-file open_split(split).open_read(name) == original_bytes(name).
func TestPackOpenReadRoundTrip(t *testing.T) {
	files := []split.SubFile{
		{Path: "docs/0.seg", Data: []byte("the quick brown fox")},
		{Path: "terms/0.dict", Data: []byte("jumps over the lazy dog")},
		{Path: "meta.json", Data: []byte(`{"numDocs":2}`)},
	}
	hotcache := []byte("warm-start-blob")

	packed, err := split.Pack(files, hotcache)
	tassert.CheckFatal(t, err)

	ms := store.NewMemStore()
	ctx := context.Background()
	tassert.CheckFatal(t, ms.Put(ctx, "idx/0001.split", &store.BytesPayload{Data: packed.Blob}))

	c, err := split.Open(ctx, ms, "idx/0001.split", int64(len(packed.Blob)))
	tassert.CheckFatal(t, err)

	tassert.Errorf(t, len(c.ListFiles()) == len(files), "expected %d files, got %d", len(files), len(c.ListFiles()))

	for _, f := range files {
		got, err := c.OpenRead(ctx, f.Path)
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, string(got) == string(f.Data), "open_read(%s) mismatch: got %q want %q", f.Path, got, f.Data)
	}

	tassert.Errorf(t, string(c.Footer().Hotcache) == string(hotcache), "hotcache mismatch: got %q", c.Footer().Hotcache)
}

func TestOpenReadMissingSubFile(t *testing.T) {
	packed, err := split.Pack([]split.SubFile{{Path: "a", Data: []byte("x")}}, nil)
	tassert.CheckFatal(t, err)

	ms := store.NewMemStore()
	ctx := context.Background()
	tassert.CheckFatal(t, ms.Put(ctx, "s", &store.BytesPayload{Data: packed.Blob}))

	c, err := split.Open(ctx, ms, "s", int64(len(packed.Blob)))
	tassert.CheckFatal(t, err)

	_, err = c.OpenRead(ctx, "does-not-exist")
	tassert.Fatalf(t, err != nil, "expected error opening missing sub-file")
}
