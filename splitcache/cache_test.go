package splitcache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/splitcache"
	"github.com/strata-io/strata/store"
)

func writeLocal(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	tassert.CheckFatal(t, os.WriteFile(p, data, 0o644))
	return p
}

// Cache configured with max_num_splits=1. After storing two
// 14-byte splits, the on-disk cache contains only the first; remote has
// both; fetching the second succeeds via the remote path.
func TestTwoTierCacheEviction(t *testing.T) {
	root := t.TempDir()
	staging := t.TempDir()
	remote := store.NewMemStore()
	ctx := context.Background()

	c, err := splitcache.Open(root, remote, 1, 1_000_000)
	tassert.CheckFatal(t, err)
	defer c.Close()

	data := []byte("14-bytes-dataX")
	tassert.Fatalf(t, len(data) == 14, "fixture must be 14 bytes, got %d", len(data))

	s1Path := writeLocal(t, staging, "S1.split", data)
	tassert.CheckFatal(t, c.Store(ctx, splitcache.SplitMetadata{SplitID: "S1", NumBytes: 14}, s1Path, true))

	s2Path := writeLocal(t, staging, "S2.split", data)
	tassert.CheckFatal(t, c.Store(ctx, splitcache.SplitMetadata{SplitID: "S2", NumBytes: 14}, s2Path, true))

	stats := c.Stats()
	tassert.Errorf(t, stats.NumSplits == 1, "expected exactly one cached split, got %d", stats.NumSplits)

	entries, err := os.ReadDir(root)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(entries) == 1, "expected one file on disk, got %d", len(entries))
	tassert.Errorf(t, entries[0].Name() == "S1.split", "expected S1.split on disk, got %s", entries[0].Name())

	for _, id := range []string{"S1", "S2"} {
		ok, err := remote.Exists(ctx, id+".split")
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, ok, "expected %s present in remote", id)
	}

	dstDir := t.TempDir()
	dst, err := c.Fetch(ctx, "S2", dstDir)
	tassert.CheckFatal(t, err)
	got, err := os.ReadFile(dst)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(got) == 14, "expected 14 bytes fetched via remote path, got %d", len(got))
}

func TestRetainOnlyDropsUnlistedSplits(t *testing.T) {
	root := t.TempDir()
	staging := t.TempDir()
	remote := store.NewMemStore()
	ctx := context.Background()

	c, err := splitcache.Open(root, remote, 10, 1_000_000)
	tassert.CheckFatal(t, err)
	defer c.Close()

	for _, id := range []string{"A", "B"} {
		p := writeLocal(t, staging, id+".split", []byte("x"))
		tassert.CheckFatal(t, c.Store(ctx, splitcache.SplitMetadata{SplitID: id, NumBytes: 1}, p, true))
	}

	tassert.CheckFatal(t, c.RetainOnly([]string{"A"}))
	stats := c.Stats()
	tassert.Errorf(t, stats.NumSplits == 1, "expected one split retained, got %d", stats.NumSplits)
}
