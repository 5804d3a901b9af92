// Package splitcache implements the two-tier (local + remote) split cache:
// a bounded local mirror of freshly produced, not-yet-mature splits,
// fronting the remote store.Storage. Newly produced splits are typically
// merged within minutes, so re-downloading them is wasteful.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package splitcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/karrick/godirwalk"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/store"
	"github.com/tidwall/buntdb"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SplitMetadata is the subset of a split's metastore record the cache needs
// to decide admission and maturity.
type SplitMetadata struct {
	SplitID   string
	NumBytes  int64
	CreatedAt time.Time
}

// IsImmature reports whether a split is still young enough to be worth
// caching locally, per the merge policy's maturity age.
func IsImmature(meta SplitMetadata, maturityAge time.Duration, now time.Time) bool {
	return now.Sub(meta.CreatedAt) < maturityAge
}

type entry struct {
	SplitID  string `json:"splitId"`
	Path     string `json:"path"`
	NumBytes int64  `json:"numBytes"`
}

// Cache is the bounded local mirror. All mutations and inspection (Stats)
// serialize on mu.
type Cache struct {
	root         string
	storage      store.Storage
	maxNumSplits int64
	maxNumBytes  int64

	mu         sync.Mutex
	db         *buntdb.DB
	totalBytes int64
	numSplits  int64
}

const splitSuffix = ".split"

// Open scans root for files matching <split_id>.split and reloads them into
// the cache's inventory. Startup fails if either bound is already exceeded
// by what is found on disk.
func Open(root string, storage store.Storage, maxNumSplits, maxNumBytes int64) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.Io, "splitcache mkdir "+root, err)
	}
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "splitcache open inventory", err)
	}

	c := &Cache{root: root, storage: storage, maxNumSplits: maxNumSplits, maxNumBytes: maxNumBytes, db: db}

	names, err := godirwalk.ReadDirnames(root, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "splitcache scan "+root, err)
	}
	for _, name := range names {
		if !strings.HasSuffix(name, splitSuffix) {
			continue
		}
		splitID := strings.TrimSuffix(name, splitSuffix)
		path := filepath.Join(root, name)
		fi, err := os.Stat(path)
		if err != nil {
			return nil, errs.Wrap(errs.Io, "splitcache stat "+path, err)
		}
		if err := c.insert(entry{SplitID: splitID, Path: path, NumBytes: fi.Size()}); err != nil {
			return nil, err
		}
	}
	if c.numSplits > c.maxNumSplits || c.totalBytes > c.maxNumBytes {
		db.Close()
		return nil, errs.New(errs.InvalidArgument,
			fmt.Sprintf("splitcache %s exceeds bounds at startup: splits=%d/%d bytes=%d/%d",
				root, c.numSplits, c.maxNumSplits, c.totalBytes, c.maxNumBytes))
	}
	return c, nil
}

func (c *Cache) insert(e entry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return errs.Wrap(errs.InternalError, "splitcache encode entry", err)
	}
	if err := c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(e.SplitID, string(buf), nil)
		return err
	}); err != nil {
		return errs.Wrap(errs.InternalError, "splitcache inventory set", err)
	}
	c.numSplits++
	c.totalBytes += e.NumBytes
	return nil
}

func (c *Cache) lookup(splitID string) (entry, bool) {
	var e entry
	found := false
	_ = c.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(splitID)
		if err != nil {
			return nil // buntdb.ErrNotFound: leave found=false
		}
		if jsonErr := json.Unmarshal([]byte(val), &e); jsonErr == nil {
			found = true
		}
		return nil
	})
	return e, found
}

func (c *Cache) remove(splitID string) (entry, bool) {
	e, ok := c.lookup(splitID)
	if !ok {
		return entry{}, false
	}
	_ = c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(splitID)
		return err
	})
	c.numSplits--
	c.totalBytes -= e.NumBytes
	return e, true
}

// Store puts the split to remote storage unconditionally, then admits it
// into the local cache if immature and the bounds still allow it.
// The local file is always gone afterwards: either moved into the cache or
// deleted.
func (c *Cache) Store(ctx context.Context, meta SplitMetadata, localPath string, immature bool) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errs.Wrap(errs.Io, "splitcache open "+localPath, err)
	}
	if err := c.storage.Put(ctx, meta.SplitID+splitSuffix, &filePayload{f: f, size: meta.NumBytes}); err != nil {
		f.Close()
		return err
	}
	f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	admit := immature && c.numSplits+1 <= c.maxNumSplits && c.totalBytes+meta.NumBytes <= c.maxNumBytes
	if !admit {
		return os.Remove(localPath)
	}

	dst := filepath.Join(c.root, meta.SplitID+splitSuffix)
	if err := os.Rename(localPath, dst); err != nil {
		return errs.Wrap(errs.Io, "splitcache move into cache", err)
	}
	return c.insert(entry{SplitID: meta.SplitID, Path: dst, NumBytes: meta.NumBytes})
}

// Fetch moves the cached file to dstDir if present, otherwise copies from
// remote storage.
func (c *Cache) Fetch(ctx context.Context, splitID, dstDir string) (string, error) {
	c.mu.Lock()
	e, hit := c.remove(splitID)
	c.mu.Unlock()

	dst := filepath.Join(dstDir, splitID+splitSuffix)
	if hit {
		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return "", errs.Wrap(errs.Io, "splitcache mkdir "+dstDir, err)
		}
		if err := os.Rename(e.Path, dst); err != nil {
			return "", errs.Wrap(errs.Io, "splitcache fetch move", err)
		}
		return dst, nil
	}
	if err := c.storage.CopyToFile(ctx, splitID+splitSuffix, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// Delete removes the remote copy, then the local copy if present.
func (c *Cache) Delete(ctx context.Context, splitID string) error {
	if err := c.storage.Delete(ctx, splitID+splitSuffix); err != nil {
		return err
	}
	c.mu.Lock()
	e, hit := c.remove(splitID)
	c.mu.Unlock()
	if hit {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.Io, "splitcache delete local "+e.Path, err)
		}
	}
	return nil
}

// RetainOnly removes any cached split not present in keep.
func (c *Cache) RetainOnly(keep []string) error {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var toDrop []string
	_ = c.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, _ string) bool {
			if _, ok := keepSet[key]; !ok {
				toDrop = append(toDrop, key)
			}
			return true
		})
	})
	for _, splitID := range toDrop {
		e, ok := c.remove(splitID)
		if !ok {
			continue
		}
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.Io, "splitcache retain_only remove "+e.Path, err)
		}
	}
	return nil
}

// Stats is a read-only inspection of cache occupancy.
type Stats struct {
	NumSplits int64
	NumBytes  int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{NumSplits: c.numSplits, NumBytes: c.totalBytes}
}

func (c *Cache) Close() error {
	return c.db.Close()
}
