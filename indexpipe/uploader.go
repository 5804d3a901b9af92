package indexpipe

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/strata-io/strata/splitcache"
	"github.com/strata-io/strata/stats"
)

// Uploader pushes packaged splits through the two-tier split cache and
// records upload throughput.
type Uploader struct {
	Cache       *splitcache.Cache
	MaturityAge time.Duration
}

// Upload stores the split: always to remote storage, locally cached when
// still immature. The local workfile is consumed either way.
func (u *Uploader) Upload(ctx context.Context, ps *PackagedSplit) error {
	meta := splitcache.SplitMetadata{
		SplitID:   ps.Meta.SplitID,
		NumBytes:  ps.Meta.FooterOffsetEnd,
		CreatedAt: ps.Meta.CreateTimestamp,
	}
	immature := splitcache.IsImmature(meta, u.MaturityAge, time.Now())

	started := time.Now()
	if err := u.Cache.Store(ctx, meta, ps.LocalPath, immature); err != nil {
		return err
	}
	elapsed := time.Since(started)
	if elapsed > 0 {
		bps := meta.NumBytes * int64(time.Second) / int64(elapsed)
		stats.T.Set(stats.UploadThroughput, bps)
	}
	stats.T.Set(stats.UploadSize, meta.NumBytes)
	glog.Infof("uploaded split %s (%d docs, %d bytes) in %v",
		ps.Meta.SplitID, ps.Meta.NumDocs, meta.NumBytes, elapsed)

	st := u.Cache.Stats()
	stats.T.Set(stats.CacheSplits, st.NumSplits)
	stats.T.Set(stats.CacheBytes, st.NumBytes)
	return nil
}
