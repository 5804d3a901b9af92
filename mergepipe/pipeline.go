package mergepipe

import (
	"context"
	"os"

	"github.com/golang/glog"
	"github.com/strata-io/strata/cmn/cos"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/fs"
	"github.com/strata-io/strata/indexpipe"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/split"
	"github.com/strata-io/strata/splitcache"
	"github.com/strata-io/strata/stats"
	"golang.org/x/time/rate"
)

// MergeInput is one downloaded split handed to the executor.
type MergeInput struct {
	Meta      *metastore.SplitMetadata
	LocalPath string
}

// Merger is the index library's merge entry point: combine the inputs,
// applying the delete queries as tombstones, into one new segment.
type Merger interface {
	Merge(ctx context.Context, inputs []MergeInput, deleteQueries []string) (files []split.SubFile, hotcache []byte, numDocs int64, numBytes int64, err error)
}

// Executor downloads an operation's inputs, runs the merge, and hands the
// result to the shared package/upload/publish tail. The downloader and the
// merge itself share one I/O token bucket so background merging cannot
// saturate the node's bandwidth.
type Executor struct {
	Cache     *splitcache.Cache
	Scratch   *fs.Scratch
	Merger    Merger
	Metastore metastore.Metastore
	Packager  *indexpipe.Packager
	Uploader  *indexpipe.Uploader
	Limiter   *rate.Limiter

	seq int64
}

// waitIO charges n bytes against the shared limiter in bounded chunks (a
// single WaitN may not exceed the limiter's burst).
func (e *Executor) waitIO(ctx context.Context, n int64) error {
	if e.Limiter == nil {
		return nil
	}
	burst := int64(e.Limiter.Burst())
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := e.Limiter.WaitN(ctx, int(chunk)); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// download fetches every input split into a scratch directory, charging the
// limiter for each split's size.
func (e *Executor) download(ctx context.Context, op *Operation) ([]MergeInput, string, error) {
	e.seq++
	dir, err := e.Scratch.TempDir(fs.Download, "merge", e.seq)
	if err != nil {
		return nil, "", err
	}
	inputs := make([]MergeInput, 0, len(op.Splits))
	for _, s := range op.Splits {
		if err := e.waitIO(ctx, s.FooterOffsetEnd); err != nil {
			return nil, dir, err
		}
		local, err := e.Cache.Fetch(ctx, s.SplitID, dir)
		if err != nil {
			return nil, dir, errs.Wrap(errs.Io, "merge download "+s.SplitID, err)
		}
		stats.T.Set(stats.MergeDownloadSize, s.FooterOffsetEnd)
		inputs = append(inputs, MergeInput{Meta: s, LocalPath: local})
	}
	return inputs, dir, nil
}

// Execute runs one merge operation end to end: download, merge, package,
// upload, and the atomic publish that replaces the inputs.
func (e *Executor) Execute(ctx context.Context, op *Operation) error {
	inputs, dir, err := e.download(ctx, op)
	if dir != "" {
		defer os.RemoveAll(dir)
	}
	if err != nil {
		return err
	}

	files, hotcache, numDocs, numBytes, err := e.Merger.Merge(ctx, inputs, op.DeleteQueries)
	if err != nil {
		return errs.Wrap(errs.InternalError, "merge execute", err)
	}
	if err := e.waitIO(ctx, numBytes); err != nil {
		return err
	}

	seg := &indexpipe.BuiltSegment{
		SplitID:       cos.GenSplitID(),
		Files:         files,
		Hotcache:      hotcache,
		NumDocs:       numDocs,
		NumBytes:      numBytes,
		TimeRangeLo:   mergedLo(op.Splits),
		TimeRangeHi:   mergedHi(op.Splits),
		TagCandidates: mergedTags(op.Splits),
	}
	ps, err := e.Packager.Package(seg)
	if err != nil {
		return err
	}
	ps.Meta.DeleteOpstamp = op.DeleteOpstamp
	ps.Meta.NumMergeOps = maxMergeOps(op.Splits) + 1

	if err := e.Uploader.Upload(ctx, ps); err != nil {
		return err
	}

	if err := e.Metastore.StageSplits(ctx, op.IndexUID, []metastore.SplitMetadata{ps.Meta}); err != nil {
		return err
	}
	if err := e.Metastore.PublishSplits(ctx, op.IndexUID, []string{ps.Meta.SplitID}, op.SplitIDs(), nil); err != nil {
		return err
	}
	stats.T.AddOne(stats.MergeOpsCount)
	glog.Infof("merged %d splits of %s into %s (%d docs)",
		len(op.Splits), op.IndexUID, ps.Meta.SplitID, numDocs)

	// The replaced splits are gone from the read path; drop their local
	// cached copies and remote blobs.
	for _, s := range op.Splits {
		if err := e.Cache.Delete(ctx, s.SplitID); err != nil {
			glog.Warningf("merge cleanup %s: %v", s.SplitID, err)
		}
	}
	return nil
}

func mergedLo(splits []*metastore.SplitMetadata) *int64 {
	var lo *int64
	for _, s := range splits {
		if s.TimeRangeLo != nil && (lo == nil || *s.TimeRangeLo < *lo) {
			v := *s.TimeRangeLo
			lo = &v
		}
	}
	return lo
}

func mergedHi(splits []*metastore.SplitMetadata) *int64 {
	var hi *int64
	for _, s := range splits {
		if s.TimeRangeHi != nil && (hi == nil || *s.TimeRangeHi > *hi) {
			v := *s.TimeRangeHi
			hi = &v
		}
	}
	return hi
}

func mergedTags(splits []*metastore.SplitMetadata) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, s := range splits {
		for _, t := range s.Tags {
			for i := 0; i < len(t); i++ {
				if t[i] == ':' {
					field, value := t[:i], t[i+1:]
					if out[field] == nil {
						out[field] = make(map[string]struct{})
					}
					out[field][value] = struct{}{}
					break
				}
			}
		}
	}
	return out
}

func maxMergeOps(splits []*metastore.SplitMetadata) int {
	max := 0
	for _, s := range splits {
		if s.NumMergeOps > max {
			max = s.NumMergeOps
		}
	}
	return max
}
