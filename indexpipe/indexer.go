package indexpipe

import (
	"context"
	stdjson "encoding/json"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	lz4 "github.com/pierrec/lz4/v3"
	"github.com/strata-io/strata/cmn/cos"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/fs"
	"github.com/strata-io/strata/split"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SegmentBuilder is the write side of the embedded index library: docs go
// in, a finished segment (sub-files plus hotcache) comes out.
type SegmentBuilder interface {
	AddDoc(doc ProcessedDoc) error
	Finish(ctx context.Context) (files []split.SubFile, hotcache []byte, err error)
}

type SegmentBuilderFactory func() SegmentBuilder

// CommitPolicy holds the triggers that close the in-memory segment.
type CommitPolicy struct {
	MaxNumDocs     int
	MaxNumBytes    int64
	CommitTimeout  time.Duration
	SpillThreshold int64 // in-memory doc-buffer bytes before spilling to disk
}

// BuiltSegment is the indexer's output: everything the packager needs to
// assemble and describe a split.
type BuiltSegment struct {
	SplitID        string
	PartitionID    string
	Files          []split.SubFile
	Hotcache       []byte
	NumDocs        int64
	NumBytes       int64 // uncompressed docs size
	TimeRangeLo    *int64
	TimeRangeHi    *int64
	TagCandidates  map[string]map[string]struct{} // field -> distinct values
	Delta          []CheckpointDeltaRef
	ForceCommitted bool
}

// CheckpointDeltaRef aliases the metastore's delta to keep the pipeline's
// message types self-contained.
type CheckpointDeltaRef struct {
	SourceID    string
	PartitionID string
	From        int64
	To          int64
}

// Indexer accumulates processed documents until a commit trigger fires,
// then drains everything (including disk spills) into a fresh segment.
type Indexer struct {
	Policy  CommitPolicy
	Factory SegmentBuilderFactory
	Scratch *fs.Scratch
	NodeID  string

	buffered  []ProcessedDoc
	bufBytes  int64
	numDocs   int64
	totBytes  int64
	spills    []string
	spillSeq  int64
	delta     []CheckpointDeltaRef
	tags      map[string]map[string]struct{}
	tsLo      *int64
	tsHi      *int64
	lastStart time.Time
}

func NewIndexer(policy CommitPolicy, factory SegmentBuilderFactory, scratch *fs.Scratch, nodeID string) *Indexer {
	return &Indexer{
		Policy:    policy,
		Factory:   factory,
		Scratch:   scratch,
		NodeID:    nodeID,
		tags:      make(map[string]map[string]struct{}),
		lastStart: time.Now(),
	}
}

func (ix *Indexer) Empty() bool { return ix.numDocs == 0 }

// Add buffers one batch worth of processed docs plus its checkpoint delta.
// The returned flag reports whether a commit trigger fired.
func (ix *Indexer) Add(docs []ProcessedDoc, delta []CheckpointDeltaRef, force bool) (commit bool, err error) {
	for _, d := range docs {
		size := d.approxSize()
		ix.buffered = append(ix.buffered, d)
		ix.bufBytes += size
		ix.totBytes += size
		ix.numDocs++
		for f, v := range d.TagCandidates {
			if ix.tags[f] == nil {
				ix.tags[f] = make(map[string]struct{})
			}
			ix.tags[f][v] = struct{}{}
		}
		if d.Timestamp != nil {
			if ix.tsLo == nil || *d.Timestamp < *ix.tsLo {
				v := *d.Timestamp
				ix.tsLo = &v
			}
			if ix.tsHi == nil || *d.Timestamp > *ix.tsHi {
				v := *d.Timestamp
				ix.tsHi = &v
			}
		}
	}
	ix.delta = append(ix.delta, delta...)

	if ix.Policy.SpillThreshold > 0 && ix.bufBytes >= ix.Policy.SpillThreshold {
		if err := ix.spill(); err != nil {
			return false, err
		}
	}

	if force {
		return true, nil
	}
	if ix.Policy.MaxNumDocs > 0 && ix.numDocs >= int64(ix.Policy.MaxNumDocs) {
		return true, nil
	}
	if ix.Policy.MaxNumBytes > 0 && ix.totBytes >= ix.Policy.MaxNumBytes {
		return true, nil
	}
	return false, nil
}

// TimedOut reports whether the time trigger fired for a non-empty segment.
func (ix *Indexer) TimedOut(now time.Time) bool {
	return ix.Policy.CommitTimeout > 0 && !ix.Empty() && now.Sub(ix.lastStart) >= ix.Policy.CommitTimeout
}

// spill compresses the buffered docs to a scratch file and clears the
// buffer; Commit reads the spills back in order.
func (ix *Indexer) spill() error {
	if len(ix.buffered) == 0 {
		return nil
	}
	ix.spillSeq++
	path := ix.Scratch.WorkfilePath(fs.Spill, "segment", ix.spillSeq)
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.Io, "indexer spill create "+path, err)
	}
	zw := lz4.NewWriter(f)
	enc := json.NewEncoder(zw)
	for _, d := range ix.buffered {
		if err := enc.Encode(d); err != nil {
			f.Close()
			return errs.Wrap(errs.Io, "indexer spill encode", err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return errs.Wrap(errs.Io, "indexer spill flush", err)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.Io, "indexer spill close", err)
	}
	ix.spills = append(ix.spills, path)
	ix.buffered = nil
	ix.bufBytes = 0
	return nil
}

// Commit drains spills and the live buffer into a fresh segment builder and
// resets the indexer for the next segment.
func (ix *Indexer) Commit(ctx context.Context, force bool) (*BuiltSegment, error) {
	if ix.Empty() {
		return nil, nil
	}
	builder := ix.Factory()

	for _, path := range ix.spills {
		if err := ix.replaySpill(path, builder); err != nil {
			return nil, err
		}
	}
	for _, d := range ix.buffered {
		if err := builder.AddDoc(d); err != nil {
			return nil, errs.Wrap(errs.InternalError, "indexer add doc", err)
		}
	}
	files, hotcache, err := builder.Finish(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "indexer finish segment", err)
	}

	seg := &BuiltSegment{
		SplitID:        cos.GenSplitID(),
		Files:          files,
		Hotcache:       hotcache,
		NumDocs:        ix.numDocs,
		NumBytes:       ix.totBytes,
		TimeRangeLo:    ix.tsLo,
		TimeRangeHi:    ix.tsHi,
		TagCandidates:  ix.tags,
		Delta:          ix.delta,
		ForceCommitted: force,
	}
	ix.reset()
	return seg, nil
}

func (ix *Indexer) replaySpill(path string, builder SegmentBuilder) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.Io, "indexer spill open "+path, err)
	}
	defer func() {
		f.Close()
		os.Remove(path)
	}()
	dec := stdjson.NewDecoder(lz4.NewReader(f))
	for {
		var d ProcessedDoc
		if err := dec.Decode(&d); err != nil {
			if err == io.EOF {
				return nil
			}
			return errs.Wrap(errs.Io, "indexer spill decode "+path, err)
		}
		if err := builder.AddDoc(d); err != nil {
			return errs.Wrap(errs.InternalError, "indexer replay doc", err)
		}
	}
}

func (ix *Indexer) reset() {
	ix.buffered = nil
	ix.bufBytes = 0
	ix.numDocs = 0
	ix.totBytes = 0
	ix.spills = nil
	ix.delta = nil
	ix.tags = make(map[string]map[string]struct{})
	ix.tsLo, ix.tsHi = nil, nil
	ix.lastStart = time.Now()
}

func (d ProcessedDoc) approxSize() int64 {
	var n int64
	for k, v := range d.Fields {
		n += int64(len(k)) + 16
		if s, ok := v.(string); ok {
			n += int64(len(s))
		} else {
			n += 8
		}
	}
	return n
}
