package indexpipe

import (
	"os"
	"sort"
	"time"

	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/fs"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/split"
)

// DefaultTagCardinalityCap bounds the distinct tag values emitted per field;
// past it the field collapses to its catch-all marker.
const DefaultTagCardinalityCap = 16

// PackagedSplit is a fully assembled split container on local disk plus the
// metadata record the uploader and publisher carry forward.
type PackagedSplit struct {
	Meta      metastore.SplitMetadata
	LocalPath string
	Delta     []CheckpointDeltaRef
	Force     bool
}

// Packager computes per-split tags and assembles the split container.
type Packager struct {
	Scratch     *fs.Scratch
	IndexUID    string
	SourceID    string
	NodeID      string
	PartitionID string
	TagCap      int

	seq int64
}

func NewPackager(scratch *fs.Scratch, indexUID, sourceID, nodeID, partitionID string) *Packager {
	return &Packager{
		Scratch:     scratch,
		IndexUID:    indexUID,
		SourceID:    sourceID,
		NodeID:      nodeID,
		PartitionID: partitionID,
		TagCap:      DefaultTagCardinalityCap,
	}
}

// foldTags emits "field:value" tags, replacing a field's values with the
// "field:*" marker once its cardinality exceeds the cap.
func foldTags(candidates map[string]map[string]struct{}, maxPerField int) []string {
	var out []string
	for field, values := range candidates {
		if len(values) > maxPerField {
			out = append(out, field+":*")
			continue
		}
		for v := range values {
			out = append(out, field+":"+v)
		}
	}
	sort.Strings(out)
	return out
}

// Package assembles seg into a local .split file and returns the packaged
// record.
func (p *Packager) Package(seg *BuiltSegment) (*PackagedSplit, error) {
	packed, err := split.Pack(seg.Files, seg.Hotcache)
	if err != nil {
		return nil, err
	}
	p.seq++
	localPath := p.Scratch.WorkfilePath(fs.Workfile, seg.SplitID, p.seq)
	if err := os.WriteFile(localPath, packed.Blob, 0o644); err != nil {
		return nil, errs.Wrap(errs.Io, "packager write "+localPath, err)
	}

	meta := metastore.SplitMetadata{
		SplitID:              seg.SplitID,
		IndexUID:             p.IndexUID,
		SourceID:             p.SourceID,
		NodeID:               p.NodeID,
		PartitionID:          p.PartitionID,
		NumDocs:              seg.NumDocs,
		UncompressedDocsSize: seg.NumBytes,
		TimeRangeLo:          seg.TimeRangeLo,
		TimeRangeHi:          seg.TimeRangeHi,
		CreateTimestamp:      time.Now(),
		Tags:                 foldTags(seg.TagCandidates, p.TagCap),
		FooterOffsetStart:    packed.Footer.Start,
		FooterOffsetEnd:      packed.Footer.End,
	}
	return &PackagedSplit{Meta: meta, LocalPath: localPath, Delta: seg.Delta, Force: seg.ForceCommitted}, nil
}
