// Package metastore implements the authoritative registry of indexes,
// sources, splits and delete tasks: optimistic-concurrency checkpoints, the
// split state machine, and filtered listing. Persistence follows the
// single-JSON-file pattern with a read-through in-memory cache and a
// write-through put, locked per index.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package metastore

import "time"

// SplitState is one node of the split state machine.
type SplitState int

const (
	Staged SplitState = iota
	Published
	MarkedForDeletion
)

func (s SplitState) String() string {
	switch s {
	case Staged:
		return "Staged"
	case Published:
		return "Published"
	case MarkedForDeletion:
		return "MarkedForDeletion"
	default:
		return "Unknown"
	}
}

// IndexConfig is the operator-supplied configuration passed to create_index.
type IndexConfig struct {
	IndexID      string
	IndexURI     string
	DocMapping   map[string]interface{}
	IndexingTTL  time.Duration
	SearchTTL    time.Duration
}

// IndexMetadata is the persisted record for one index.
type IndexMetadata struct {
	IndexID       string
	IndexUID      string // CreateIndex sets this to IndexID with no incarnation suffix and leaves IncarnationID empty, so a recreated index gets the same UID
	IndexURI      string
	IncarnationID string
	Config        IndexConfig
	Sources       map[string]*SourceMetadata
	Checkpoints   map[string]map[string]int64 // source_id -> partition_id -> position
	CreatedAt     time.Time
}

// SourceMetadata is one named input stream within an index.
type SourceMetadata struct {
	SourceID           string
	Params             map[string]interface{}
	DesiredPipelineCnt int
	Enabled            bool
}

// SplitMetadata is the persisted record for one split.
type SplitMetadata struct {
	SplitID              string
	IndexUID             string
	SourceID             string
	NodeID               string
	PartitionID          string
	NumDocs              int64
	UncompressedDocsSize int64
	TimeRangeLo          *int64 // inclusive; nil means unset
	TimeRangeHi          *int64
	CreateTimestamp      time.Time
	Tags                 []string // "field:value" or catch-all "field:*"
	FooterOffsetStart    int64
	FooterOffsetEnd      int64
	DeleteOpstamp        int64
	NumMergeOps          int
	State                SplitState
}

// CheckpointDelta moves one partition's committed position forward,
// accepted only if From matches the stored position exactly.
type CheckpointDelta struct {
	SourceID    string
	PartitionID string
	From        int64
	To          int64
}

// DeleteTask is an entry in a per-index monotonically increasing delete log
// of delete operations.
type DeleteTask struct {
	Opstamp     int64
	IndexUID    string
	Query       string
	TimeRangeLo *int64
	TimeRangeHi *int64
	Tags        []string
}

// SplitQuery filters ListSplits.
type SplitQuery struct {
	IndexUIDs         []string
	States            []SplitState
	TimeRangeLo       *int64 // half-open [lo, hi)
	TimeRangeHi       *int64
	Tags              []TagConjunct // AND of conjuncts; each conjunct is OR'd internally by caller composition
	DeleteOpstampMax  *int64
	MatureOnly        bool
	MaturityAge       time.Duration
	Now               time.Time
	Limit             int
}

// TagConjunct is one AND-ed term in the tag filter AST: the split matches if
// it carries Field+":"+Value exactly, or the catch-all Field+":*" marker
// marker.
type TagConjunct struct {
	Field string
	Value string
}
