// Package search implements distributed query execution: the root fans a
// request out over rendezvous-placed leaf jobs, each leaf opens its splits
// through layered caches, warms up the data the query needs, and runs a
// top-K collection; the root merges partial hits, fetches documents, and
// assembles the final response. Streaming and list-terms variants share the
// same placement.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package search

import (
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/strata-io/strata/metastore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SortKind selects the hit ordering.
type SortKind int

const (
	SortByDocID SortKind = iota
	SortByFastField
	SortByScore
)

type SortOrder int

const (
	Desc SortOrder = iota
	Asc
)

// SortBy describes the requested ordering. Scoring is disabled unless Kind
// is SortByScore.
type SortBy struct {
	Kind  SortKind  `json:"kind"`
	Field string    `json:"field,omitempty"`
	Order SortOrder `json:"order"`
}

// Request is a search over one or more indexes.
type Request struct {
	IndexIDPatterns []string                `json:"indexIdPatterns"`
	Query           string                  `json:"query"`
	StartTimestamp  *int64                  `json:"startTimestamp,omitempty"` // half-open [start, end)
	EndTimestamp    *int64                  `json:"endTimestamp,omitempty"`
	StartOffset     int                     `json:"startOffset"`
	MaxHits         int                     `json:"maxHits"`
	SortBy          SortBy                  `json:"sortBy"`
	Tags            []metastore.TagConjunct `json:"tags,omitempty"`
	Aggregation     string                  `json:"aggregation,omitempty"` // opaque spec handed to the index library
	TimestampField  string                  `json:"timestampField,omitempty"`
}

// SplitOffsets identifies one split a leaf must search: its ID, total size,
// footer byte range, time range for filter rewriting, doc count and delete
// opstamp.
type SplitOffsets struct {
	SplitID          string `json:"splitId"`
	FileLen          int64  `json:"fileLen"`
	FooterStart      int64  `json:"footerStart"`
	FooterEnd        int64  `json:"footerEnd"`
	TimeRangeLo      *int64 `json:"timeRangeLo,omitempty"`
	TimeRangeHi      *int64 `json:"timeRangeHi,omitempty"`
	NumDocs          int64  `json:"numDocs"`
	DeleteOpstamp    int64  `json:"deleteOpstamp"`
}

// PartialHit is the minimum identification of a hit before document
// contents are fetched.
type PartialHit struct {
	SplitID    string `json:"splitId"`
	SegmentOrd uint32 `json:"segmentOrd"`
	DocID      uint32 `json:"docId"`
	SortKey    uint64 `json:"sortKey"`
}

// Less orders partial hits for merging: descending sort key, then ascending
// doc id, then ascending split id.
func (h PartialHit) Less(other PartialHit) bool {
	if h.SortKey != other.SortKey {
		return h.SortKey > other.SortKey
	}
	if h.DocID != other.DocID {
		return h.DocID < other.DocID
	}
	return h.SplitID < other.SplitID
}

// Hit is a partial hit enriched with its stored document.
type Hit struct {
	PartialHit
	Document []byte `json:"document"`
}

// SplitError records a per-split leaf failure surfaced to the root.
type SplitError struct {
	SplitID   string `json:"splitId"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// LeafRequest is the root->leaf RPC input.
type LeafRequest struct {
	Request      Request        `json:"request"`
	SplitOffsets []SplitOffsets `json:"splitOffsets"`
	IndexURI     string         `json:"indexUri"`
	DocMapper    []byte         `json:"docMapper"` // serialized doc mapping, opaque here
}

// LeafResponse is the leaf's answer for its subset of splits.
type LeafResponse struct {
	NumHits             uint64       `json:"numHits"`
	PartialHits         []PartialHit `json:"partialHits"`
	IntermediateAgg     []byte       `json:"intermediateAgg,omitempty"`
	FailedSplits        []SplitError `json:"failedSplits,omitempty"`
	NumAttemptedSplits  int          `json:"numAttemptedSplits"`
}

// FetchDocsRequest asks a leaf for the stored documents of already-ranked
// partial hits.
type FetchDocsRequest struct {
	PartialHits  []PartialHit   `json:"partialHits"`
	SplitOffsets []SplitOffsets `json:"splitOffsets"`
	IndexURI     string         `json:"indexUri"`
	DocMapper    []byte         `json:"docMapper"`
}

type FetchDocsResponse struct {
	Hits []Hit `json:"hits"`
}

// Response is the fully merged root answer.
type Response struct {
	NumHits       uint64   `json:"numHits"`
	Hits          []Hit    `json:"hits"`
	ElapsedMicros int64    `json:"elapsedMicros"`
	Errors        []string `json:"errors,omitempty"`
}

// rewriteForSplit specializes a request for one split: a time bound that
// already contains the split's whole time range filters nothing and is
// dropped, and sort order is irrelevant when no hits are returned.
func rewriteForSplit(req Request, s SplitOffsets) Request {
	if req.StartTimestamp != nil && s.TimeRangeLo != nil && *req.StartTimestamp <= *s.TimeRangeLo {
		req.StartTimestamp = nil
	}
	if req.EndTimestamp != nil && s.TimeRangeHi != nil && *req.EndTimestamp > *s.TimeRangeHi {
		req.EndTimestamp = nil
	}
	if req.MaxHits == 0 {
		req.SortBy = SortBy{Kind: SortByDocID}
	}
	return req
}

// canonicalize produces a deterministic byte form of a request for result
// caching: index patterns and tag conjuncts are sorted so their order does
// not matter; everything else is taken as-is.
func canonicalize(req Request) []byte {
	c := req
	c.IndexIDPatterns = append([]string(nil), req.IndexIDPatterns...)
	sort.Strings(c.IndexIDPatterns)
	c.Tags = append([]metastore.TagConjunct(nil), req.Tags...)
	sort.Slice(c.Tags, func(i, j int) bool {
		if c.Tags[i].Field != c.Tags[j].Field {
			return c.Tags[i].Field < c.Tags[j].Field
		}
		return c.Tags[i].Value < c.Tags[j].Value
	})
	buf, _ := json.Marshal(c)
	return buf
}
