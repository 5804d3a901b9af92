package search

import "context"

// The embedded inverted-index library is an external collaborator: splits
// are opened and queried through the narrow interfaces below, and the
// library's on-disk format is never interpreted here. A leaf hands the
// library a SplitDirectory (layered over storage and caches) plus the
// hotcache bytes and gets back segment readers.

// SplitDirectory is the read-only file view the index library opens a split
// through. Implementations layer caching on top of the raw container.
type SplitDirectory interface {
	OpenRead(ctx context.Context, path string) ([]byte, error)
	ListFiles() []string
	Hotcache() []byte
}

// IndexOpener opens a split directory into an IndexReader. Wired to the
// index library by the embedding binary; tests install fakes.
type IndexOpener func(ctx context.Context, dir SplitDirectory) (IndexReader, error)

// IndexReader is an opened, searchable split.
type IndexReader interface {
	Segments() []SegmentReader
	Close() error
}

// WarmupPlan lists the data that must be resident before query execution:
// term dictionaries, postings for specific terms and term ranges, fast
// fields, and field norms when scoring.
type WarmupPlan struct {
	TermDictFields []string
	Terms          []TermQuery
	TermRanges     []TermRangeQuery
	FastFields     []string
	FieldNorms     bool
}

type TermQuery struct {
	Field         string
	Term          []byte
	WithPositions bool
}

type TermRangeQuery struct {
	Field         string
	Start, End    []byte // half-open [Start, End); nil End means unbounded
	WithPositions bool
}

// SegmentReader executes queries over a single segment.
type SegmentReader interface {
	Ord() uint32
	NumDocs() uint32

	// Warmup preloads the plan's data; concurrent calls with disjoint plans
	// are safe.
	Warmup(ctx context.Context, plan WarmupPlan) error

	// Search runs query, invoking emit for every matching doc. score is 0
	// unless scoring is true.
	Search(ctx context.Context, query string, scoring bool, emit func(docID uint32, score float32) error) error

	// FastFieldU64 reads one doc's fast-field value.
	FastFieldU64(field string, docID uint32) (uint64, bool)

	// Doc returns the stored document.
	Doc(ctx context.Context, docID uint32) ([]byte, error)

	// Terms iterates the field's term dictionary in key order starting at
	// startKey (nil for the beginning).
	Terms(field string, startKey []byte) (TermCursor, error)

	// Aggregate runs an opaque aggregation spec, returning an intermediate
	// result the root later combines.
	Aggregate(ctx context.Context, spec string, maxBuckets int) ([]byte, error)
}

// TermCursor streams term-dictionary keys in ascending order.
type TermCursor interface {
	Next() bool
	Key() []byte
	Close() error
}

// buildWarmupPlan derives the preload set from a request: the sort field and
// timestamp column as fast fields, and field norms only when scoring. Query
// parsing belongs to the index library, so no term postings are listed
// (Terms and TermRanges stay empty).
func buildWarmupPlan(req Request) WarmupPlan {
	plan := WarmupPlan{}
	if req.SortBy.Kind == SortByFastField && req.SortBy.Field != "" {
		plan.FastFields = append(plan.FastFields, req.SortBy.Field)
	}
	if req.SortBy.Kind == SortByScore {
		plan.FieldNorms = true
	}
	if req.TimestampField != "" && (req.StartTimestamp != nil || req.EndTimestamp != nil) {
		plan.FastFields = append(plan.FastFields, req.TimestampField)
	}
	if req.Aggregation != "" && req.TimestampField != "" {
		plan.FastFields = append(plan.FastFields, req.TimestampField)
	}
	return plan
}
