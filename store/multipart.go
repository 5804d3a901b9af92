package store

import (
	"math"
	"math/rand"
	"time"
)

// MultipartPolicy decides single-part vs multipart and how to split parts:
// (i) a fixed minimum part size, (ii) a target number of parts growing with
// total size, (iii) a cap on parallel in-flight parts.
type MultipartPolicy struct {
	MinPartSize     int64 // e.g. 5 MiB
	TargetNumParts  int
	MaxInflightPart int
}

func DefaultMultipartPolicy() MultipartPolicy {
	return MultipartPolicy{
		MinPartSize:     5 << 20,
		TargetNumParts:  64,
		MaxInflightPart: 8,
	}
}

// Plan returns the part boundaries for size bytes; a single part ([0,size))
// means "use single-part upload".
func (p MultipartPolicy) Plan(size int64) []ByteRange {
	if size <= p.MinPartSize {
		return []ByteRange{{Start: 0, End: size}}
	}
	numParts := int64(p.TargetNumParts)
	if partSize := size / numParts; partSize < p.MinPartSize {
		numParts = int64(math.Ceil(float64(size) / float64(p.MinPartSize)))
	}
	if numParts < 1 {
		numParts = 1
	}
	partSize := (size + numParts - 1) / numParts
	if partSize < 1 {
		partSize = size
	}
	var parts []ByteRange
	for start := int64(0); start < size; start += partSize {
		end := start + partSize
		if end > size {
			end = size
		}
		parts = append(parts, ByteRange{Start: start, End: end})
	}
	return parts
}

// backoff implements the exponential-backoff-with-jitter retry policy
// used by the S3 backend's Put retries.
type backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max}
}

func (b *backoff) next() time.Duration {
	d := b.base << uint(b.attempt)
	if d <= 0 || d > b.max {
		d = b.max
	}
	b.attempt++
	jitter := time.Duration(rand.Int63n(int64(d) / 2+1)) //nolint:gosec // jitter, not security-sensitive
	return d/2 + jitter
}
