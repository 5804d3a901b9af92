package store

import (
	"bytes"
	"io"
)

// BytesPayload is the simplest Payload: an in-memory buffer. Backends accept
// any Payload so a caller streaming from disk can supply its own
// io.ReaderAt-backed implementation instead.
type BytesPayload struct {
	Data []byte
}

func (p *BytesPayload) Len() int64 { return int64(len(p.Data)) }

func (p *BytesPayload) Reader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.Data)), nil
}

func (p *BytesPayload) RangeReader(r ByteRange) (io.ReadCloser, error) {
	end := r.End
	if end == 0 || end > int64(len(p.Data)) {
		end = int64(len(p.Data))
	}
	if r.Start > end {
		r.Start = end
	}
	return io.NopCloser(bytes.NewReader(p.Data[r.Start:end])), nil
}
