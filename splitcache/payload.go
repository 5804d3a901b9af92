package splitcache

import (
	"io"
	"os"

	"github.com/strata-io/strata/store"
)

// filePayload streams a local split file into a Put without reading it
// fully into memory first. Splits are always pushed to remote storage in
// full, so RangeReader is never exercised by Store but is required
// to satisfy store.Payload.
type filePayload struct {
	f    *os.File
	size int64
}

func (p *filePayload) Len() int64 { return p.size }

func (p *filePayload) Reader() (io.ReadCloser, error) {
	if _, err := p.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.NopCloser(p.f), nil
}

func (p *filePayload) RangeReader(r store.ByteRange) (io.ReadCloser, error) {
	if _, err := p.f.Seek(r.Start, io.SeekStart); err != nil {
		return nil, err
	}
	end := r.End
	if end == 0 {
		end = p.size
	}
	return io.NopCloser(io.LimitReader(p.f, end-r.Start)), nil
}
