package cos

import "encoding/binary"

// LE64 / PutLE64 implement the split container's 8-byte little-endian
// unsigned length prefixes.
func LE64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

func PutLE64(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b, v)
}

const SizeofI64 = 8

// ByteRange is a half-open [Start, End) byte range inside a blob.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r ByteRange) Len() int64 { return r.End - r.Start }
