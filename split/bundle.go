// Package split implements the on-disk split container format: a bundle of
// sub-files followed by bundle-metadata JSON and its little-endian 8-byte
// length, then a hotcache blob and its little-endian 8-byte length.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package split

import (
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/strata-io/strata/cmn/cos"
	"github.com/strata-io/strata/cmn/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BundleMetadata maps each sub-file path inside the split to its byte range
// within the container blob.
type BundleMetadata map[string]cos.ByteRange

// SubFile is one input to Pack: a logical path plus its raw bytes.
type SubFile struct {
	Path string
	Data []byte
}

// Packed is the fully assembled split container blob plus the metadata
// needed to read it back (so a caller that just packed a split doesn't have
// to immediately re-parse its own footer).
type Packed struct {
	Blob     []byte
	Bundle   BundleMetadata
	Footer   cos.ByteRange // the footer's own range within Blob
	Checksum cos.Cksum
}

// Pack assembles the split container: sub-files in path order, bundle
// metadata JSON followed by its 8-byte little-endian length, then hotcache
// followed by its 8-byte little-endian length at the tail.
func Pack(files []SubFile, hotcache []byte) (*Packed, error) {
	sorted := make([]SubFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	bundle := make(BundleMetadata, len(sorted))
	var body []byte
	for _, f := range sorted {
		start := int64(len(body))
		body = append(body, f.Data...)
		bundle[f.Path] = cos.ByteRange{Start: start, End: int64(len(body))}
	}

	metaJSON, err := json.Marshal(bundle)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "pack bundle metadata", err)
	}

	footerStart := int64(len(body))
	blob := append(body, metaJSON...)

	var lenBuf [cos.SizeofI64]byte
	cos.PutLE64(lenBuf[:], uint64(len(metaJSON)))
	blob = append(blob, lenBuf[:]...)

	blob = append(blob, hotcache...)
	cos.PutLE64(lenBuf[:], uint64(len(hotcache)))
	blob = append(blob, lenBuf[:]...)

	footer := cos.ByteRange{Start: footerStart, End: int64(len(blob))}
	return &Packed{
		Blob:     blob,
		Bundle:   bundle,
		Footer:   footer,
		Checksum: cos.ComputeCksum(blob[footer.Start:footer.End]),
	}, nil
}
