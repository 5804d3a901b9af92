package split

import (
	"context"

	"github.com/strata-io/strata/cmn/cos"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/store"
)

func toStoreRange(r cos.ByteRange) store.ByteRange {
	return store.ByteRange{Start: r.Start, End: r.End}
}

// Footer is the parsed trailing section of a split blob: bundle metadata
// plus the opaque hotcache bytes the index library uses to open the split
// with minimal I/O.
type Footer struct {
	Bundle   BundleMetadata
	Hotcache []byte
	Range    cos.ByteRange // the footer's own range within the blob
	Checksum cos.Cksum
}

// ReadFooter resolves a split's footer in exactly three range
// reads against path of the given total blob length:
//  1. last 8 bytes -> hotcache_len
//  2. 8 bytes immediately before the hotcache region -> bundle_meta_len
//  3. the full footer in one range request
//
// fileLen must be the blob's total size (callers already know it from
// FileNumBytes or from split metadata).
func ReadFooter(ctx context.Context, s store.Storage, path string, fileLen int64) (*Footer, error) {
	if fileLen < 2*cos.SizeofI64 {
		return nil, errs.New(errs.InvalidManifest, path+": blob too small for a footer")
	}

	// 1. hotcache_len: last 8 bytes.
	tail, err := s.GetSlice(ctx, path, toStoreRange(cos.ByteRange{Start: fileLen - cos.SizeofI64, End: fileLen}))
	if err != nil {
		return nil, errs.Wrap(errs.Io, path+" read hotcache_len", err)
	}
	hotcacheLen := int64(cos.LE64(tail))

	// 2. bundle_meta_len: 8 bytes immediately before the hotcache region.
	metaLenStart := fileLen - cos.SizeofI64 - hotcacheLen - cos.SizeofI64
	if metaLenStart < 0 {
		return nil, errs.New(errs.InvalidManifest, path+": corrupt footer (negative bundle_meta_len offset)")
	}
	metaLenBuf, err := s.GetSlice(ctx, path, toStoreRange(cos.ByteRange{Start: metaLenStart, End: metaLenStart + cos.SizeofI64}))
	if err != nil {
		return nil, errs.Wrap(errs.Io, path+" read bundle_meta_len", err)
	}
	bundleMetaLen := int64(cos.LE64(metaLenBuf))

	// 3. the full footer in a single range request.
	footerStart := fileLen - 2*cos.SizeofI64 - hotcacheLen - bundleMetaLen
	if footerStart < 0 {
		return nil, errs.New(errs.InvalidManifest, path+": corrupt footer (negative footer start)")
	}
	footerRange := cos.ByteRange{Start: footerStart, End: fileLen}
	raw, err := s.GetSlice(ctx, path, toStoreRange(footerRange))
	if err != nil {
		return nil, errs.Wrap(errs.Io, path+" read footer", err)
	}

	metaJSON := raw[:bundleMetaLen]
	hotcacheStart := bundleMetaLen + cos.SizeofI64 // skip the bundle-metadata-len field
	hotcache := raw[hotcacheStart : hotcacheStart+hotcacheLen]

	var bundle BundleMetadata
	if err := json.Unmarshal(metaJSON, &bundle); err != nil {
		return nil, errs.Wrap(errs.InvalidManifest, path+" decode bundle metadata", err)
	}

	return &Footer{
		Bundle:   bundle,
		Hotcache: hotcache,
		Range:    footerRange,
		Checksum: cos.ComputeCksum(raw),
	}, nil
}

// ParseFooter decodes an already-fetched footer blob. Callers that know the
// footer's byte range from split metadata fetch it with a single range read
// and parse here, skipping ReadFooter's two length-probe reads.
func ParseFooter(raw []byte, footerRange cos.ByteRange) (*Footer, error) {
	if int64(len(raw)) < 2*cos.SizeofI64 {
		return nil, errs.New(errs.InvalidManifest, "footer blob too small")
	}
	hotcacheLen := int64(cos.LE64(raw[len(raw)-cos.SizeofI64:]))
	metaLenEnd := int64(len(raw)) - cos.SizeofI64 - hotcacheLen
	if metaLenEnd < cos.SizeofI64 {
		return nil, errs.New(errs.InvalidManifest, "corrupt footer (hotcache_len)")
	}
	bundleMetaLen := int64(cos.LE64(raw[metaLenEnd-cos.SizeofI64 : metaLenEnd]))
	metaStart := metaLenEnd - cos.SizeofI64 - bundleMetaLen
	if metaStart < 0 {
		return nil, errs.New(errs.InvalidManifest, "corrupt footer (bundle_meta_len)")
	}
	var bundle BundleMetadata
	if err := json.Unmarshal(raw[metaStart:metaStart+bundleMetaLen], &bundle); err != nil {
		return nil, errs.Wrap(errs.InvalidManifest, "decode bundle metadata", err)
	}
	return &Footer{
		Bundle:   bundle,
		Hotcache: raw[metaLenEnd : metaLenEnd+hotcacheLen],
		Range:    footerRange,
		Checksum: cos.ComputeCksum(raw),
	}, nil
}
