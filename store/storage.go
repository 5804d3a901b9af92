// Package store implements the uniform blob-storage abstraction:
// put/get/get-range/copy-to-file/delete/exists/bulk-delete over a closed
// set of backend drivers, a narrow interface plus one file per concrete
// backend.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"context"
	"io"
)

// Payload is what Put uploads: a length plus a way to stream any byte range
// of itself, so a multipart implementation can fan the upload out across
// parts without buffering the whole object.
type Payload interface {
	Len() int64
	RangeReader(r ByteRange) (io.ReadCloser, error)
	Reader() (io.ReadCloser, error)
}

// ByteRange is a half-open [Start, End) byte range; End == 0 with Start == 0
// and the payload/object's full length means "whole object".
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) isFull(total int64) bool {
	return r.Start == 0 && (r.End == 0 || r.End >= total)
}

// Len reports the range length given the full object size, resolving an
// open-ended End (0) to "until EOF".
func (r ByteRange) Len(total int64) int64 {
	end := r.End
	if end == 0 || end > total {
		end = total
	}
	if end < r.Start {
		return 0
	}
	return end - r.Start
}

// BulkDeleteResult is the (successes, failures) pair BulkDelete returns;
// it never aborts on the first error.
type BulkDeleteResult struct {
	Successes []string
	Failures  map[string]error
}

// Storage is the narrow, provider-agnostic contract every backend satisfies.
// All operations are asynchronous (context-cancellable) and cancel-safe
// except where noted.
type Storage interface {
	// Put uploads payload to path. Idempotent: re-uploading the same path
	// with the same bytes is always safe.
	Put(ctx context.Context, path string, payload Payload) error

	// GetSlice returns exactly the requested byte range.
	GetSlice(ctx context.Context, path string, r ByteRange) ([]byte, error)

	// GetSliceStream returns an async byte reader over the range; caller
	// must Close it.
	GetSliceStream(ctx context.Context, path string, r ByteRange) (io.ReadCloser, error)

	// GetAll returns the whole object.
	GetAll(ctx context.Context, path string) ([]byte, error)

	// CopyToFile streams path to localPath; the target directory must
	// already exist (caller's responsibility).
	CopyToFile(ctx context.Context, path, localPath string) error

	// Delete succeeds even if the object does not exist.
	Delete(ctx context.Context, path string) error

	// BulkDelete is best-effort; on a backend without native batch delete
	// it falls back to bounded-concurrency individual deletes.
	BulkDelete(ctx context.Context, paths []string) (BulkDeleteResult, error)

	// FileNumBytes returns the object's size, failing with a NotFound-kind
	// error if it does not exist.
	FileNumBytes(ctx context.Context, path string) (int64, error)

	// Exists distinguishes NotFound from Unauthorized/Io failures: a
	// transport error is not "the object doesn't exist".
	Exists(ctx context.Context, path string) (bool, error)

	// URIScheme identifies the backend, e.g. "s3", "azure", "gcs", "hdfs",
	// "file", "ram", used for context strings and for resolving a
	// split/index URI to the right driver.
	URIScheme() string
}
