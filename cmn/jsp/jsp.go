// Package jsp (JSON persistence) saves and loads JSON-encoded metadata
// through the abstract store.Storage, with a checksum over the encoded body
// guarding against partial writes. The metastore's JSON-file-backed
// implementation persists through this package rather than straight to
// disk.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/strata-io/strata/cmn/cos"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope is the on-disk shape: a checksum over body guards against a
// write torn by a crash between Put and its caller observing success.
type envelope struct {
	Checksum cos.Cksum       `json:"checksum"`
	Body     jsoniter.RawMessage `json:"body"`
}

// Save JSON-encodes v, wraps it with a checksum, and puts it to path on s.
// On store.Storage backends that replace an object atomically (FSStore via
// temp-then-rename, object stores via a native PUT) this is a safe
// concurrent-writer metadata update; HDFSStore.Put removes the old file
// before creating the new one, so the replace is not atomic there.
func Save(ctx context.Context, s store.Storage, path string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.JsonSerde, "jsp encode "+path, err)
	}
	env := envelope{Checksum: cos.ComputeCksum(body), Body: body}
	blob, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(errs.JsonSerde, "jsp encode envelope "+path, err)
	}
	return s.Put(ctx, path, &store.BytesPayload{Data: blob})
}

// Load fetches path from s, verifies its checksum, and decodes the body
// into v.
func Load(ctx context.Context, s store.Storage, path string, v interface{}) error {
	blob, err := s.GetAll(ctx, path)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return errs.Wrap(errs.JsonSerde, "jsp decode envelope "+path, err)
	}
	if !env.Checksum.Equal(cos.ComputeCksum(env.Body)) {
		return errs.New(errs.JsonSerde, "jsp bad checksum "+path)
	}
	if err := json.Unmarshal(env.Body, v); err != nil {
		return errs.Wrap(errs.JsonSerde, "jsp decode body "+path, err)
	}
	return nil
}

// Exists reports whether path is present without decoding it.
func Exists(ctx context.Context, s store.Storage, path string) (bool, error) {
	return s.Exists(ctx, path)
}
