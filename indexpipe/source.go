// Package indexpipe implements the per-(index, source, ordinal) staged
// actor graph: Source -> DocProcessor -> Indexer -> Packager -> Uploader
// -> Publisher, with bounded-mailbox backpressure between the data-plane
// stages.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package indexpipe

import (
	"context"
	"sync"

	"github.com/strata-io/strata/metastore"
)

// RawDoc is one unparsed input document.
type RawDoc struct {
	Fields map[string]interface{}
}

// RawDocBatch is what a Source emits per poll.
type RawDocBatch struct {
	Docs            []RawDoc
	CheckpointDelta []metastore.CheckpointDelta
	ForceCommit     bool
}

// Source emits batches, resumable from a checkpoint.
type Source interface {
	Next(ctx context.Context) (*RawDocBatch, error)
}

// IngestQueueSource drains an append queue with a known partition identity;
// the queue is truncated only once its docs are durably published.
type IngestQueueSource struct {
	PartitionID string

	mu      sync.Mutex
	pending []RawDoc
	offset  int64 // number of docs ever appended; used as the checkpoint position
}

func NewIngestQueueSource(partitionID string) *IngestQueueSource {
	return &IngestQueueSource{PartitionID: partitionID}
}

// Append enqueues docs arriving from the ingest API.
func (q *IngestQueueSource) Append(docs ...RawDoc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, docs...)
	q.offset += int64(len(docs))
}

// Next drains everything currently queued as one batch. The checkpoint
// delta's From is the position before this batch, To is the position
// after: Publisher applies it, and a successful publish is what lets the
// caller call Truncate.
func (q *IngestQueueSource) Next(ctx context.Context) (*RawDocBatch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return &RawDocBatch{}, nil
	}
	from := q.offset - int64(len(q.pending))
	batch := &RawDocBatch{
		Docs: q.pending,
		CheckpointDelta: []metastore.CheckpointDelta{
			{PartitionID: q.PartitionID, From: from, To: q.offset},
		},
	}
	return batch, nil
}

// Truncate drops queued docs once their batch has been durably published,
// bounding the queue's growth.
func (q *IngestQueueSource) Truncate(upTo int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	consumed := upTo - (q.offset - int64(len(q.pending)))
	if consumed <= 0 {
		return
	}
	if consumed >= int64(len(q.pending)) {
		q.pending = nil
		return
	}
	q.pending = q.pending[consumed:]
}
