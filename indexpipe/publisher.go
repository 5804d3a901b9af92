package indexpipe

import (
	"context"

	"github.com/golang/glog"
	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/stats"
)

// MergeNotifier receives the metadata of every freshly published split so
// the merge planner can consider it immediately rather than on its next
// periodic listing.
type MergeNotifier interface {
	SplitPublished(meta metastore.SplitMetadata)
}

// Truncator lets the publisher tell an ingest-queue source that everything
// up to a position is durably published and may be dropped.
type Truncator interface {
	Truncate(upTo int64)
}

// Publisher atomically stages then publishes splits, carrying the source
// checkpoint delta.
type Publisher struct {
	Metastore metastore.Metastore
	IndexUID  string
	Notifier  MergeNotifier
	Truncate  Truncator
}

func toMetastoreDelta(delta []CheckpointDeltaRef, sourceID string) []metastore.CheckpointDelta {
	out := make([]metastore.CheckpointDelta, len(delta))
	for i, d := range delta {
		sid := d.SourceID
		if sid == "" {
			sid = sourceID
		}
		out[i] = metastore.CheckpointDelta{SourceID: sid, PartitionID: d.PartitionID, From: d.From, To: d.To}
	}
	return out
}

// Publish stages the split, publishes it with its checkpoint delta, then
// notifies the merge planner and truncates the ingest queue.
func (p *Publisher) Publish(ctx context.Context, ps *PackagedSplit) error {
	if err := p.Metastore.StageSplits(ctx, p.IndexUID, []metastore.SplitMetadata{ps.Meta}); err != nil {
		return err
	}
	stats.T.AddOne(stats.SplitsStagedCount)

	delta := toMetastoreDelta(ps.Delta, ps.Meta.SourceID)
	if err := p.Metastore.PublishSplits(ctx, p.IndexUID, []string{ps.Meta.SplitID}, nil, delta); err != nil {
		return err
	}
	glog.Infof("published split %s (%d docs)", ps.Meta.SplitID, ps.Meta.NumDocs)

	if p.Notifier != nil {
		published := ps.Meta
		published.State = metastore.Published
		p.Notifier.SplitPublished(published)
	}
	if p.Truncate != nil {
		for _, d := range ps.Delta {
			p.Truncate.Truncate(d.To)
		}
	}
	return nil
}

// IndexGone reports whether err means the pipeline's index has been deleted
// out from under it, which is a clean shutdown rather than a failure.
func IndexGone(err error) bool {
	return errs.KindOf(err) == errs.IndexDoesNotExist
}
