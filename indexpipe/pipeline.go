package indexpipe

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/strata-io/strata/actor"
	"github.com/strata-io/strata/cmn"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/stats"
)

// Params configures one pipeline instance for an (index, source, ordinal)
// triple.
type Params struct {
	IndexUID    string
	SourceID    string
	Ordinal     int
	NodeID      string
	PartitionID string

	Source    Source
	Mapping   DocMapping
	Policy    CommitPolicy
	Builder   SegmentBuilderFactory
	Packager  *Packager
	Uploader  *Uploader
	Publisher *Publisher

	// IndexerMailboxCap bounds the indexer's input queue; upstream blocks
	// when it is full.
	IndexerMailboxCap int
	// PollInterval paces the source when a poll returns no docs.
	PollInterval time.Duration

	// Backoff caps for respawn after a pipeline failure.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p *Params) defaults() {
	if p.IndexerMailboxCap <= 0 {
		p.IndexerMailboxCap = 8
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 250 * time.Millisecond
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 2 * time.Minute
	}
}

// Pipeline drives one staged run: source poll, process, index, package,
// upload, publish. A failed run is respawned after a capped exponential
// backoff; a run whose index disappeared exits cleanly.
type Pipeline struct {
	Params Params

	ks *actor.KillSwitch
}

func NewPipeline(params Params) *Pipeline {
	params.defaults()
	return &Pipeline{Params: params, ks: actor.NewKillSwitch()}
}

// Kill trips the pipeline's kill switch; every stage exits at its next
// message boundary.
func (p *Pipeline) Kill() { p.ks.Trip() }

// Run supervises the pipeline until ctx is cancelled, the kill switch
// trips, or the index disappears.
func (p *Pipeline) Run(ctx context.Context) actor.Result {
	backoff := p.Params.InitialBackoff
	for {
		res := p.runOnce(ctx)
		switch res.Status {
		case actor.Success, actor.Quit, actor.Killed, actor.DownstreamClosed:
			return res
		}
		if res.Err != nil && IndexGone(res.Err) {
			glog.Infof("pipeline %s/%s/%d: index deleted, exiting",
				p.Params.IndexUID, p.Params.SourceID, p.Params.Ordinal)
			return actor.Result{Status: actor.Success}
		}
		stats.T.AddOne(stats.PipelineRestarts)
		glog.Warningf("pipeline %s/%s/%d failed (%v), respawning in %v",
			p.Params.IndexUID, p.Params.SourceID, p.Params.Ordinal, res.Err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return actor.Result{Status: actor.Quit}
		}
		backoff *= 2
		if backoff > p.Params.MaxBackoff {
			backoff = p.Params.MaxBackoff
		}
	}
}

// pipeline messages
type (
	builtMsg    struct{ seg *BuiltSegment }
	packagedMsg struct{ ps *PackagedSplit }
	commitTick  struct{}
)

// runOnce spawns the stage actors with fresh mailboxes and runs until one
// of them reaches a terminal status.
func (p *Pipeline) runOnce(ctx context.Context) actor.Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := cmn.GCO.Get()
	indexerMbx := actor.NewMailbox(p.Params.IndexerMailboxCap)
	packagerMbx := actor.NewMailbox(0)
	publisherMbx := actor.NewMailbox(0)
	indexerMbx.AddSenderRef(1)
	packagerMbx.AddSenderRef(1)
	publisherMbx.AddSenderRef(1)

	results := make(chan actor.Result, 4)

	// Source loop: not an actor (it produces rather than consumes); it
	// blocks on the indexer's bounded mailbox for backpressure.
	go func() {
		results <- p.sourceLoop(ctx, indexerMbx)
	}()

	// Indexer actor.
	ixBehavior := &indexerBehavior{
		indexer: NewIndexer(p.Params.Policy, p.Params.Builder, p.Params.Packager.Scratch, p.Params.NodeID),
		mapping: p.Params.Mapping,
		out:     packagerMbx,
	}
	go func() {
		rt := actor.NewRuntime(indexerMbx, p.ks)
		results <- actor.Run(ctx, rt, ixBehavior)
	}()

	// Commit ticker: drives the time-based commit trigger.
	go func() {
		interval := p.Params.Policy.CommitTimeout
		if interval <= 0 {
			interval = cfg.Timeout.SupervisionTick
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				indexerMbx.SendHigh(commitTick{})
			case <-ctx.Done():
				return
			}
		}
	}()

	// Packager+uploader actor.
	pkBehavior := &packagerBehavior{
		packager: p.Params.Packager,
		uploader: p.Params.Uploader,
		out:      publisherMbx,
	}
	go func() {
		rt := actor.NewRuntime(packagerMbx, p.ks)
		results <- actor.Run(ctx, rt, pkBehavior)
	}()

	// Publisher actor.
	pubBehavior := &publisherBehavior{publisher: p.Params.Publisher}
	go func() {
		rt := actor.NewRuntime(publisherMbx, p.ks)
		results <- actor.Run(ctx, rt, pubBehavior)
	}()

	res := <-results
	cancel()
	return res
}

// sourceLoop polls the source, processes batches, and forwards them under
// backpressure.
func (p *Pipeline) sourceLoop(ctx context.Context, out *actor.Mailbox) actor.Result {
	processor := NewDocProcessor(p.Params.Mapping)
	for {
		if p.ks.Tripped() {
			return actor.Result{Status: actor.Killed}
		}
		batch, err := p.Params.Source.Next(ctx)
		if err != nil {
			return actor.Result{Status: actor.Failure, Err: err}
		}
		if len(batch.Docs) == 0 && !batch.ForceCommit {
			select {
			case <-time.After(p.Params.PollInterval):
				continue
			case <-ctx.Done():
				return actor.Result{Status: actor.Quit}
			}
		}
		processed, failures := processor.Process(batch)
		stats.T.Add(stats.DocsProcessedCount, int64(len(processed)))
		stats.T.Add(stats.DocsFailedCount, int64(len(failures)))
		for _, f := range failures {
			glog.Warningf("pipeline %s/%s: dropping malformed doc: %v",
				p.Params.IndexUID, p.Params.SourceID, f.Err)
		}
		if err := out.SendLowBlocking(ctx, processedBatch{docs: processed, delta: batch.CheckpointDelta, force: batch.ForceCommit}); err != nil {
			return actor.Result{Status: actor.Quit}
		}
	}
}

// processedBatch is the source loop's message to the indexer.
type processedBatch struct {
	docs  []ProcessedDoc
	delta []metastore.CheckpointDelta
	force bool
}

type indexerBehavior struct {
	indexer *Indexer
	mapping DocMapping
	out     *actor.Mailbox
}

func toDeltaRefs(delta []metastore.CheckpointDelta) []CheckpointDeltaRef {
	out := make([]CheckpointDeltaRef, len(delta))
	for i, d := range delta {
		out[i] = CheckpointDeltaRef{SourceID: d.SourceID, PartitionID: d.PartitionID, From: d.From, To: d.To}
	}
	return out
}

func (b *indexerBehavior) Receive(ctx context.Context, env actor.Envelope) error {
	switch msg := env.Msg.(type) {
	case processedBatch:
		commit, err := b.indexer.Add(msg.docs, toDeltaRefs(msg.delta), msg.force)
		if err != nil {
			return err
		}
		if commit {
			return b.commit(ctx, msg.force)
		}
	case commitTick:
		if b.indexer.TimedOut(time.Now()) {
			return b.commit(ctx, false)
		}
	}
	return nil
}

func (b *indexerBehavior) commit(ctx context.Context, force bool) error {
	seg, err := b.indexer.Commit(ctx, force)
	if err != nil || seg == nil {
		return err
	}
	b.out.SendLow(builtMsg{seg: seg})
	return nil
}

func (b *indexerBehavior) Finalize(actor.ExitStatus) {}

type packagerBehavior struct {
	packager *Packager
	uploader *Uploader
	out      *actor.Mailbox
}

func (b *packagerBehavior) Receive(ctx context.Context, env actor.Envelope) error {
	msg, ok := env.Msg.(builtMsg)
	if !ok {
		return nil
	}
	ps, err := b.packager.Package(msg.seg)
	if err != nil {
		return err
	}
	if err := b.uploader.Upload(ctx, ps); err != nil {
		return err
	}
	b.out.SendLow(packagedMsg{ps: ps})
	return nil
}

func (b *packagerBehavior) Finalize(actor.ExitStatus) {}

type publisherBehavior struct {
	publisher *Publisher
}

func (b *publisherBehavior) Receive(ctx context.Context, env actor.Envelope) error {
	msg, ok := env.Msg.(packagedMsg)
	if !ok {
		return nil
	}
	return b.publisher.Publish(ctx, msg.ps)
}

func (b *publisherBehavior) Finalize(actor.ExitStatus) {}
