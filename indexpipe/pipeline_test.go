package indexpipe_test

import (
	"context"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/strata-io/strata/fs"
	"github.com/strata-io/strata/indexpipe"
	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/metastore"
	"github.com/strata-io/strata/split"
	"github.com/strata-io/strata/splitcache"
	"github.com/strata-io/strata/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fakeBuilder collects docs and emits them as one docs.json sub-file.
type fakeBuilder struct {
	docs []indexpipe.ProcessedDoc
}

func (b *fakeBuilder) AddDoc(doc indexpipe.ProcessedDoc) error {
	b.docs = append(b.docs, doc)
	return nil
}

func (b *fakeBuilder) Finish(ctx context.Context) ([]split.SubFile, []byte, error) {
	raw, err := json.Marshal(b.docs)
	if err != nil {
		return nil, nil, err
	}
	return []split.SubFile{{Path: "docs.json", Data: raw}}, []byte("hotcache"), nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	published []metastore.SplitMetadata
}

func (n *recordingNotifier) SplitPublished(meta metastore.SplitMetadata) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, meta)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.published)
}

func newPipelineFixture(t *testing.T, src indexpipe.Source) (*indexpipe.Pipeline, metastore.Metastore, *recordingNotifier) {
	t.Helper()
	ctx := context.Background()

	remote := store.NewMemStore()
	cache, err := splitcache.Open(t.TempDir(), remote, 100, 1<<30)
	tassert.CheckFatal(t, err)
	t.Cleanup(func() { cache.Close() })

	scratch, err := fs.OpenScratch(t.TempDir())
	tassert.CheckFatal(t, err)

	ms := metastore.NewJSONMetastore(nil)
	_, err = ms.CreateIndex(ctx, metastore.IndexConfig{IndexID: "logs", IndexURI: "ram://logs"})
	tassert.CheckFatal(t, err)

	notifier := &recordingNotifier{}
	p := indexpipe.NewPipeline(indexpipe.Params{
		IndexUID:    "logs",
		SourceID:    "q",
		NodeID:      "n1",
		PartitionID: "p0",
		Source:      src,
		Mapping:     indexpipe.DocMapping{TagFields: []string{"app"}, TimestampField: "ts"},
		Policy:      indexpipe.CommitPolicy{MaxNumDocs: 2, CommitTimeout: 50 * time.Millisecond},
		Builder:     func() indexpipe.SegmentBuilder { return &fakeBuilder{} },
		Packager:    indexpipe.NewPackager(scratch, "logs", "q", "n1", "p0"),
		Uploader:    &indexpipe.Uploader{Cache: cache, MaturityAge: time.Hour},
		Publisher:   &indexpipe.Publisher{Metastore: ms, IndexUID: "logs", Notifier: notifier},

		PollInterval: 10 * time.Millisecond,
	})
	return p, ms, notifier
}

func TestPipelinePublishesCommittedSplit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src := indexpipe.NewIngestQueueSource("p0")
	src.Append(
		indexpipe.RawDoc{Fields: map[string]interface{}{"body": "a", "app": "web", "ts": int64(10)}},
		indexpipe.RawDoc{Fields: map[string]interface{}{"body": "b", "app": "web", "ts": int64(20)}},
	)

	p, ms, notifier := newPipelineFixture(t, src)
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	p.Kill()
	<-done

	tassert.Fatalf(t, notifier.count() == 1, "expected 1 published split, got %d", notifier.count())

	splits, err := ms.ListSplits(ctx, metastore.SplitQuery{
		IndexUIDs: []string{"logs"},
		States:    []metastore.SplitState{metastore.Published},
	})
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, len(splits) == 1, "expected 1 published split in metastore, got %d", len(splits))
	s := splits[0]
	tassert.Errorf(t, s.NumDocs == 2, "expected 2 docs, got %d", s.NumDocs)
	tassert.Errorf(t, s.TimeRangeLo != nil && *s.TimeRangeLo == 10, "expected time range lo 10")
	tassert.Errorf(t, s.TimeRangeHi != nil && *s.TimeRangeHi == 20, "expected time range hi 20")
	tassert.Errorf(t, len(s.Tags) == 1 && s.Tags[0] == "app:web", "expected tag app:web, got %v", s.Tags)

	// Checkpoint advanced to the batch's end position.
	meta, err := ms.IndexMetadata(ctx, "logs")
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, meta.Checkpoints["q"]["p0"] == 2, "expected checkpoint at 2, got %d", meta.Checkpoints["q"]["p0"])
}

func TestPipelineExitsCleanlyWhenIndexGone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src := indexpipe.NewIngestQueueSource("p0")
	p, ms, _ := newPipelineFixture(t, src)

	// Delete the index, then feed docs: the publish fails IndexDoesNotExist
	// and the pipeline must exit Success instead of respawning forever.
	tassert.CheckFatal(t, ms.DeleteIndex(context.Background(), "logs"))
	src.Append(
		indexpipe.RawDoc{Fields: map[string]interface{}{"body": "a", "ts": int64(1)}},
		indexpipe.RawDoc{Fields: map[string]interface{}{"body": "b", "ts": int64(2)}},
	)

	res := p.Run(ctx)
	tassert.Errorf(t, res.Err == nil, "expected clean exit, got %v", res.Err)
}
