// Package stats registers, tracks and exports the engine's operational
// metrics: pipeline throughput, cache occupancy, scheduler activity and
// search latency.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Naming Convention:
//  -> "*.n" - counter
//  -> "*.ns" - latency (nanoseconds)
//  -> "*.size" - size (bytes)
//  -> "*.bps" - throughput (byte/s)
const (
	// indexing pipeline
	DocsProcessedCount = "indexing.docs.n"
	DocsFailedCount    = "indexing.docs.failed.n"
	SplitsStagedCount  = "indexing.splits.staged.n"
	UploadSize         = "indexing.upload.size"
	UploadThroughput   = "indexing.upload.bps"
	PipelineRestarts   = "indexing.pipeline.restarts.n"

	// merge pipeline
	MergeOpsCount     = "merge.ops.n"
	MergeDownloadSize = "merge.download.size"

	// split cache
	CacheSplits = "splitcache.splits.n"
	CacheBytes  = "splitcache.size"

	// search
	LeafSearchLatency = "search.leaf.ns"
	RootSearchLatency = "search.root.ns"
	LeafCacheHits     = "search.leaf.cache.hits.n"
	LeafCacheMisses   = "search.leaf.cache.misses.n"

	// scheduler
	PlansAppliedCount = "sched.plans.applied.n"
	ReschedulesCount  = "sched.reschedules.n"
)

// Tracker is the process-wide metrics registry. One instance per node;
// constructing a second with the same prometheus.Registerer panics, same as
// double-registering any collector.
type Tracker struct {
	reg prometheus.Registerer

	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

func NewTracker(reg prometheus.Registerer) *Tracker {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	t := &Tracker{
		reg:        reg,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
	for _, name := range []string{
		DocsProcessedCount, DocsFailedCount, SplitsStagedCount, PipelineRestarts,
		MergeOpsCount, LeafCacheHits, LeafCacheMisses, PlansAppliedCount, ReschedulesCount,
	} {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: sanitize(name), Help: name})
		reg.MustRegister(c)
		t.counters[name] = c
	}
	for _, name := range []string{UploadSize, UploadThroughput, MergeDownloadSize, CacheSplits, CacheBytes} {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: sanitize(name), Help: name})
		reg.MustRegister(g)
		t.gauges[name] = g
	}
	for _, name := range []string{LeafSearchLatency, RootSearchLatency} {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    sanitize(name),
			Help:    name,
			Buckets: prometheus.ExponentialBuckets(1e6, 4, 10), // 1ms .. ~4.5min in ns
		})
		reg.MustRegister(h)
		t.histograms[name] = h
	}
	return t
}

// sanitize maps the dotted internal names onto prometheus' snake_case.
func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}

func (t *Tracker) Add(name string, val int64) {
	if c, ok := t.counters[name]; ok {
		c.Add(float64(val))
	}
}

func (t *Tracker) AddOne(name string) { t.Add(name, 1) }

func (t *Tracker) Set(name string, val int64) {
	if g, ok := t.gauges[name]; ok {
		g.Set(float64(val))
	}
}

func (t *Tracker) Observe(name string, d time.Duration) {
	if h, ok := t.histograms[name]; ok {
		h.Observe(float64(d.Nanoseconds()))
	}
}

// T is the default tracker most call sites use; an embedding binary that
// wants its own Registerer replaces it at startup, before any pipeline
// spawns.
var T = NewTracker(nil)
