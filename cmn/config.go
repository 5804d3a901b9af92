// Package cmn provides common constants, types and process-wide
// configuration for strata.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"sync/atomic"
	"time"
)

// Config is populated once by the embedding binary and then treated as
// immutable; updates go through GCO's copy-on-write swap.
type Config struct {
	Timeout TimeoutConf
	Cache   CacheConf
	Merge   MergeConf
	Sched   SchedConf
	Search  SearchConf
}

type TimeoutConf struct {
	RPC              time.Duration // bounded RPC timeout, default 10s
	ControlLoop      time.Duration // scheduler reconciliation interval
	MinReschedule    time.Duration // cool-down between full re-schedules
	SupervisionTick  time.Duration // periodic supervise tick
	ProgressDeadline time.Duration // frozen-actor detection threshold
}

type CacheConf struct {
	MaxNumSplits int64
	MaxNumBytes  int64
}

type MergeConf struct {
	TargetSplitSizeBytes int64
	MaxMergeFactor       int
	MinMergeFactor       int
	MaturityAge          time.Duration
	IOLimitBytesPerSec   int64
}

type SchedConf struct {
	MinDurationBetweenScheduling time.Duration
}

type SearchConf struct {
	MaxConcurrentSplitSearches int
	MaxConcurrentSplitStreams  int
	DefaultDeadline            time.Duration
}

func defaultConfig() *Config {
	return &Config{
		Timeout: TimeoutConf{
			RPC:              10 * time.Second,
			ControlLoop:      5 * time.Second,
			MinReschedule:    3 * time.Second,
			SupervisionTick:  time.Second,
			ProgressDeadline: 30 * time.Second,
		},
		Cache: CacheConf{
			MaxNumSplits: 10_000,
			MaxNumBytes:  50 << 30,
		},
		Merge: MergeConf{
			TargetSplitSizeBytes: 10 << 30,
			MaxMergeFactor:       12,
			MinMergeFactor:       3,
			MaturityAge:          2 * time.Hour,
			IOLimitBytesPerSec:   200 << 20,
		},
		Sched: SchedConf{
			MinDurationBetweenScheduling: 2 * time.Second,
		},
		Search: SearchConf{
			MaxConcurrentSplitSearches: 100,
			MaxConcurrentSplitStreams:  20,
			DefaultDeadline:            30 * time.Second,
		},
	}
}

// globalConfigOwner is an atomically-swapped pointer so readers never
// observe a partially-updated Config.
type globalConfigOwner struct {
	v atomic.Value
}

func (gco *globalConfigOwner) Get() *Config {
	c, _ := gco.v.Load().(*Config)
	if c == nil {
		c = defaultConfig()
		gco.v.Store(c)
	}
	return c
}

// Put installs a new Config wholesale. BeginUpdate/CommitUpdate
// (copy-then-swap) are provided for callers that want to mutate a clone
// without a data race on the live pointer.
func (gco *globalConfigOwner) Put(c *Config) { gco.v.Store(c) }

func (gco *globalConfigOwner) BeginUpdate() *Config {
	cur := gco.Get()
	clone := *cur
	return &clone
}

func (gco *globalConfigOwner) CommitUpdate(c *Config) { gco.Put(c) }

// GCO is the process-wide config owner.
var GCO = &globalConfigOwner{}
