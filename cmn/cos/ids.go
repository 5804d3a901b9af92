// Package cos holds small standalone helpers shared across strata packages:
// checksums, ids, byte-size math.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"sync"

	"github.com/teris-io/shortid"
)

var (
	genMu sync.Mutex
	gen   *shortid.Shortid
)

func init() {
	var err error
	gen, err = shortid.New(1, shortid.DefaultABC, 0xBEEF)
	if err != nil {
		panic(err)
	}
}

// GenSplitID returns a ULID-like, lexicographically-scattered identifier for
// a newly staged split.
func GenSplitID() string {
	genMu.Lock()
	defer genMu.Unlock()
	id, err := gen.Generate()
	if err != nil {
		// shortid's only failure mode is clock/worker exhaustion; a process
		// restart reseeds it, so panicking here would be worse than a
		// degraded-but-unique fallback.
		return shortid.MustGenerate()
	}
	return id
}

// GenTie returns a short unique tie-breaker token for naming
// ".tmp.<tie>" scratch files.
func GenTie() string {
	return GenSplitID()[:6]
}
