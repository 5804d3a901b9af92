// Package fs manages the node-local scratch space where indexing and merge
// pipelines assemble splits before upload: per-pipeline scratch directories,
// workfile naming, and startup cleanup of files orphaned by a crash.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/karrick/godirwalk"
	"github.com/strata-io/strata/cmn/errs"
)

/*
 * Besides finished .split files the scratch space holds intermediate
 * content: indexer segment spills, merge downloads, half-packaged bundles.
 * Each content type has its own naming rule so that, when walking the
 * scratch root after a restart, we can tell a resumable artifact from junk
 * that must be swept. New content types implement ContentResolver.
 */

// ContentType tags a scratch file with the stage that produced it.
type ContentType string

const (
	// Workfile is any in-progress artifact; never survives a restart.
	Workfile ContentType = "work"
	// Spill is an indexer segment buffer compressed to disk.
	Spill ContentType = "spill"
	// Download is a merge input fetched from remote storage.
	Download ContentType = "dl"
)

const workfileSep = "."

// ContentResolver decides whether a file of its type found at startup is
// still usable or must be removed.
type ContentResolver interface {
	// PermToKeep reports whether a file produced by a previous process
	// incarnation may be kept.
	PermToKeep(base string) bool
}

type workfileResolver struct{ pid int }

// PermToKeep for workfiles: only files stamped with the current PID survive,
// and on startup the current PID never matches a previous run's.
func (w workfileResolver) PermToKeep(base string) bool {
	parts := strings.Split(base, workfileSep)
	if len(parts) < 3 {
		return false
	}
	pid, err := strconv.Atoi(parts[len(parts)-2])
	return err == nil && pid == w.pid
}

var resolvers = map[ContentType]ContentResolver{
	Workfile: workfileResolver{pid: os.Getpid()},
	Spill:    workfileResolver{pid: os.Getpid()},
	Download: workfileResolver{pid: os.Getpid()},
}

// Scratch is one pipeline's private working directory under the node-wide
// scratch root.
type Scratch struct {
	Root string
}

// OpenScratch creates (or reuses) dir and sweeps stale content left behind
// by a previous incarnation.
func OpenScratch(dir string) (*Scratch, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Io, "scratch mkdir "+dir, err)
	}
	s := &Scratch{Root: dir}
	if err := s.sweep(); err != nil {
		return nil, err
	}
	return s, nil
}

// WorkfilePath returns a unique scratch path for an in-progress artifact:
// <root>/<ct>.<base>.<pid>.<seq>. The PID component is what lets sweep
// distinguish a live workfile from a previous run's.
func (s *Scratch) WorkfilePath(ct ContentType, base string, seq int64) string {
	name := fmt.Sprintf("%s%s%s%s%d%s%d", ct, workfileSep, base, workfileSep, os.Getpid(), workfileSep, seq)
	return filepath.Join(s.Root, name)
}

// parseContentType extracts the leading content-type tag, reporting false
// for files that carry none (finished splits, foreign files).
func parseContentType(base string) (ContentType, bool) {
	i := strings.Index(base, workfileSep)
	if i <= 0 {
		return "", false
	}
	ct := ContentType(base[:i])
	_, known := resolvers[ct]
	return ct, known
}

// sweep removes content a previous incarnation left behind. Files without a
// recognized content-type tag are left alone.
func (s *Scratch) sweep() error {
	names, err := godirwalk.ReadDirnames(s.Root, nil)
	if err != nil {
		return errs.Wrap(errs.Io, "scratch scan "+s.Root, err)
	}
	for _, name := range names {
		ct, known := parseContentType(name)
		if !known {
			continue
		}
		if resolvers[ct].PermToKeep(name) {
			continue
		}
		p := filepath.Join(s.Root, name)
		if err := os.RemoveAll(p); err != nil {
			glog.Warningf("scratch sweep: cannot remove %s: %v", p, err)
			continue
		}
		glog.Infof("scratch sweep: removed stale %s", p)
	}
	return nil
}

// TempDir allocates a fresh subdirectory for a multi-file artifact (an index
// build directory); the caller removes it when done.
func (s *Scratch) TempDir(ct ContentType, base string, seq int64) (string, error) {
	dir := s.WorkfilePath(ct, base, seq)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.Io, "scratch tempdir "+dir, err)
	}
	return dir, nil
}
