package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/strata-io/strata/internal/tassert"
)

func TestWorkfileRoundTrip(t *testing.T) {
	s, err := OpenScratch(t.TempDir())
	tassert.CheckFatal(t, err)

	p := s.WorkfilePath(Spill, "seg-0", 7)
	tassert.CheckFatal(t, os.WriteFile(p, []byte("x"), 0o644))

	ct, known := parseContentType(filepath.Base(p))
	tassert.Errorf(t, known, "expected a recognized content type")
	tassert.Errorf(t, ct == Spill, "expected %q, got %q", Spill, ct)
}

func TestSweepRemovesStaleContent(t *testing.T) {
	dir := t.TempDir()

	// A file stamped with a dead PID and a finished split that carries no
	// content tag.
	stale := filepath.Join(dir, "work.seg-0.999999999.1")
	tassert.CheckFatal(t, os.WriteFile(stale, []byte("x"), 0o644))
	finished := filepath.Join(dir, "abc123.split")
	tassert.CheckFatal(t, os.WriteFile(finished, []byte("y"), 0o644))

	_, err := OpenScratch(dir)
	tassert.CheckFatal(t, err)

	_, err = os.Stat(stale)
	tassert.Errorf(t, os.IsNotExist(err), "stale workfile should have been swept")
	_, err = os.Stat(finished)
	tassert.Errorf(t, err == nil, "finished split must survive the sweep")
}
