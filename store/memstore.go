package store

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/strata-io/strata/cmn/errs"
)

// MemStore is the RAM backend: every object
// lives in a process-local map. Used by tests and by the indexing pipeline's
// scratch storage
// (ais/backend/*.go) generalized to a single narrow Storage contract.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (m *MemStore) URIScheme() string { return "ram" }

func (m *MemStore) Put(ctx context.Context, path string, payload Payload) error {
	r, err := payload.Reader()
	if err != nil {
		return errs.Wrap(errs.Io, "ram://"+path+" put", err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return errs.Wrap(errs.Io, "ram://"+path+" put", err)
	}
	m.mu.Lock()
	m.objects[path] = b
	m.mu.Unlock()
	return nil
}

func (m *MemStore) get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[path]
	return b, ok
}

func (m *MemStore) GetSlice(_ context.Context, path string, r ByteRange) ([]byte, error) {
	b, ok := m.get(path)
	if !ok {
		return nil, errs.New(errs.NotFound, "ram://"+path+" get_slice")
	}
	end := r.End
	if end == 0 || end > int64(len(b)) {
		end = int64(len(b))
	}
	if r.Start < 0 || r.Start > end {
		return nil, errs.New(errs.Io, "ram://"+path+" invalid range")
	}
	out := make([]byte, end-r.Start)
	copy(out, b[r.Start:end])
	return out, nil
}

func (m *MemStore) GetSliceStream(ctx context.Context, path string, r ByteRange) (io.ReadCloser, error) {
	b, err := m.GetSlice(ctx, path, r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *MemStore) GetAll(_ context.Context, path string) ([]byte, error) {
	b, ok := m.get(path)
	if !ok {
		return nil, errs.New(errs.NotFound, "ram://"+path+" get_all")
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *MemStore) CopyToFile(ctx context.Context, path, localPath string) error {
	b, err := m.GetAll(ctx, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return errs.Wrap(errs.Io, "ram://"+path+" copy_to_file", err)
	}
	if err := os.WriteFile(localPath, b, 0o644); err != nil {
		return errs.Wrap(errs.Io, "ram://"+path+" copy_to_file", err)
	}
	return nil
}

func (m *MemStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.objects, path)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) BulkDelete(ctx context.Context, paths []string) (BulkDeleteResult, error) {
	res := BulkDeleteResult{Failures: map[string]error{}}
	for _, p := range paths {
		_ = m.Delete(ctx, p)
		res.Successes = append(res.Successes, p)
	}
	return res, nil
}

func (m *MemStore) FileNumBytes(_ context.Context, path string) (int64, error) {
	b, ok := m.get(path)
	if !ok {
		return 0, errs.New(errs.NotFound, "ram://"+path+" file_num_bytes")
	}
	return int64(len(b)), nil
}

func (m *MemStore) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.get(path)
	return ok, nil
}
