package store

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/colinmarc/hdfs/v2"
	"github.com/strata-io/strata/cmn/errs"
)

// HDFSStore puts an on-prem HDFS namenode behind the same Storage
// contract, alongside the S3/Azure/GCS/local-FS/RAM drivers.
type HDFSStore struct {
	client *hdfs.Client
	root   string
}

func NewHDFSStore(client *hdfs.Client, root string) *HDFSStore {
	return &HDFSStore{client: client, root: root}
}

func (h *HDFSStore) URIScheme() string { return "hdfs" }

func (h *HDFSStore) abs(p string) string { return path.Join(h.root, p) }

func (h *HDFSStore) Put(ctx context.Context, p string, payload Payload) error {
	abs := h.abs(p)
	if err := h.client.MkdirAll(path.Dir(abs), 0o755); err != nil {
		return errs.Wrap(errs.Io, h.ctxStr(p, "put"), err)
	}
	// HDFS files are write-once: remove a stale copy before re-creating, so
	// Put stays idempotent.
	_ = h.client.Remove(abs)
	w, err := h.client.Create(abs)
	if err != nil {
		return errs.Wrap(errs.Io, h.ctxStr(p, "put"), err)
	}
	r, err := payload.Reader()
	if err != nil {
		w.Close()
		return errs.Wrap(errs.Io, h.ctxStr(p, "put"), err)
	}
	defer r.Close()
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errs.Wrap(errs.Io, h.ctxStr(p, "put"), err)
	}
	if err := w.Close(); err != nil {
		return errs.Wrap(errs.Io, h.ctxStr(p, "put"), err)
	}
	return nil
}

func (h *HDFSStore) open(p string) (*hdfs.FileReader, error) {
	r, err := h.client.Open(h.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, h.ctxStr(p, "open"))
		}
		return nil, errs.Wrap(errs.Io, h.ctxStr(p, "open"), err)
	}
	return r, nil
}

func (h *HDFSStore) GetSliceStream(_ context.Context, p string, r ByteRange) (io.ReadCloser, error) {
	f, err := h.open(p)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(r.Start, io.SeekStart); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.Io, h.ctxStr(p, "get_slice"), err)
	}
	n := r.Len(f.Stat().Size())
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(f, n), f}, nil
}

func (h *HDFSStore) GetSlice(ctx context.Context, p string, r ByteRange) ([]byte, error) {
	rc, err := h.GetSliceStream(ctx, p, r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (h *HDFSStore) GetAll(ctx context.Context, p string) ([]byte, error) {
	return h.GetSlice(ctx, p, ByteRange{})
}

func (h *HDFSStore) CopyToFile(ctx context.Context, p, localPath string) error {
	return copyToFileViaStream(ctx, h, p, localPath)
}

func (h *HDFSStore) Delete(_ context.Context, p string) error {
	if err := h.client.Remove(h.abs(p)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Io, h.ctxStr(p, "delete"), err)
	}
	return nil
}

func (h *HDFSStore) BulkDelete(ctx context.Context, paths []string) (BulkDeleteResult, error) {
	return boundedBulkDelete(ctx, paths, 8, h.Delete), nil
}

func (h *HDFSStore) FileNumBytes(_ context.Context, p string) (int64, error) {
	info, err := h.client.Stat(h.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.New(errs.NotFound, h.ctxStr(p, "file_num_bytes"))
		}
		return 0, errs.Wrap(errs.Io, h.ctxStr(p, "file_num_bytes"), err)
	}
	return info.Size(), nil
}

func (h *HDFSStore) Exists(_ context.Context, p string) (bool, error) {
	_, err := h.client.Stat(h.abs(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errs.Wrap(errs.Io, h.ctxStr(p, "exists"), err)
}

func (h *HDFSStore) ctxStr(p, op string) string {
	return "hdfs://" + h.abs(p) + " " + op
}
