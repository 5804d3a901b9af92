package store

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/strata-io/strata/cmn/cos"
	"github.com/strata-io/strata/cmn/errs"
)

// FSStore is the local-filesystem backend: objects live under Root, keyed
// by their path with directories created on demand, writing through a
// ".tmp.<tie>" scratch file before an atomic rename.
type FSStore struct {
	Root string
}

func NewFSStore(root string) *FSStore { return &FSStore{Root: root} }

func (f *FSStore) abs(path string) string { return filepath.Join(f.Root, path) }

func (f *FSStore) URIScheme() string { return "file" }

func (f *FSStore) Put(ctx context.Context, path string, payload Payload) error {
	abs := f.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errs.Wrap(errs.Io, "file://"+path+" put", err)
	}
	tmp := abs + ".tmp." + cos.GenTie()
	out, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.Io, "file://"+path+" put", err)
	}
	r, err := payload.Reader()
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.Io, "file://"+path+" put", err)
	}
	_, err = io.Copy(out, r)
	r.Close()
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.Io, "file://"+path+" put", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.Io, "file://"+path+" put", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.Io, "file://"+path+" put", err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.Io, "file://"+path+" put", err)
	}
	return nil
}

func (f *FSStore) open(path string) (*os.File, error) {
	file, err := os.Open(f.abs(path))
	if os.IsNotExist(err) {
		return nil, errs.New(errs.NotFound, "file://"+path)
	}
	if err != nil {
		return nil, errs.Wrap(errs.Io, "file://"+path, err)
	}
	return file, nil
}

func (f *FSStore) GetSlice(_ context.Context, path string, r ByteRange) ([]byte, error) {
	file, err := f.open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.Io, "file://"+path, err)
	}
	n := r.Len(info.Size())
	buf := make([]byte, n)
	if _, err := file.ReadAt(buf, r.Start); err != nil && err != io.EOF {
		return nil, errs.Wrap(errs.Io, "file://"+path+" get_slice", err)
	}
	return buf, nil
}

func (f *FSStore) GetSliceStream(_ context.Context, path string, r ByteRange) (io.ReadCloser, error) {
	file, err := f.open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errs.Wrap(errs.Io, "file://"+path, err)
	}
	if _, err := file.Seek(r.Start, io.SeekStart); err != nil {
		file.Close()
		return nil, errs.Wrap(errs.Io, "file://"+path, err)
	}
	n := r.Len(info.Size())
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(file, n), file}, nil
}

func (f *FSStore) GetAll(_ context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(f.abs(path))
	if os.IsNotExist(err) {
		return nil, errs.New(errs.NotFound, "file://"+path)
	}
	if err != nil {
		return nil, errs.Wrap(errs.Io, "file://"+path+" get_all", err)
	}
	return b, nil
}

func (f *FSStore) CopyToFile(_ context.Context, path, localPath string) error {
	src, err := f.open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return errs.Wrap(errs.Io, "file://"+path+" copy_to_file", err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return errs.Wrap(errs.Io, "file://"+path+" copy_to_file", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return errs.Wrap(errs.Io, "file://"+path+" copy_to_file", err)
	}
	return nil
}

func (f *FSStore) Delete(_ context.Context, path string) error {
	if err := os.Remove(f.abs(path)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.Io, "file://"+path+" delete", err)
	}
	return nil
}

func (f *FSStore) BulkDelete(ctx context.Context, paths []string) (BulkDeleteResult, error) {
	return boundedBulkDelete(ctx, paths, 16, f.Delete), nil
}

func (f *FSStore) FileNumBytes(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(f.abs(path))
	if os.IsNotExist(err) {
		return 0, errs.New(errs.NotFound, "file://"+path)
	}
	if err != nil {
		return 0, errs.Wrap(errs.Io, "file://"+path+" file_num_bytes", err)
	}
	return info.Size(), nil
}

func (f *FSStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(f.abs(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.Io, "file://"+path+" exists", err)
	}
	return true, nil
}
