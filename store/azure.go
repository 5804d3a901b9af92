package store

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/strata-io/strata/cmn/errs"
)

// AzureStore backs the Storage contract with Azure Blob Storage. Multipart
// uploads map to azblob's block-list upload (UploadStreamToBlockBlob),
// which already staggers blocks with bounded concurrency and a configurable
// block size, the same two knobs every backend exposes.
type AzureStore struct {
	containerURL azblob.ContainerURL
	policy       MultipartPolicy
}

func NewAzureStore(containerURL azblob.ContainerURL) *AzureStore {
	return &AzureStore{containerURL: containerURL, policy: DefaultMultipartPolicy()}
}

func (a *AzureStore) URIScheme() string { return "azure" }

func (a *AzureStore) blobURL(path string) azblob.BlockBlobURL {
	return a.containerURL.NewBlockBlobURL(path)
}

func (a *AzureStore) Put(ctx context.Context, path string, payload Payload) error {
	r, err := payload.Reader()
	if err != nil {
		return errs.Wrap(errs.Io, a.ctxStr(path, "put"), err)
	}
	defer r.Close()
	_, err = azblob.UploadStreamToBlockBlob(ctx, r, a.blobURL(path), azblob.UploadStreamToBlockBlobOptions{
		BufferSize: int(a.policy.MinPartSize),
		MaxBuffers: a.policy.MaxInflightPart,
	})
	if err != nil {
		return errs.Wrap(a.kindOf(err), a.ctxStr(path, "put"), err)
	}
	return nil
}

func (a *AzureStore) GetSliceStream(ctx context.Context, path string, r ByteRange) (io.ReadCloser, error) {
	count := int64(azblob.CountToEnd)
	if r.End > 0 {
		count = r.End - r.Start
	}
	resp, err := a.blobURL(path).Download(ctx, r.Start, count, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, errs.Wrap(a.kindOf(err), a.ctxStr(path, "get_slice"), err)
	}
	return resp.Body(azblob.RetryReaderOptions{}), nil
}

func (a *AzureStore) GetSlice(ctx context.Context, path string, r ByteRange) ([]byte, error) {
	rc, err := a.GetSliceStream(ctx, path, r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *AzureStore) GetAll(ctx context.Context, path string) ([]byte, error) {
	return a.GetSlice(ctx, path, ByteRange{})
}

func (a *AzureStore) CopyToFile(ctx context.Context, path, localPath string) error {
	return copyToFileViaStream(ctx, a, path, localPath)
}

func (a *AzureStore) Delete(ctx context.Context, path string) error {
	_, err := a.blobURL(path).Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil && a.kindOf(err) != errs.NotFound {
		return errs.Wrap(a.kindOf(err), a.ctxStr(path, "delete"), err)
	}
	return nil
}

func (a *AzureStore) BulkDelete(ctx context.Context, paths []string) (BulkDeleteResult, error) {
	// Azure Blob has no native batch-delete endpoint in azblob's SDK
	// surface used here, so this always takes the bounded-concurrency
	// fallback.
	return boundedBulkDelete(ctx, paths, 16, a.Delete), nil
}

func (a *AzureStore) FileNumBytes(ctx context.Context, path string) (int64, error) {
	props, err := a.blobURL(path).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return 0, errs.Wrap(a.kindOf(err), a.ctxStr(path, "file_num_bytes"), err)
	}
	return props.ContentLength(), nil
}

func (a *AzureStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := a.FileNumBytes(ctx, path)
	if err == nil {
		return true, nil
	}
	if errs.KindOf(err) == errs.NotFound {
		return false, nil
	}
	return false, err
}

func (a *AzureStore) kindOf(err error) errs.Kind {
	if stgErr, ok := err.(azblob.StorageError); ok {
		switch stgErr.ServiceCode() {
		case azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound:
			return errs.NotFound
		case azblob.ServiceCodeInsufficientAccountPermissions, azblob.ServiceCodeAuthenticationFailed:
			return errs.Unauthorized
		}
		return errs.Service
	}
	return errs.Io
}

func (a *AzureStore) ctxStr(path, op string) string {
	u := a.containerURL.URL()
	return fmt.Sprintf("azure://%s/%s %s", (&url.URL{Host: u.Host, Path: u.Path}).String(), path, op)
}
