package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/golang/glog"
	"github.com/strata-io/strata/cmn/errs"
)

// S3Store backs the Storage contract with Amazon S3, applying the
// multipart policy (minimum part size, target part count, bounded
// in-flight parts) via aws-sdk-go's s3manager.Uploader, and retrying
// retryable failures with exponential backoff + jitter.
type S3Store struct {
	svc    *s3.S3
	bucket string
	policy MultipartPolicy
}

func NewS3Store(svc *s3.S3, bucket string) *S3Store {
	return &S3Store{svc: svc, bucket: bucket, policy: DefaultMultipartPolicy()}
}

func (s *S3Store) URIScheme() string { return "s3" }

func (s *S3Store) Put(ctx context.Context, path string, payload Payload) error {
	partSize := s.policy.MinPartSize
	if parts := s.policy.Plan(payload.Len()); len(parts) > 1 {
		partSize = parts[0].End - parts[0].Start
	}
	uploader := s3manager.NewUploaderWithClient(s.svc, func(u *s3manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = s.policy.MaxInflightPart
		u.LeavePartsOnError = false // abort multipart uploads on failure
	})

	bo := newBackoff(200*time.Millisecond, 10*time.Second)
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		r, err := payload.Reader()
		if err != nil {
			return errs.Wrap(errs.Io, s.ctxStr(path, "put"), err)
		}
		_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(path),
			Body:   r,
		})
		r.Close()
		if err == nil {
			return nil
		}
		lastErr = err
		if !s.retryable(err) {
			break
		}
		glog.Warningf("s3 put %s: retryable error %v, backing off", path, err)
		time.Sleep(bo.next())
	}
	return errs.Wrap(s.kindOf(lastErr), s.ctxStr(path, "put"), lastErr)
}

func (s *S3Store) GetSlice(ctx context.Context, path string, r ByteRange) ([]byte, error) {
	rc, err := s.GetSliceStream(ctx, path, r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *S3Store) GetSliceStream(ctx context.Context, path string, r ByteRange) (io.ReadCloser, error) {
	rng := fmt.Sprintf("bytes=%d-", r.Start)
	if r.End > 0 {
		rng = fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
	}
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, errs.Wrap(s.kindOf(err), s.ctxStr(path, "get_slice"), err)
	}
	return out.Body, nil
}

func (s *S3Store) GetAll(ctx context.Context, path string) ([]byte, error) {
	return s.GetSlice(ctx, path, ByteRange{})
}

func (s *S3Store) CopyToFile(ctx context.Context, path, localPath string) error {
	return copyToFileViaStream(ctx, s, path, localPath)
}

func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil && s.kindOf(err) != errs.NotFound {
		return errs.Wrap(s.kindOf(err), s.ctxStr(path, "delete"), err)
	}
	return nil
}

func (s *S3Store) BulkDelete(ctx context.Context, paths []string) (BulkDeleteResult, error) {
	res := BulkDeleteResult{Failures: map[string]error{}}
	const batchSize = 1000 // S3 DeleteObjects caps at 1000 keys per call
	for start := 0; start < len(paths); start += batchSize {
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[start:end]
		objs := make([]*s3.ObjectIdentifier, len(batch))
		for i, p := range batch {
			objs[i] = &s3.ObjectIdentifier{Key: aws.String(p)}
		}
		out, err := s.svc.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objs, Quiet: aws.Bool(false)},
		})
		if err != nil {
			// fall back to individual bounded-concurrency deletes
			fb := boundedBulkDelete(ctx, batch, 16, s.Delete)
			res.Successes = append(res.Successes, fb.Successes...)
			for k, v := range fb.Failures {
				res.Failures[k] = v
			}
			continue
		}
		for _, d := range out.Deleted {
			res.Successes = append(res.Successes, aws.StringValue(d.Key))
		}
		for _, e := range out.Errors {
			res.Failures[aws.StringValue(e.Key)] = fmt.Errorf("%s: %s", aws.StringValue(e.Code), aws.StringValue(e.Message))
		}
	}
	return res, nil
}

func (s *S3Store) FileNumBytes(ctx context.Context, path string) (int64, error) {
	out, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return 0, errs.Wrap(s.kindOf(err), s.ctxStr(path, "file_num_bytes"), err)
	}
	return aws.Int64Value(out.ContentLength), nil
}

func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.FileNumBytes(ctx, path)
	if err == nil {
		return true, nil
	}
	if errs.KindOf(err) == errs.NotFound {
		return false, nil
	}
	return false, err
}

func (s *S3Store) retryable(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case "RequestTimeout", "InternalError", "SlowDown", "ServiceUnavailable":
			return true
		}
	}
	return false
}

func (s *S3Store) kindOf(err error) errs.Kind {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return errs.NotFound
		case "AccessDenied", "Forbidden":
			return errs.Unauthorized
		}
		return errs.Service
	}
	return errs.Io
}

func (s *S3Store) ctxStr(path, op string) string {
	return fmt.Sprintf("s3://%s/%s %s", s.bucket, path, op)
}

// copyToFileViaStream is shared by remote backends (S3/Azure/GCS/HDFS) whose
// SDKs don't expose a direct "download to local path" call; it streams the
// whole object through GetSliceStream into a local file.
func copyToFileViaStream(ctx context.Context, s Storage, path, localPath string) error {
	rc, err := s.GetSliceStream(ctx, path, ByteRange{})
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return errs.Wrap(errs.Io, path+" copy_to_file", err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return errs.Wrap(errs.Io, path+" copy_to_file", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return errs.Wrap(errs.Io, path+" copy_to_file", err)
	}
	return nil
}
