// Package storage provides ragctl's blob store adapter (C1): content-
// addressed persistence of original uploads and generated artifacts
// (test-set CSVs) against an S3-compatible backend.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client abstracts the subset of the AWS SDK's S3 client Store needs, the
// same dependency-injection seam the platform uses for its other cloud
// storage backends (swap in a fake for tests, point the real client at
// AWS/MinIO/any S3-compatible endpoint in production). It also satisfies
// manager.UploadAPIClient so S3Store can hand it straight to a
// manager.Uploader for multipart upload.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Store is the blob store contract used by the ingestion and evaluation
// pipelines. Paths are caller-chosen (content-addressed by the caller,
// e.g. "{kb_id}/{uuid}_{filename}" or "testsets/{id}.csv").
type Store interface {
	Put(ctx context.Context, path string, body io.Reader, size int64) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// S3Store implements Store against an S3-compatible bucket.
type S3Store struct {
	client   S3Client
	uploader *manager.Uploader
	bucket   string
}

func NewS3Store(client S3Client, bucket string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}
}

// Put uses the SDK's multipart uploader so documents larger than S3's
// single-PutObject limit (and the common upload chunk size) stream up in
// parts instead of needing to be buffered whole.
func (s *S3Store) Put(ctx context.Context, path string, body io.Reader, size int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &path,
		Body:          body,
		ContentLength: &size,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", path, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &path})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", path, err)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &path})
	if err != nil {
		return fmt.Errorf("failed to delete object %q: %w", path, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &path})
	if err != nil {
		return false, nil
	}
	return true, nil
}
