// FILE: internal/objectstore/objectstore.go
// Package objectstore – chart/analysis artifact uploader (external
// collaborator, §6).
//
// Out of scope per spec.md §1 ("artifact upload ... treated as a black
// box"); this file defines the Uploader interface internal/orchestrator uses
// to publish each opened position's chart (the returned URL is stored on the
// position via store.Store.SetArtifactURL), plus an S3-backed implementation
// in the same spirit as internal/barfeed's retryablehttp skeleton — real
// enough to wire, not a fleshed-out part of the core.
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader persists a rendered artifact and returns a URL a dashboard
// client can load directly.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (url string, err error)
}

// S3Uploader uploads to a single bucket/prefix via the AWS SDK's managed
// multipart uploader, which transparently handles large chart renders
// without the caller chunking anything itself.
type S3Uploader struct {
	client *s3.Client
	upload *manager.Uploader
	bucket string
	prefix string
}

// NewS3Uploader loads the default AWS credential chain (env vars, shared
// config, or an attached role) and targets bucket/prefix for every upload.
func NewS3Uploader(ctx context.Context, bucket, prefix string) (*S3Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{
		client: client,
		upload: manager.NewUploader(client),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Upload streams localPath's contents to bucket/prefix/<basename> and
// returns the object's virtual-hosted-style URL.
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("objectstore: open %s: %w", localPath, err)
	}
	defer f.Close()

	key := filepath.Join(u.prefix, filepath.Base(localPath))
	_, err = u.upload.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("objectstore: upload %s: %w", key, err)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", u.bucket, key), nil
}

// NoopUploader satisfies Uploader without a configured bucket — every call
// fails, so charts stay on local disk and no artifact URL is recorded. Used
// when no object-store bucket is configured.
type NoopUploader struct{}

func (NoopUploader) Upload(_ context.Context, localPath string) (string, error) {
	return "", fmt.Errorf("objectstore: no uploader configured, artifact stays local: %s", localPath)
}

var _ Uploader = (*S3Uploader)(nil)
var _ Uploader = NoopUploader{}
