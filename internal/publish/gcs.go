// Package publish pushes derived status snapshots to public object
// storage when a sync completes.
package publish

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader writes a serialized snapshot to its public location.
type Uploader interface {
	Upload(ctx context.Context, objectPath string, body []byte) error
}

// GCSUploader publishes objects to a Google Cloud Storage bucket.
type GCSUploader struct {
	client      *storage.Client
	bucket      string
	maxAgeSecs  int
	contentType string
}

// NewGCSUploader constructs a GCSUploader. credentialsFile may be empty,
// in which case ambient application-default credentials apply.
func NewGCSUploader(ctx context.Context, bucket string, maxAgeSecs int, credentialsFile string) (*GCSUploader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	return &GCSUploader{
		client:      client,
		bucket:      bucket,
		maxAgeSecs:  maxAgeSecs,
		contentType: "application/json",
	}, nil
}

// Upload writes the body to the object, replacing any previous version.
// The cache-control header bounds how stale public readers can get.
func (u *GCSUploader) Upload(ctx context.Context, objectPath string, body []byte) error {
	obj := u.client.Bucket(u.bucket).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = u.contentType
	writer.CacheControl = fmt.Sprintf("public, max-age=%d", u.maxAgeSecs)

	if _, err := writer.Write(body); err != nil {
		writer.Close()
		return fmt.Errorf("writing gs://%s/%s: %w", u.bucket, objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing gs://%s/%s: %w", u.bucket, objectPath, err)
	}
	return nil
}

// Close releases the underlying client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
