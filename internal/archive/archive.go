// Package archive stores snapshots of fetched provider data in GCS so a
// scan can be replayed or audited later. Archiving is best effort: the
// reconciliation pass logs and continues when a snapshot cannot be written.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
)

// Archiver persists one fetch snapshot and returns its location.
type Archiver interface {
	Store(ctx context.Context, userEmail string, fetchedAt time.Time, payload []byte) (string, error)
}

// GCSArchiver writes snapshots under raw-scans/<user>/<timestamp>.json in a
// single bucket. It assumes Application Default Credentials are configured.
type GCSArchiver struct {
	bucket string
}

// NewGCS creates an archiver writing to the given bucket.
func NewGCS(bucket string) *GCSArchiver {
	return &GCSArchiver{bucket: bucket}
}

// Store implements Archiver.
func (a *GCSArchiver) Store(ctx context.Context, userEmail string, fetchedAt time.Time, payload []byte) (string, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("archive: create storage client: %w", err)
	}
	defer client.Close()

	objectName := fmt.Sprintf("raw-scans/%s/%s.json", userEmail, fetchedAt.UTC().Format("20060102T150405Z"))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: write snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: finalize snapshot: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}

var _ Archiver = (*GCSArchiver)(nil)
