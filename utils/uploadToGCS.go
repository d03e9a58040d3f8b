package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC; set GCS_CREDENTIALS_JSON to pass explicit credentials (e.g. locally).
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// GCSArchiver stores finalized document snapshots and signature images in one bucket.
type GCSArchiver struct {
	bucket string
	prefix string
}

// NewGCSArchiverFromEnv returns nil when GCS_BUCKET is not set; archiving is then skipped.
func NewGCSArchiverFromEnv() *GCSArchiver {
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		return nil
	}
	return &GCSArchiver{
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(os.Getenv("GCS_ARCHIVE_PREFIX")), "/"),
	}
}

func (a *GCSArchiver) objectName(name string) string {
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

// Put uploads data and returns the object's gs:// URL.
func (a *GCSArchiver) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if a == nil || a.bucket == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	objectName := a.objectName(name)
	wc := client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload bytes to Google Cloud Storage: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %v", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}
