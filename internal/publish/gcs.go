package publish

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsPublicHost = "https://storage.googleapis.com"

// GCS uploads artifacts to a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCS sink. An empty credentialsFile uses application
// default credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Put uploads localPath as name and returns its public URL.
func (g *GCS) Put(ctx context.Context, name, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = videoContentType
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, g.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for %s: %w", name, err)
	}
	return objectURL(g.bucket, name), nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func objectURL(bucket, name string) string {
	return fmt.Sprintf("%s/%s/%s", gcsPublicHost, bucket, name)
}
