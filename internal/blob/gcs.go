package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket
type GCS struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// NewGCS creates a GCS backend. credentialsFile may be empty to use application default
// credentials; baseURL defaults to https://storage.googleapis.com/<bucket>.
func NewGCS(ctx context.Context, bucket, credentialsFile, baseURL string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCS{client: client, bucket: bucket, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Put uploads body, refusing to overwrite an existing object
func (g *GCS) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	w := g.client.Bucket(g.bucket).Object(key).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object %s: %w", key, err)
	}
	return nil
}

func (g *GCS) PublicURL(key string) string {
	return g.baseURL + "/" + key
}

// Close releases the storage client
func (g *GCS) Close() error {
	return g.client.Close()
}
