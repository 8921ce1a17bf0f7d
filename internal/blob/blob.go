// Package blob stores product images and returns their public URLs
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"shop-catalog/internal/domain"

	"go.uber.org/zap"
)

// DefaultMaxBytes is the upload size limit
const DefaultMaxBytes = 5 << 20

// Backend writes objects to a bucket
type Backend interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	PublicURL(key string) string
}

// Image is an uploaded file as received from the client
type Image struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Uploader validates images and hands them to a Backend
type Uploader struct {
	backend  Backend
	maxBytes int64
	now      func() time.Time
	logger   *zap.Logger
}

// NewUploader creates an Uploader. A non-positive maxBytes uses DefaultMaxBytes.
func NewUploader(backend Backend, maxBytes int64, logger *zap.Logger) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Uploader{backend: backend, maxBytes: maxBytes, now: time.Now, logger: logger}
}

// UploadImage stores img under objectPath and returns its public URL. An empty objectPath
// becomes products/<unix millis>_<filename>. Only image/* content up to the size limit is accepted;
// the declared type must agree with the sniffed content.
func (u *Uploader) UploadImage(ctx context.Context, img Image, objectPath string) (string, error) {
	if img.Size > u.maxBytes {
		return "", domain.Invalid("file", fmt.Sprintf("file exceeds %d bytes", u.maxBytes))
	}
	if !strings.HasPrefix(img.ContentType, "image/") {
		return "", domain.Invalid("file", "only image files are allowed")
	}

	// Read one byte past the limit to detect bodies larger than the declared size
	data, err := io.ReadAll(io.LimitReader(img.Body, u.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > u.maxBytes {
		return "", domain.Invalid("file", fmt.Sprintf("file exceeds %d bytes", u.maxBytes))
	}
	if len(data) == 0 {
		return "", domain.Invalid("file", "file is empty")
	}
	if sniffed := http.DetectContentType(data); !strings.HasPrefix(sniffed, "image/") {
		return "", domain.Invalid("file", "content is not an image")
	}

	key, err := u.objectKey(img.Filename, objectPath)
	if err != nil {
		return "", err
	}

	if err := u.backend.Put(ctx, key, img.ContentType, bytes.NewReader(data)); err != nil {
		u.logger.Error("Failed to upload image", zap.String("key", key), zap.Error(err))
		return "", domain.WrapStore("upload image", err)
	}

	url := u.backend.PublicURL(key)
	u.logger.Info("Image uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return url, nil
}

func (u *Uploader) objectKey(filename, objectPath string) (string, error) {
	if objectPath == "" {
		name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
		if name == "." || name == "/" || name == "" {
			name = "image"
		}
		return fmt.Sprintf("products/%d_%s", u.now().UnixMilli(), name), nil
	}

	clean := path.Clean(strings.TrimPrefix(objectPath, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", domain.Invalid("path", "invalid object path")
	}
	return clean, nil
}
