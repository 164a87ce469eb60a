// Package storage abstracts where attachment blobs live. The production
// implementation pushes them to Cloudinary; tests substitute an in-memory store.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// FileStore saves attachment blobs and opens them back up for download
type FileStore interface {
	Save(ctx context.Context, key string, r io.Reader) (string, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}

// CloudinaryStore stores attachment blobs as raw Cloudinary assets
type CloudinaryStore struct {
	cld *cloudinary.Cloudinary
}

// NewCloudinaryStore builds a store from a cloudinary:// URL
func NewCloudinaryStore(cloudinaryURL string) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("cloudinary init: %w", err)
	}
	return &CloudinaryStore{cld: cld}, nil
}

// Save uploads the blob under the given key and returns its delivery URL,
// which is persisted as the attachment's storage key.
func (s *CloudinaryStore) Save(ctx context.Context, key string, r io.Reader) (string, error) {
	resp, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		PublicID:     key,
		ResourceType: "raw",
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload: %w", err)
	}
	return resp.SecureURL, nil
}

// Open streams a previously saved blob back from its delivery URL
func (s *CloudinaryStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, storageKey, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("cloudinary fetch: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
