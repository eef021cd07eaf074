package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by GetFile for a missing key.
var ErrNotFound = errors.New("object not found")

// Storage is a flat key/object store for batch reports.
type Storage interface {
	UploadFile(ctx context.Context, key string, content io.Reader, contentType string) (*UploadResult, error)
	GetFile(ctx context.Context, key string) (io.ReadCloser, string, error)
	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
	DeleteFile(ctx context.Context, key string) error
}

type UploadResult struct {
	Key string
	URL string
}
