// Package blob stores uploaded appointment images behind an opaque key.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned for unknown keys.
var ErrNotFound = errors.New("blob: not found")

// Info describes a stored object.
type Info struct {
	Key         string
	ContentType string
	Size        int64
}

// Store persists opaque blobs. Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (Info, error)
	Open(ctx context.Context, key string) (io.ReadCloser, Info, error)
	Delete(ctx context.Context, key string) error
}
