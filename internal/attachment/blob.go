// Package attachment stores uploaded text files and resolves them into
// size-capped prompt context.
package attachment

import (
	"context"
	"errors"
	"io"
)

// ErrBlobNotFound is returned by Blob.Open for a missing key.
var ErrBlobNotFound = errors.New("blob not found")

// Blob is the object storage used for uploads. Keys are slash-separated.
type Blob interface {
	// Put stores the contents of r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// List returns the keys that start with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Open returns a reader over the object. When maxBytes > 0 the reader
	// yields at most maxBytes bytes.
	Open(ctx context.Context, key string, maxBytes int64) (io.ReadCloser, error)
}
