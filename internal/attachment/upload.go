package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/user/chatrelay/internal/types"
)

// MaxUploadBytes is the largest accepted upload.
const MaxUploadBytes = 1 << 20

var contentTypes = map[string]string{
	".txt":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".json": "application/json",
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeName replaces every character outside [A-Za-z0-9._-] with '_'.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// Uploader validates and stores text uploads under uploads/{fileId}-{name}.
type Uploader struct {
	blob  Blob
	newID func() types.FileID
}

// NewUploader creates an Uploader over blob.
func NewUploader(blob Blob) *Uploader {
	return &Uploader{blob: blob, newID: types.NewFileID}
}

// Upload stores r as a new file. size is the declared length, or -1 if
// unknown; the actual content is checked against the limit either way.
func (u *Uploader) Upload(ctx context.Context, name string, size int64, r io.Reader) (*types.StoredFile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: file name is required", types.ErrValidation)
	}
	ext := strings.ToLower(path.Ext(name))
	contentType, ok := contentTypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: only .txt, .md and .json files are accepted", types.ErrValidation)
	}
	if size > MaxUploadBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", types.ErrValidation, MaxUploadBytes)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", types.ErrValidation, MaxUploadBytes)
	}

	file := &types.StoredFile{
		FileID: u.newID(),
		Name:   SanitizeName(name),
		Size:   int64(len(data)),
	}
	file.Key = keyPrefix(file.FileID) + file.Name
	if err := u.blob.Put(ctx, file.Key, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	return file, nil
}

// Open returns the stored object for id. The caller closes the reader.
// Unknown or malformed IDs return types.ErrNotFound.
func (u *Uploader) Open(ctx context.Context, id types.FileID) (*types.StoredFile, io.ReadCloser, error) {
	if !ValidFileID(id) {
		return nil, nil, fmt.Errorf("%w: file %s", types.ErrNotFound, id)
	}
	prefix := keyPrefix(id)
	keys, err := u.blob.List(ctx, prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup file: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil, fmt.Errorf("%w: file %s", types.ErrNotFound, id)
	}
	rc, err := u.blob.Open(ctx, keys[0], 0)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, nil, fmt.Errorf("%w: file %s", types.ErrNotFound, id)
		}
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	file := &types.StoredFile{
		FileID: id,
		Name:   strings.TrimPrefix(keys[0], prefix),
		Key:    keys[0],
		Size:   -1,
	}
	return file, rc, nil
}

// ContentType returns the MIME type for a stored file name.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
