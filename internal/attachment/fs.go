package attachment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSBlob stores objects as files under a root directory; the key is the
// relative path.
type FSBlob struct {
	root string
}

// NewFSBlob creates a file-backed Blob rooted at the given directory.
func NewFSBlob(root string) *FSBlob {
	return &FSBlob{root: root}
}

func (b *FSBlob) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filepath.Join(b.root, clean), nil
}

// Put writes the object atomically via a temp file and rename.
func (b *FSBlob) Put(_ context.Context, key string, r io.Reader, _ string) error {
	target, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp blob: %w", err)
	}
	return nil
}

// List matches keys by prefix within the prefix's directory.
func (b *FSBlob) List(_ context.Context, prefix string) ([]string, error) {
	dir, base := "", prefix
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir, base = prefix[:i], prefix[i+1:]
	}
	dirPath := b.root
	if dir != "" {
		p, err := b.path(dir)
		if err != nil {
			return nil, err
		}
		dirPath = p
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".upload-") || !strings.HasPrefix(name, base) {
			continue
		}
		if dir == "" {
			keys = append(keys, name)
		} else {
			keys = append(keys, dir+"/"+name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Open returns the file, limited to maxBytes when positive.
func (b *FSBlob) Open(_ context.Context, key string, maxBytes int64) (io.ReadCloser, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	if maxBytes <= 0 {
		return f, nil
	}
	return limitedReadCloser{Reader: io.LimitReader(f, maxBytes), Closer: f}, nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}
