package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"github.com/user/chatrelay/internal/types"
)

// MaxAttachmentBytes caps how much of a stored file is injected into a prompt.
const MaxAttachmentBytes = 100_000

const uploadsPrefix = "uploads/"

var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidFileID reports whether id is safe to use in a key prefix lookup.
func ValidFileID(id types.FileID) bool {
	return fileIDPattern.MatchString(string(id))
}

func keyPrefix(id types.FileID) string {
	return uploadsPrefix + string(id) + "-"
}

// Resolver turns a file ID into decoded, size-capped text.
type Resolver struct {
	blob     Blob
	maxBytes int
}

var _ types.AttachmentResolver = (*Resolver)(nil)

// NewResolver creates a Resolver that reads at most MaxAttachmentBytes.
func NewResolver(blob Blob) *Resolver {
	return &Resolver{blob: blob, maxBytes: MaxAttachmentBytes}
}

// Resolve returns the file's text. found is false when no object matches the
// ID; a lookup miss is not an error. Truncation is silent.
func (r *Resolver) Resolve(ctx context.Context, id types.FileID) (string, bool, error) {
	if !ValidFileID(id) {
		return "", false, nil
	}
	keys, err := r.blob.List(ctx, keyPrefix(id))
	if err != nil {
		return "", false, fmt.Errorf("lookup attachment: %w", err)
	}
	if len(keys) == 0 {
		return "", false, nil
	}

	rc, err := r.blob.Open(ctx, keys[0], int64(r.maxBytes))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("open attachment: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(io.LimitReader(rc, int64(r.maxBytes)))
	if err != nil {
		return "", false, fmt.Errorf("read attachment: %w", err)
	}
	return decodeCapped(raw, r.maxBytes), true, nil
}

// decodeCapped decodes raw as UTF-8, replacing malformed sequences with
// U+FFFD, and cuts the result on a rune boundary so it fits in limit bytes.
func decodeCapped(raw []byte, limit int) string {
	if len(raw) >= limit {
		raw = trimPartialRune(raw)
	}
	decoded, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		decoded = []byte(string([]rune(string(raw))))
	}
	return truncate(string(decoded), limit)
}

// trimPartialRune drops a multi-byte sequence cut off at the end of raw.
func trimPartialRune(raw []byte) []byte {
	for i := len(raw) - 1; i >= 0 && i >= len(raw)-utf8.UTFMax; i-- {
		if utf8.RuneStart(raw[i]) {
			if !utf8.FullRune(raw[i:]) {
				return raw[:i]
			}
			return raw
		}
	}
	return raw
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
