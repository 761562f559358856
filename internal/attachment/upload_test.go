package attachment

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/chatrelay/internal/types"
)

func TestUploadAndOpen(t *testing.T) {
	blob := NewFSBlob(t.TempDir())
	u := NewUploader(blob)
	ctx := context.Background()

	file, err := u.Upload(ctx, "my notes (v2).MD", 5, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "my_notes__v2_.MD", file.Name)
	assert.Equal(t, int64(5), file.Size)
	assert.Equal(t, "uploads/"+string(file.FileID)+"-my_notes__v2_.MD", file.Key)
	assert.True(t, ValidFileID(file.FileID))

	stored, rc, err := u.Open(ctx, file.FileID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, file.Name, stored.Name)

	text, ok, err := NewResolver(blob).Resolve(ctx, file.FileID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", text)
}

func TestUploadValidation(t *testing.T) {
	u := NewUploader(NewFSBlob(t.TempDir()))
	ctx := context.Background()

	tests := []struct {
		name     string
		fileName string
		size     int64
		body     []byte
	}{
		{"missing name", "", 1, []byte("x")},
		{"bad extension", "script.sh", 1, []byte("x")},
		{"no extension", "README", 1, []byte("x")},
		{"declared too large", "a.txt", MaxUploadBytes + 1, []byte("x")},
		{"actual too large", "a.json", -1, bytes.Repeat([]byte("x"), MaxUploadBytes+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.Upload(ctx, tt.fileName, tt.size, bytes.NewReader(tt.body))
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestUploadExactLimit(t *testing.T) {
	u := NewUploader(NewFSBlob(t.TempDir()))
	file, err := u.Upload(context.Background(), "data.json", MaxUploadBytes, bytes.NewReader(bytes.Repeat([]byte("x"), MaxUploadBytes)))
	require.NoError(t, err)
	assert.Equal(t, int64(MaxUploadBytes), file.Size)
}

func TestOpenUnknown(t *testing.T) {
	u := NewUploader(NewFSBlob(t.TempDir()))
	ctx := context.Background()

	_, _, err := u.Open(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, _, err = u.Open(ctx, "../x")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "a_b_c.txt", SanitizeName("a b/c.txt"))
	assert.Equal(t, "ok-name_1.md", SanitizeName("ok-name_1.md"))
	assert.Equal(t, "text/markdown; charset=utf-8", ContentType("x.MD"))
	assert.Equal(t, "application/octet-stream", ContentType("x.bin"))
}
