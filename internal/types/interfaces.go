package types

import (
	"context"
)

// SessionStore is the per-session actor surface. Implementations serialize
// all operations for one SessionID.
type SessionStore interface {
	EnsureInitialized(ctx context.Context, id SessionID) error
	AppendMessage(ctx context.Context, id SessionID, role Role, content string, timestamp int64) (*Message, error)
	RecentMessages(ctx context.Context, id SessionID, limit int) ([]Message, error)
	SetSummary(ctx context.Context, id SessionID, summary string) error
	Summary(ctx context.Context, id SessionID) (string, bool, error)
	Export(ctx context.Context, id SessionID) (*SessionExport, error)
}

// AttachmentResolver returns decoded, size-capped text for an uploaded file.
// A missing file is reported with found == false and a nil error.
type AttachmentResolver interface {
	Resolve(ctx context.Context, id FileID) (text string, found bool, err error)
}
