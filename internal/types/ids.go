package types

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// SessionID is the caller-supplied conversation identity.
type SessionID string
type FileID string
type RequestID string

func NewFileID() FileID {
	return FileID(uuid.New().String())
}

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

// ParseSessionID trims surrounding whitespace from a raw identity.
func ParseSessionID(raw string) SessionID {
	return SessionID(strings.TrimSpace(raw))
}

type requestIDKey struct{}

// WithRequestID attaches a request ID to ctx for log correlation.
func WithRequestID(ctx context.Context, id RequestID) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID carried by ctx, or "".
func RequestIDFrom(ctx context.Context) RequestID {
	id, _ := ctx.Value(requestIDKey{}).(RequestID)
	return id
}
