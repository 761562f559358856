package types

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one immutable entry of a session's log. Seq is assigned by the
// store at append time and breaks ties between equal timestamps.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Seq       int64  `json:"seq"`
}

// SessionExport is the full dump of one session.
type SessionExport struct {
	SessionID SessionID `json:"sessionId"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	Summary   *string   `json:"summary"`
	Messages  []Message `json:"messages"`
}

type SessionInfo struct {
	SessionID    SessionID `json:"sessionId"`
	CreatedAt    int64     `json:"createdAt"`
	UpdatedAt    int64     `json:"updatedAt"`
	MessageCount int64     `json:"messageCount"`
}

// StoredFile describes an uploaded attachment.
type StoredFile struct {
	FileID FileID `json:"fileId"`
	Name   string `json:"name"`
	Key    string `json:"-"`
	Size   int64  `json:"size"`
}
