package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/user/chatrelay/internal/types"
)

const (
	metaCreatedAt = "createdAt"
	metaUpdatedAt = "updatedAt"
	metaSummary   = "summary"
)

// SessionStore is a SQLite-backed message log plus a small key/value
// metadata table, both partitioned by session ID. Every method runs in its
// own transaction, so a single operation is atomic, but the store does no
// locking of its own: callers that need single-writer semantics go through
// Actors.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionStore creates a SessionStore over an opened database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// SetClock replaces the clock used for createdAt and summary updates.
func (s *SessionStore) SetClock(now func() time.Time) {
	s.now = now
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrStorageUnavailable, op, err)
}

func (s *SessionStore) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// EnsureInitialized seeds createdAt and updatedAt the first time a session is
// seen. Later calls are no-ops.
func (s *SessionStore) EnsureInitialized(ctx context.Context, id types.SessionID) error {
	return s.withTx(ctx, "ensure initialized", func(tx *sql.Tx) error {
		_, ok, err := getMeta(ctx, tx, id, metaCreatedAt)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		now := s.now().UnixMilli()
		if err := putMeta(ctx, tx, id, metaCreatedAt, strconv.FormatInt(now, 10)); err != nil {
			return err
		}
		return touch(ctx, tx, id, now)
	})
}

// AppendMessage adds a message at the end of the log with the next sequence
// number and advances updatedAt to timestamp.
func (s *SessionStore) AppendMessage(ctx context.Context, id types.SessionID, role types.Role, content string, timestamp int64) (*types.Message, error) {
	msg := &types.Message{Role: role, Content: content, Timestamp: timestamp}
	err := s.withTx(ctx, "append message", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, string(id))
		if err := row.Scan(&msg.Seq); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
			string(id), msg.Seq, string(role), content, timestamp,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return touch(ctx, tx, id, timestamp)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RecentMessages returns up to limit of the newest messages by (timestamp,
// seq), oldest first.
func (s *SessionStore) RecentMessages(ctx context.Context, id types.SessionID, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return []types.Message{}, nil
	}
	var messages []types.Message
	err := s.withTx(ctx, "recent messages", func(tx *sql.Tx) error {
		var err error
		messages, err = queryMessages(ctx, tx,
			`SELECT role, content, timestamp, seq FROM messages
			 WHERE session_id = ?
			 ORDER BY timestamp DESC, seq DESC
			 LIMIT ?`,
			string(id), limit,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// SetSummary replaces the stored summary.
func (s *SessionStore) SetSummary(ctx context.Context, id types.SessionID, summary string) error {
	return s.withTx(ctx, "set summary", func(tx *sql.Tx) error {
		if err := putMeta(ctx, tx, id, metaSummary, summary); err != nil {
			return err
		}
		return touch(ctx, tx, id, s.now().UnixMilli())
	})
}

// Summary returns the stored summary; ok is false if none was ever set.
func (s *SessionStore) Summary(ctx context.Context, id types.SessionID) (string, bool, error) {
	var (
		summary string
		ok      bool
	)
	err := s.withTx(ctx, "get summary", func(tx *sql.Tx) error {
		var err error
		summary, ok, err = getMeta(ctx, tx, id, metaSummary)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return summary, ok, nil
}

// Export returns the session metadata and the complete log, oldest first.
func (s *SessionStore) Export(ctx context.Context, id types.SessionID) (*types.SessionExport, error) {
	export := &types.SessionExport{SessionID: id}
	err := s.withTx(ctx, "export session", func(tx *sql.Tx) error {
		var err error
		if export.CreatedAt, err = getMetaInt(ctx, tx, id, metaCreatedAt); err != nil {
			return err
		}
		if export.UpdatedAt, err = getMetaInt(ctx, tx, id, metaUpdatedAt); err != nil {
			return err
		}
		summary, ok, err := getMeta(ctx, tx, id, metaSummary)
		if err != nil {
			return err
		}
		if ok {
			export.Summary = &summary
		}
		export.Messages, err = queryMessages(ctx, tx,
			`SELECT role, content, timestamp, seq FROM messages
			 WHERE session_id = ?
			 ORDER BY timestamp ASC, seq ASC`,
			string(id),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return export, nil
}

// ListSessions returns every initialized session, most recently updated first.
func (s *SessionStore) ListSessions(ctx context.Context) ([]types.SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id,
		       CAST(MAX(CASE WHEN m.key = 'createdAt' THEN m.value END) AS INTEGER),
		       CAST(MAX(CASE WHEN m.key = 'updatedAt' THEN m.value END) AS INTEGER),
		       (SELECT COUNT(*) FROM messages WHERE messages.session_id = m.session_id)
		FROM session_meta m
		GROUP BY m.session_id
		ORDER BY 3 DESC`)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	defer rows.Close()

	var sessions []types.SessionInfo
	for rows.Next() {
		var (
			info             types.SessionInfo
			id               string
			created, updated sql.NullInt64
		)
		if err := rows.Scan(&id, &created, &updated, &info.MessageCount); err != nil {
			return nil, storageErr("list sessions", err)
		}
		info.SessionID = types.SessionID(id)
		info.CreatedAt = created.Int64
		info.UpdatedAt = updated.Int64
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list sessions", err)
	}
	return sessions, nil
}

func queryMessages(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]types.Message, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []types.Message{}
	for rows.Next() {
		var (
			msg  types.Message
			role string
		)
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp, &msg.Seq); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = types.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func getMeta(ctx context.Context, tx *sql.Tx, id types.SessionID, key string) (string, bool, error) {
	var value sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT value FROM session_meta WHERE session_id = ? AND key = ?`,
		string(id), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return value.String, value.Valid, nil
}

func getMetaInt(ctx context.Context, tx *sql.Tx, id types.SessionID, key string) (int64, error) {
	raw, ok, err := getMeta(ctx, tx, id, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func putMeta(ctx context.Context, tx *sql.Tx, id types.SessionID, key, value string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_meta (session_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value`,
		string(id), key, value,
	); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// touch advances updatedAt to at. updatedAt never moves backwards.
func touch(ctx context.Context, tx *sql.Tx, id types.SessionID, at int64) error {
	current, err := getMetaInt(ctx, tx, id, metaUpdatedAt)
	if err != nil {
		return err
	}
	if current >= at {
		return nil
	}
	return putMeta(ctx, tx, id, metaUpdatedAt, strconv.FormatInt(at, 10))
}
