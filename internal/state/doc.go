// Package state provides the SQLite-backed session log and the per-session
// actor lanes that serialize access to it.
package state

import "github.com/user/chatrelay/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*Actors)(nil)
