// Package history stores per-user conversation turns in Redis with a
// time-based expiry. Two concurrent chats for the same user are
// last-writer-wins; freshness is preferred over coordination here.
package history

import "context"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role/content entry in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store reads and appends conversation history for a user.
type Store interface {
	// Recent returns up to limit most recent turns for the user, oldest
	// first. A user with no history yields an empty slice, not an error.
	Recent(ctx context.Context, userID string, limit int) ([]Turn, error)

	// Append adds turns to the user's history and refreshes its expiry.
	Append(ctx context.Context, userID string, turns ...Turn) error
}
