package model

import "time"

type SessionEventType string

const (
	SessionIndexed  SessionEventType = "session.indexed"
	SessionDeleted  SessionEventType = "session.deleted"
	SessionsCleared SessionEventType = "sessions.cleared"
)

// SessionEvent is published after a session's index changes.
type SessionEvent struct {
	Type       SessionEventType `json:"type"`
	SessionID  string           `json:"session_id,omitempty"`
	Filename   string           `json:"filename,omitempty"`
	ChunkCount int              `json:"chunk_count,omitempty"`
	Cleared    int              `json:"cleared,omitempty"`
	At         time.Time        `json:"at"`
}
