package model

import (
	"time"
)

type SessionState string

const (
	SessionStateNew       SessionState = "new"
	SessionStateActive    SessionState = "active"
	SessionStateEscalated SessionState = "escalated"
	SessionStateExpired   SessionState = "expired"
)

// Validate checks if the session state is valid
func (s SessionState) Validate() error {
	switch s {
	case SessionStateNew, SessionStateActive, SessionStateEscalated, SessionStateExpired:
		return nil
	default:
		return ErrInvalidSessionState
	}
}

type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystemNote Role = "system-note"
)

// Turn is one message exchange unit within a session. Turns are append
// only; the oldest ones may be evicted by the sliding-window policy.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
	Citations []Citation
}

// Session holds per-user conversation state. One active session per user.
// Generation increments on every reset so that in-flight synthesis results
// for a stale generation are discarded instead of applied.
type Session struct {
	UserID             string
	State              SessionState
	Turns              []Turn
	TurnCount          int
	Generation         int64
	CreatedAt          time.Time
	LastActivityAt     time.Time
	EscalationTicketID TicketID
}

// UserTurns returns the number of user-role turns currently retained.
func (s *Session) UserTurns() int {
	n := 0
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// LastUserText returns the most recent user turn text, or "".
func (s *Session) LastUserText() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleUser {
			return s.Turns[i].Text
		}
	}
	return ""
}
