package repository

import (
	"context"

	"github.com/m-kurata/kotae/pkg/model"
)

// Repository defines the persistence contract for conversation sessions and
// escalation tickets. The engine only assumes load/save semantics; the
// backing store is swappable.
type Repository interface {
	// GetSession retrieves the session for a user. Returns (nil, nil) when
	// the user has no session yet: an unseen user is not an error.
	GetSession(ctx context.Context, userID string) (*model.Session, error)

	// PutSession saves a session, overwriting any previous state
	PutSession(ctx context.Context, session *model.Session) error

	// DeleteSession removes a user's session. Deleting a missing session
	// is a no-op.
	DeleteSession(ctx context.Context, userID string) error

	// PutTicket records an escalation ticket
	PutTicket(ctx context.Context, ticket *model.EscalationTicket) error

	// ListTickets retrieves recorded tickets, newest first
	ListTickets(ctx context.Context, limit int) ([]*model.EscalationTicket, error)

	// NextTicketSeq issues the next ticket sequence number for the given
	// day key (yyyyMMdd). Sequences start at 1 and are monotonic per day.
	NextTicketSeq(ctx context.Context, day string) (int64, error)

	// Close releases the underlying store
	Close() error
}
