package model

import (
	"fmt"
	"time"
)

type TicketID string

// NewTicketID builds a deterministic ticket ID in the form
// ESC-<yyyyMMdd>-<sequence>. The sequence is issued by the repository
// per calendar day.
func NewTicketID(at time.Time, seq int64) TicketID {
	return TicketID(fmt.Sprintf("ESC-%s-%04d", at.Format("20060102"), seq))
}

// EscalationTicket marks a conversation handed off for human handling.
// Terminal once created: no further automated replies until session reset.
type EscalationTicket struct {
	ID        TicketID
	UserID    string
	CreatedAt time.Time
	Reason    string
}
