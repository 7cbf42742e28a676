package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-kurata/kotae/pkg/model"
)

// Memory is an in-process Repository for tests and ephemeral runs
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	tickets  []*model.EscalationTicket
	seq      map[string]int64
}

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*model.Session),
		seq:      make(map[string]int64),
	}
}

func (m *Memory) GetSession(ctx context.Context, userID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	return copySession(session), nil
}

func (m *Memory) PutSession(ctx context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.UserID] = copySession(session)
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, userID)
	return nil
}

func (m *Memory) PutTicket(ctx context.Context, ticket *model.EscalationTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := *ticket
	m.tickets = append(m.tickets, &t)
	return nil
}

func (m *Memory) ListTickets(ctx context.Context, limit int) ([]*model.EscalationTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tickets := make([]*model.EscalationTicket, len(m.tickets))
	for i, t := range m.tickets {
		tt := *t
		tickets[i] = &tt
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})

	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

func (m *Memory) NextTicketSeq(ctx context.Context, day string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq[day]++
	return m.seq[day], nil
}

func (m *Memory) Close() error {
	return nil
}

// copySession clones a session so callers never share turn slices with the
// stored value.
func copySession(s *model.Session) *model.Session {
	c := *s
	c.Turns = make([]model.Turn, len(s.Turns))
	copy(c.Turns, s.Turns)
	return &c
}
