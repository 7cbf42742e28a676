package chat

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/repository"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const lockShards = 64

// Manager owns per-user session state. Every read-then-write of a session
// runs inside one exclusive critical section per user key, sharded so that
// unrelated users never block each other.
type Manager struct {
	repo  repository.Repository
	locks [lockShards]sync.Mutex

	sessionTimeout time.Duration
	maxTurns       int

	now func() time.Time
}

type ManagerOption func(*Manager)

func WithSessionTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.sessionTimeout = d
	}
}

func WithMaxTurns(n int) ManagerOption {
	return func(m *Manager) {
		m.maxTurns = n
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(repo repository.Repository, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:           repo,
		sessionTimeout: time.Hour,
		maxTurns:       10,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &m.locks[h.Sum32()%lockShards]
}

// withSession loads (or creates) the session, runs fn inside the user's
// critical section and saves the result.
func (m *Manager) withSession(ctx context.Context, userID string, fn func(*model.Session) error) (*model.Session, error) {
	mu := m.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	session, err := m.repo.GetSession(ctx, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load session", goerr.V("user_id", userID))
	}
	if session == nil {
		now := m.now()
		session = &model.Session{
			UserID:         userID,
			State:          model.SessionStateNew,
			CreatedAt:      now,
			LastActivityAt: now,
		}
	}

	if err := fn(session); err != nil {
		return nil, err
	}

	if err := m.repo.PutSession(ctx, session); err != nil {
		return nil, goerr.Wrap(err, "failed to save session", goerr.V("user_id", userID))
	}
	return session, nil
}

// Begin accepts an inbound user turn: it applies lazy expiry, performs the
// state transition, appends the turn and returns a snapshot of the session
// together with its generation. The snapshot is safe to read outside the
// critical section.
func (m *Manager) Begin(ctx context.Context, userID, text string) (*model.Session, error) {
	return m.withSession(ctx, userID, func(s *model.Session) error {
		now := m.now()

		if s.State == model.SessionStateActive && now.Sub(s.LastActivityAt) > m.sessionTimeout {
			// expiry is observed lazily on the next message; the state is
			// visible for one beat, then the session self-heals
			logging.From(ctx).Info("session expired, starting over",
				"user_id", userID,
				"idle", now.Sub(s.LastActivityAt),
			)
			s.State = model.SessionStateExpired
			m.resetLocked(s)
		}

		if s.State == model.SessionStateEscalated {
			// no turn accepted while awaiting an operator
			s.LastActivityAt = now
			return nil
		}

		s.State = model.SessionStateActive
		s.Turns = append(s.Turns, model.Turn{
			Role:      model.RoleUser,
			Text:      text,
			Timestamp: now,
		})
		s.TurnCount++
		s.LastActivityAt = now
		m.evictLocked(s)
		return nil
	})
}

// Complete appends the assistant reply produced for the given generation.
// If the session was reset while synthesis was in flight the result is
// discarded and Complete reports stale=true.
func (m *Manager) Complete(ctx context.Context, userID string, generation int64, reply model.Turn) (stale bool, err error) {
	_, err = m.withSession(ctx, userID, func(s *model.Session) error {
		if s.Generation != generation {
			stale = true
			return nil
		}
		s.Turns = append(s.Turns, reply)
		s.LastActivityAt = m.now()
		m.evictLocked(s)
		return nil
	})
	return stale, err
}

// Reset forces the session back to NEW with empty history, from any state
func (m *Manager) Reset(ctx context.Context, userID string) (*model.Session, error) {
	return m.withSession(ctx, userID, func(s *model.Session) error {
		m.resetLocked(s)
		return nil
	})
}

// Escalate transitions the session to ESCALATED and pins the ticket
func (m *Manager) Escalate(ctx context.Context, userID string, ticketID model.TicketID, reason string) (*model.Session, error) {
	return m.withSession(ctx, userID, func(s *model.Session) error {
		s.State = model.SessionStateEscalated
		s.EscalationTicketID = ticketID
		s.Turns = append(s.Turns, model.Turn{
			Role:      model.RoleSystemNote,
			Text:      "escalated: " + reason,
			Timestamp: m.now(),
		})
		return nil
	})
}

// Session returns a snapshot without mutating anything
func (m *Manager) Session(ctx context.Context, userID string) (*model.Session, error) {
	mu := m.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()
	return m.repo.GetSession(ctx, userID)
}

// resetLocked clears state in place. Bumping the generation invalidates
// any in-flight synthesis for the previous conversation.
func (m *Manager) resetLocked(s *model.Session) {
	s.State = model.SessionStateNew
	s.Turns = nil
	s.TurnCount = 0
	s.Generation++
	s.EscalationTicketID = ""
	s.LastActivityAt = m.now()
}

// evictLocked applies the sliding window: the most recent maxTurns user
// exchanges are kept, older turns are forgotten. The conversation itself
// continues.
func (m *Manager) evictLocked(s *model.Session) {
	if m.maxTurns <= 0 {
		return
	}

	users := 0
	cut := 0
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == model.RoleUser {
			users++
			if users == m.maxTurns {
				cut = i
				break
			}
		}
	}
	if users < m.maxTurns || cut == 0 {
		return
	}
	s.Turns = append([]model.Turn(nil), s.Turns[cut:]...)
}
