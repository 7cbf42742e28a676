package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-mizutani/goerr/v2"

	_ "modernc.org/sqlite"
)

// SQLite implements Repository on a local SQLite file, for running the
// engine without Google Cloud access. Sessions are stored as JSON blobs;
// the schema only needs key lookup.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id    TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tickets (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	reason     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ticket_seq (
	day TEXT PRIMARY KEY,
	seq INTEGER NOT NULL
);
`

// NewSQLite opens (creating if needed) a SQLite repository at path
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}

	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to initialize sqlite schema")
	}

	return &SQLite{db: db}, nil
}

func (r *SQLite) GetSession(ctx context.Context, userID string) (*model.Session, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE user_id = ?`, userID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query session", goerr.V("user_id", userID))
	}

	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("user_id", userID))
	}
	return &session, nil
}

func (r *SQLite) PutSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return goerr.Wrap(err, "failed to encode session", goerr.V("user_id", session.UserID))
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		session.UserID, string(data), time.Now().Unix(),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to put session", goerr.V("user_id", session.UserID))
	}
	return nil
}

func (r *SQLite) DeleteSession(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return goerr.Wrap(err, "failed to delete session", goerr.V("user_id", userID))
	}
	return nil
}

func (r *SQLite) PutTicket(ctx context.Context, ticket *model.EscalationTicket) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tickets (id, user_id, reason, created_at) VALUES (?, ?, ?, ?)`,
		string(ticket.ID), ticket.UserID, ticket.Reason, ticket.CreatedAt.Unix(),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to put ticket", goerr.V("ticket_id", ticket.ID))
	}
	return nil
}

func (r *SQLite) ListTickets(ctx context.Context, limit int) ([]*model.EscalationTicket, error) {
	query := `SELECT id, user_id, reason, created_at FROM tickets ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query tickets")
	}
	defer rows.Close()

	var tickets []*model.EscalationTicket
	for rows.Next() {
		var (
			ticket    model.EscalationTicket
			createdAt int64
		)
		if err := rows.Scan((*string)(&ticket.ID), &ticket.UserID, &ticket.Reason, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan ticket")
		}
		ticket.CreatedAt = time.Unix(createdAt, 0)
		tickets = append(tickets, &ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate tickets")
	}

	return tickets, nil
}

func (r *SQLite) NextTicketSeq(ctx context.Context, day string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ticket_seq (day, seq) VALUES (?, 0) ON CONFLICT(day) DO NOTHING`, day,
	); err != nil {
		return 0, goerr.Wrap(err, "failed to seed ticket sequence", goerr.V("day", day))
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE ticket_seq SET seq = seq + 1 WHERE day = ? RETURNING seq`, day,
	).Scan(&seq); err != nil {
		return 0, goerr.Wrap(err, "failed to issue ticket sequence", goerr.V("day", day))
	}

	if err := tx.Commit(); err != nil {
		return 0, goerr.Wrap(err, "failed to commit ticket sequence")
	}
	return seq, nil
}

func (r *SQLite) Close() error {
	return r.db.Close()
}
