package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionSessions = "sessions"
	collectionTickets  = "tickets"
	collectionCounters = "ticket_counters"
)

// Firestore implements Repository using Cloud Firestore
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a Firestore repository for the given project and
// database.
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID),
		)
	}

	return &Firestore{client: client}, nil
}

func (r *Firestore) GetSession(ctx context.Context, userID string) (*model.Session, error) {
	doc, err := r.client.Collection(collectionSessions).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("user_id", userID))
	}

	var session model.Session
	if err := doc.DataTo(&session); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("user_id", userID))
	}
	return &session, nil
}

func (r *Firestore) PutSession(ctx context.Context, session *model.Session) error {
	_, err := r.client.Collection(collectionSessions).Doc(session.UserID).Set(ctx, session)
	if err != nil {
		return goerr.Wrap(err, "failed to put session", goerr.V("user_id", session.UserID))
	}
	return nil
}

func (r *Firestore) DeleteSession(ctx context.Context, userID string) error {
	_, err := r.client.Collection(collectionSessions).Doc(userID).Delete(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to delete session", goerr.V("user_id", userID))
	}
	return nil
}

func (r *Firestore) PutTicket(ctx context.Context, ticket *model.EscalationTicket) error {
	_, err := r.client.Collection(collectionTickets).Doc(string(ticket.ID)).Set(ctx, ticket)
	if err != nil {
		return goerr.Wrap(err, "failed to put ticket", goerr.V("ticket_id", ticket.ID))
	}
	return nil
}

func (r *Firestore) ListTickets(ctx context.Context, limit int) ([]*model.EscalationTicket, error) {
	query := r.client.Collection(collectionTickets).OrderBy("CreatedAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var tickets []*model.EscalationTicket
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate tickets")
		}

		var ticket model.EscalationTicket
		if err := doc.DataTo(&ticket); err != nil {
			return nil, goerr.Wrap(err, "failed to decode ticket", goerr.V("doc_id", doc.Ref.ID))
		}
		tickets = append(tickets, &ticket)
	}

	return tickets, nil
}

func (r *Firestore) NextTicketSeq(ctx context.Context, day string) (int64, error) {
	ref := r.client.Collection(collectionCounters).Doc(day)

	var seq int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		if doc != nil && doc.Exists() {
			v, err := doc.DataAt("Seq")
			if err != nil {
				return err
			}
			seq = v.(int64) + 1
		} else {
			seq = 1
		}

		return tx.Set(ref, map[string]any{"Seq": seq})
	})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to issue ticket sequence", goerr.V("day", day))
	}

	return seq, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}
