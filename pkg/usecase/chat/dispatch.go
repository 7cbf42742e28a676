package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/service/retrieval"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const helpMessage = `This assistant answers questions about internal company documents.

Commands:
- /help : show this message
- /reset : clear the conversation and start over
- /search <keywords> : look up documents directly

Ask specific questions to get the most accurate answers.`

const (
	resetMessage = "Conversation history cleared. Let's start over."

	awaitingOperatorMessage = "Your request has been passed to a human operator. " +
		"Please wait for them to get back to you, or send /reset to start a new conversation."

	noResultsMessage = "I could not find anything related to that in the indexed documents. " +
		"Try rephrasing the question or asking about another topic."

	apologyMessage = "Sorry, I could not generate an answer this time. " +
		"Please try again in a moment."

	unsupportedTypeMessage = "Only text messages are supported. " +
		"Please send your question as text."
)

// TicketStore issues ticket sequence numbers and records tickets. The
// repository satisfies it; delivery guarantees are the sink's concern.
type TicketStore interface {
	PutTicket(ctx context.Context, ticket *model.EscalationTicket) error
	NextTicketSeq(ctx context.Context, day string) (int64, error)
}

// Dispatcher normalizes inbound events and orchestrates session state,
// escalation, retrieval and synthesis.
type Dispatcher struct {
	manager     *Manager
	detector    *Detector
	retriever   *retrieval.Engine
	synthesizer *Synthesizer
	tickets     TicketStore

	now func() time.Time
}

type DispatcherInput struct {
	Manager     *Manager
	Detector    *Detector
	Retriever   *retrieval.Engine
	Synthesizer *Synthesizer
	Tickets     TicketStore
}

func NewDispatcher(input DispatcherInput) *Dispatcher {
	return &Dispatcher{
		manager:     input.Manager,
		detector:    input.Detector,
		retriever:   input.Retriever,
		synthesizer: input.Synthesizer,
		tickets:     input.Tickets,
		now:         time.Now,
	}
}

// Handle processes one inbound event and returns the outbound reply.
// A nil reply with nil error means the result was deliberately dropped
// (the session was reset while synthesis was in flight).
func (d *Dispatcher) Handle(ctx context.Context, msg model.InboundMessage) (*model.OutboundMessage, error) {
	if msg.UserID == "" {
		return nil, goerr.New("inbound message has no user id")
	}

	if msg.EventType != model.EventTypeText {
		return d.reply(msg, unsupportedTypeMessage, nil), nil
	}

	text := strings.TrimSpace(msg.Text)

	switch {
	case isHelpCommand(text):
		return d.reply(msg, helpMessage, nil), nil

	case isResetCommand(text):
		if _, err := d.manager.Reset(ctx, msg.UserID); err != nil {
			return nil, err
		}
		return d.reply(msg, resetMessage, nil), nil

	case strings.HasPrefix(text, "/search "):
		return d.handleSearch(ctx, msg, strings.TrimSpace(strings.TrimPrefix(text, "/search ")))
	}

	return d.handleQuestion(ctx, msg, text)
}

func (d *Dispatcher) handleQuestion(ctx context.Context, msg model.InboundMessage, text string) (*model.OutboundMessage, error) {
	session, err := d.manager.Begin(ctx, msg.UserID, text)
	if err != nil {
		return nil, err
	}

	// terminal until reset: no retrieval, no completion
	if session.State == model.SessionStateEscalated {
		return d.reply(msg, awaitingOperatorMessage, nil), nil
	}
	generation := session.Generation

	if decision := d.detector.Classify(ctx, session, text); decision.Trigger {
		return d.escalate(ctx, msg, session, decision)
	}

	chunks, err := d.retriever.Retrieve(ctx, text)
	if err != nil {
		logging.From(ctx).Error("retrieval failed", "user_id", msg.UserID, "error", err)
		return d.finish(ctx, msg, generation, apologyMessage, nil)
	}
	if len(chunks) == 0 {
		return d.finish(ctx, msg, generation, noResultsMessage, nil)
	}

	answer, err := d.synthesizer.Synthesize(ctx, session, text, chunks)
	if err != nil {
		logging.From(ctx).Error("synthesis failed", "user_id", msg.UserID, "error", err)
		return d.finish(ctx, msg, generation, apologyMessage, nil)
	}

	return d.finish(ctx, msg, generation, answer.Text, answer.Citations)
}

// finish appends the assistant turn and builds the outbound reply. A stale
// generation means the user reset mid-flight; the result is discarded.
func (d *Dispatcher) finish(ctx context.Context, msg model.InboundMessage, generation int64, text string, citations []model.Citation) (*model.OutboundMessage, error) {
	reply := model.Turn{
		Role:      model.RoleAssistant,
		Text:      text,
		Timestamp: d.now(),
		Citations: citations,
	}

	stale, err := d.manager.Complete(ctx, msg.UserID, generation, reply)
	if err != nil {
		return nil, err
	}
	if stale {
		logging.From(ctx).Info("discarding reply for reset session", "user_id", msg.UserID)
		return nil, nil
	}

	return d.reply(msg, text, citations), nil
}

func (d *Dispatcher) escalate(ctx context.Context, msg model.InboundMessage, session *model.Session, decision Decision) (*model.OutboundMessage, error) {
	now := d.now()
	day := now.Format("20060102")

	seq, err := d.tickets.NextTicketSeq(ctx, day)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to issue ticket sequence")
	}

	ticket := &model.EscalationTicket{
		ID:        model.NewTicketID(now, seq),
		UserID:    msg.UserID,
		CreatedAt: now,
		Reason:    decision.Reason,
	}

	// fire and forget: a sink failure must not block the handoff itself
	if err := d.tickets.PutTicket(ctx, ticket); err != nil {
		logging.From(ctx).Error("failed to record escalation ticket",
			"ticket_id", ticket.ID,
			"error", err,
		)
	}

	if _, err := d.manager.Escalate(ctx, msg.UserID, ticket.ID, decision.Reason); err != nil {
		return nil, err
	}

	text := fmt.Sprintf("I have asked a human operator to take over (%s).\n"+
		"Ticket: %s\n"+
		"They will get back to you during business hours.", decision.Reason, ticket.ID)
	return d.reply(msg, text, nil), nil
}

func (d *Dispatcher) handleSearch(ctx context.Context, msg model.InboundMessage, query string) (*model.OutboundMessage, error) {
	if query == "" {
		return d.reply(msg, "Usage: /search <keywords>", nil), nil
	}

	chunks, err := d.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "search failed")
	}
	if len(chunks) == 0 {
		return d.reply(msg, noResultsMessage, nil), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q:\n", query)
	for i, c := range chunks {
		preview := c.Text
		if runes := []rune(preview); len(runes) > 100 {
			preview = string(runes[:100]) + "..."
		}
		fmt.Fprintf(&b, "\n%d. %s (score %.2f)\n   %s\n",
			i+1, c.Citation.Locator, c.Citation.Score, strings.ReplaceAll(preview, "\n", " "))
	}
	return d.reply(msg, b.String(), nil), nil
}

// reply addresses the channel when one is known, otherwise the user
// directly. A message is never dropped for lack of channel identity.
func (d *Dispatcher) reply(msg model.InboundMessage, text string, citations []model.Citation) *model.OutboundMessage {
	return &model.OutboundMessage{
		UserID:    msg.UserID,
		ChannelID: msg.ChannelID,
		Text:      text,
		Citations: citations,
	}
}

func isHelpCommand(text string) bool {
	switch strings.ToLower(text) {
	case "/help", "help", "ヘルプ", "使い方":
		return true
	}
	return false
}

func isResetCommand(text string) bool {
	switch strings.ToLower(text) {
	case "/reset", "reset", "リセット", "履歴削除":
		return true
	}
	return false
}
