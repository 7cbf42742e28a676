package chat_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/usecase/chat"
	"github.com/m-mizutani/gt"
)

func sessionWithUserTurns(texts ...string) *model.Session {
	s := &model.Session{
		UserID: "user-1",
		State:  model.SessionStateActive,
	}
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i, text := range texts {
		s.Turns = append(s.Turns, model.Turn{
			Role:      model.RoleUser,
			Text:      text,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		s.TurnCount++
	}
	return s
}

func TestExplicitOperatorRequest(t *testing.T) {
	ctx := context.Background()
	d := chat.NewDetector()

	cases := []string{
		"オペレーターにつないでください",
		"担当者と話したいです",
		"I want to talk to a human please",
		"can I speak to someone from support?",
	}
	for _, text := range cases {
		session := sessionWithUserTurns(text)
		decision := d.Classify(ctx, session, text)
		gt.True(t, decision.Trigger).Describe("should trigger: " + text)
		gt.Equal(t, decision.Rule, "explicit-request")
	}
}

func TestOrdinaryQuestionDoesNotTrigger(t *testing.T) {
	ctx := context.Background()
	d := chat.NewDetector()

	text := "経費精算の締め切りはいつですか"
	decision := d.Classify(ctx, sessionWithUserTurns(text), text)
	gt.True(t, !decision.Trigger)
}

func TestRepeatedTopicTriggers(t *testing.T) {
	ctx := context.Background()
	d := chat.NewDetector()

	// three consecutive user turns circling the same billing question
	turns := []string{
		"how do I fix the billing invoice error for march",
		"the billing invoice error for march is still there",
		"still getting the march billing invoice error, nothing works",
	}
	session := sessionWithUserTurns(turns...)

	decision := d.Classify(ctx, session, turns[len(turns)-1])
	gt.True(t, decision.Trigger)
	gt.Equal(t, decision.Rule, "repeated-topic")
}

func TestChangingTopicsDoesNotTrigger(t *testing.T) {
	ctx := context.Background()
	d := chat.NewDetector()

	turns := []string{
		"how do I request vacation days",
		"what is the expense report deadline",
		"where can I find the security training",
	}
	session := sessionWithUserTurns(turns...)

	decision := d.Classify(ctx, session, turns[len(turns)-1])
	gt.True(t, !decision.Trigger)
}

func TestRepeatedTopicNeedsEnoughTurns(t *testing.T) {
	ctx := context.Background()
	d := chat.NewDetector()

	turns := []string{
		"the billing invoice error keeps happening",
		"billing invoice error again",
	}
	session := sessionWithUserTurns(turns...)

	decision := d.Classify(ctx, session, turns[len(turns)-1])
	gt.True(t, !decision.Trigger)
}

func TestExplicitRuleWinsOverRepeated(t *testing.T) {
	ctx := context.Background()
	d := chat.NewDetector()

	turns := []string{
		"the billing invoice error keeps happening",
		"billing invoice error again",
		"billing invoice error, get me an operator",
	}
	session := sessionWithUserTurns(turns...)

	decision := d.Classify(ctx, session, turns[len(turns)-1])
	gt.True(t, decision.Trigger)
	gt.Equal(t, decision.Rule, "explicit-request")
}

func TestCustomPhrases(t *testing.T) {
	ctx := context.Background()
	d := chat.NewDetector(chat.WithPhrases([]string{"supervisor"}))

	text := "let me talk to your supervisor"
	decision := d.Classify(ctx, sessionWithUserTurns(text), text)
	gt.True(t, decision.Trigger)

	// the default phrase list is replaced, not extended
	text = "I want a human operator"
	decision = d.Classify(ctx, sessionWithUserTurns(text), text)
	gt.True(t, !decision.Trigger)
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yml")
	gt.NoError(t, os.WriteFile(path, []byte(`
phrases:
  - supervisor
  - クレーム
repeat_threshold: 4
`), 0o644))

	rules, err := chat.LoadRules(path)
	gt.NoError(t, err)
	gt.A(t, rules.Phrases).Length(2)
	gt.Equal(t, rules.RepeatThreshold, 4)
}

func TestLoadRulesMissingFile(t *testing.T) {
	_, err := chat.LoadRules("/nonexistent/rules.yml")
	gt.Error(t, err)
}
