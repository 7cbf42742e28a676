package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/service/retrieval"
	"github.com/m-kurata/kotae/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

// generateCall is one captured GenerateContent invocation
type generateCall struct {
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

// mockGemini scripts completion behavior and records every call
type mockGemini struct {
	replyText string
	failures  int
	embedVec  []float32

	generateCalls []generateCall
	embedCalls    int
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.generateCalls = append(m.generateCalls, generateCall{contents: contents, config: config})
	if len(m.generateCalls) <= m.failures {
		return nil, goerr.New("simulated completion failure")
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: m.replyText}}}},
		},
	}, nil
}

func (m *mockGemini) Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error) {
	m.embedCalls++
	vec := m.embedVec
	if vec == nil {
		vec = []float32{1, 0}
	}
	return &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: vec}},
	}, nil
}

func (m *mockGemini) EmbeddingModel() string {
	return "test-embedding"
}

func testChunk(text string, score float64) retrieval.Chunk {
	return retrieval.Chunk{
		Text:  text,
		Title: "handbook",
		Citation: model.Citation{
			ChunkID:    model.NewChunkID(),
			DocumentID: "docs/handbook.md",
			Locator:    "handbook §1",
			Score:      score,
		},
		Size: len([]rune(text)),
	}
}

func TestSynthesizeReturnsAnswerWithCitations(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{replyText: "The deadline is the 25th."}
	s := chat.NewSynthesizer(gemini)

	chunks := []retrieval.Chunk{
		testChunk("expense reports are due on the 25th", 0.9),
		testChunk("vacation requests need one week notice", 0.6),
	}
	session := sessionWithUserTurns("when are expense reports due?")

	answer, err := s.Synthesize(ctx, session, "when are expense reports due?", chunks)
	gt.NoError(t, err)
	gt.Equal(t, answer.Text, "The deadline is the 25th.")
	gt.A(t, answer.Citations).Length(2)

	// the retrieved context rides in the system instruction
	gt.A(t, gemini.generateCalls).Length(1)
	system := gemini.generateCalls[0].config.SystemInstruction.Parts[0].Text
	gt.S(t, system).Contains("expense reports are due on the 25th")
	gt.S(t, system).Contains("handbook §1")
}

func TestSynthesizeDropsOversizedChunk(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{replyText: "answer"}
	s := chat.NewSynthesizer(gemini)

	huge := testChunk(strings.Repeat("x", 50000), 0.95)
	small := testChunk("fits fine", 0.5)
	session := sessionWithUserTurns("question")

	answer, err := s.Synthesize(ctx, session, "question", []retrieval.Chunk{huge, small})
	gt.NoError(t, err)

	// citations cover only the chunks that made it into the prompt
	gt.A(t, answer.Citations).Length(1)
	gt.Equal(t, answer.Citations[0].ChunkID, small.Citation.ChunkID)

	system := gemini.generateCalls[0].config.SystemInstruction.Parts[0].Text
	gt.S(t, system).Contains("fits fine")
	gt.True(t, !strings.Contains(system, "xxxxx"))
}

func TestSynthesizeIncludesHistoryChronologically(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{replyText: "answer"}
	s := chat.NewSynthesizer(gemini)

	session := &model.Session{
		UserID: "user-1",
		Turns: []model.Turn{
			{Role: model.RoleUser, Text: "first question"},
			{Role: model.RoleAssistant, Text: "first answer"},
			{Role: model.RoleSystemNote, Text: "escalated: test"},
			{Role: model.RoleUser, Text: "second question"},
		},
	}

	_, err := s.Synthesize(ctx, session, "second question", []retrieval.Chunk{testChunk("context", 0.8)})
	gt.NoError(t, err)

	contents := gemini.generateCalls[0].contents
	// three history turns minus the system note, plus the query itself
	gt.A(t, contents).Length(4)
	gt.Equal(t, contents[0].Parts[0].Text, "first question")
	gt.Equal(t, contents[1].Parts[0].Text, "first answer")
	gt.Equal(t, contents[2].Parts[0].Text, "second question")
	gt.Equal(t, contents[1].Role, genai.RoleModel)
}

func TestSynthesizeRetriesWithoutHistory(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{replyText: "recovered answer", failures: 1}
	s := chat.NewSynthesizer(gemini)

	session := &model.Session{
		UserID: "user-1",
		Turns: []model.Turn{
			{Role: model.RoleUser, Text: "first question"},
			{Role: model.RoleAssistant, Text: "first answer"},
			{Role: model.RoleUser, Text: "current question"},
		},
	}

	answer, err := s.Synthesize(ctx, session, "current question", []retrieval.Chunk{testChunk("context", 0.8)})
	gt.NoError(t, err)
	gt.Equal(t, answer.Text, "recovered answer")

	gt.A(t, gemini.generateCalls).Length(2)
	// the retry carries the query only
	gt.A(t, gemini.generateCalls[1].contents).Length(1)
}

func TestSynthesizeFailsAfterRetry(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{replyText: "never seen", failures: 2}
	s := chat.NewSynthesizer(gemini)

	session := sessionWithUserTurns("question")
	_, err := s.Synthesize(ctx, session, "question", []retrieval.Chunk{testChunk("context", 0.8)})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrCompletion))
}
