package chat

import (
	"context"
	_ "embed"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m-kurata/kotae/pkg/adapter"
	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/service/retrieval"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/system.md
var systemPromptRaw string

// Answer is a synthesized reply with the citations of the chunks that
// actually made it into the prompt.
type Answer struct {
	Text      string
	Citations []model.Citation
}

// Synthesizer assembles the prompt under the input budget and calls the
// completion collaborator. Budget priority when the total exceeds the
// limit: system instructions are never trimmed, context chunks are dropped
// lowest score first, history is dropped oldest first. Grounding beats
// conversationality.
type Synthesizer struct {
	gemini adapter.Gemini

	inputBudget     int
	maxOutputTokens int32
	temperature     float32
}

type SynthesizerOption func(*Synthesizer)

// WithInputBudget sets the total prompt budget in runes
func WithInputBudget(runes int) SynthesizerOption {
	return func(s *Synthesizer) {
		s.inputBudget = runes
	}
}

func WithMaxOutputTokens(n int32) SynthesizerOption {
	return func(s *Synthesizer) {
		s.maxOutputTokens = n
	}
}

func WithTemperature(t float32) SynthesizerOption {
	return func(s *Synthesizer) {
		s.temperature = t
	}
}

func NewSynthesizer(gemini adapter.Gemini, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		gemini:          gemini,
		inputBudget:     8000,
		maxOutputTokens: 1024,
		temperature:     0.2,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// promptParts is an assembled prompt: the labeled sections are data, so
// trimming behavior is a contract rather than inline string surgery.
type promptParts struct {
	system    string
	contents  []*genai.Content
	citations []model.Citation
}

// Synthesize builds the prompt from the session history, the retrieved
// chunks and the query, and calls the completion collaborator. An empty or
// failed completion is retried once with the history fully dropped before
// failing with ErrCompletion.
func (s *Synthesizer) Synthesize(ctx context.Context, session *model.Session, query string, chunks []retrieval.Chunk) (*Answer, error) {
	parts := s.assemble(session, query, chunks, true)

	text, err := s.complete(ctx, parts)
	if err == nil && text != "" {
		return &Answer{Text: text, Citations: parts.citations}, nil
	}
	logging.From(ctx).Warn("completion failed, retrying with reduced prompt",
		"user_id", session.UserID,
		"error", err,
	)

	parts = s.assemble(session, query, chunks, false)
	text, err = s.complete(ctx, parts)
	if err != nil {
		return nil, goerr.Wrap(model.ErrCompletion, err.Error())
	}
	if text == "" {
		return nil, goerr.Wrap(model.ErrCompletion, "empty completion after reduced-prompt retry")
	}
	return &Answer{Text: text, Citations: parts.citations}, nil
}

// assemble applies the fixed trim priority. withHistory=false is the
// reduced-prompt retry shape.
func (s *Synthesizer) assemble(session *model.Session, query string, chunks []retrieval.Chunk, withHistory bool) *promptParts {
	budget := s.inputBudget
	budget -= utf8.RuneCountInString(systemPromptRaw)
	budget -= utf8.RuneCountInString(query)

	included := trimChunks(chunks, budget)
	var contextSize int
	for _, c := range included {
		contextSize += c.Size
	}
	budget -= contextSize

	var system strings.Builder
	system.WriteString(systemPromptRaw)
	if len(included) > 0 {
		system.WriteString("\n\n# Reference documents\n")
		for i, c := range included {
			system.WriteString("\n--- document ")
			system.WriteString(strconv.Itoa(i + 1))
			system.WriteString(": ")
			system.WriteString(c.Citation.Locator)
			system.WriteString(" ---\n")
			system.WriteString(c.Text)
			system.WriteString("\n")
		}
	}

	var contents []*genai.Content
	if withHistory {
		contents = trimHistory(session.Turns, budget)
	}
	contents = append(contents, genai.NewContentFromText(query, genai.RoleUser))

	citations := make([]model.Citation, len(included))
	for i, c := range included {
		citations[i] = c.Citation
	}

	return &promptParts{
		system:    system.String(),
		contents:  contents,
		citations: citations,
	}
}

func (s *Synthesizer) complete(ctx context.Context, parts *promptParts) (string, error) {
	temperature := s.temperature
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(parts.system, ""),
		MaxOutputTokens:   s.maxOutputTokens,
		Temperature:       &temperature,
	}

	resp, err := s.gemini.GenerateContent(ctx, parts.contents, config)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return strings.TrimSpace(text.String()), nil
}

// trimChunks keeps chunks highest score first while they fit the budget.
// A chunk is dropped whole, never cut in half.
func trimChunks(chunks []retrieval.Chunk, budget int) []retrieval.Chunk {
	byScore := make([]retrieval.Chunk, len(chunks))
	copy(byScore, chunks)
	sort.SliceStable(byScore, func(i, j int) bool {
		return byScore[i].Citation.Score > byScore[j].Citation.Score
	})

	var included []retrieval.Chunk
	remaining := budget
	for _, c := range byScore {
		if c.Size > remaining {
			continue
		}
		included = append(included, c)
		remaining -= c.Size
	}
	return included
}

// trimHistory keeps the most recent turns that fit the remaining budget,
// dropping oldest first. System notes never enter the prompt.
func trimHistory(turns []model.Turn, budget int) []*genai.Content {
	var kept []model.Turn
	remaining := budget
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role == model.RoleSystemNote {
			continue
		}
		size := utf8.RuneCountInString(t.Text)
		if size > remaining {
			break
		}
		kept = append(kept, t)
		remaining -= size
	}

	// kept is newest-first; the prompt wants chronological order
	contents := make([]*genai.Content, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		role := genai.Role(genai.RoleUser)
		if kept[i].Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(kept[i].Text, role))
	}
	return contents
}
