package chat

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/m-kurata/kotae/pkg/adapter"
	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
	"gopkg.in/yaml.v3"
)

// Decision is the result of escalation classification
type Decision struct {
	Trigger bool
	Rule    string
	Reason  string
}

// matcher is one escalation rule. Rules are evaluated in order and the
// first match wins, so precedence is explicit and reproducible.
type matcher struct {
	name  string
	match func(ctx context.Context, session *model.Session, text string) (bool, string)
}

// Detector classifies a turn as requiring human handoff
type Detector struct {
	matchers []matcher

	phrases         []string
	repeatThreshold int
	repeatSimilar   float64
	gemini          adapter.Gemini
}

// RuleConfig is the YAML-loadable rule set
type RuleConfig struct {
	Phrases         []string `yaml:"phrases"`
	RepeatThreshold int      `yaml:"repeat_threshold"`
}

// defaultPhrases mirrors the operator-request wording the service has seen
// in production, Japanese and English.
var defaultPhrases = []string{
	"オペレーター", "オペレータ", "担当者", "人間と話", "代わって", "直接話",
	"operator", "human agent", "real person", "talk to a human", "speak to someone",
}

type DetectorOption func(*Detector)

// WithPhrases replaces the explicit-request phrase list
func WithPhrases(phrases []string) DetectorOption {
	return func(d *Detector) {
		d.phrases = phrases
	}
}

// WithRepeatThreshold sets how many consecutive user turns on the same
// unresolved topic trigger escalation.
func WithRepeatThreshold(n int) DetectorOption {
	return func(d *Detector) {
		d.repeatThreshold = n
	}
}

// WithIntentClassifier enables the LLM-based intent rule as the last
// matcher in the chain.
func WithIntentClassifier(gemini adapter.Gemini) DetectorOption {
	return func(d *Detector) {
		d.gemini = gemini
	}
}

func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		phrases:         defaultPhrases,
		repeatThreshold: 3,
		repeatSimilar:   0.5,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.matchers = []matcher{
		{name: "explicit-request", match: d.matchExplicit},
		{name: "repeated-topic", match: d.matchRepeated},
	}
	if d.gemini != nil {
		d.matchers = append(d.matchers, matcher{name: "llm-intent", match: d.matchIntent})
	}
	return d
}

// LoadRules reads a RuleConfig from a YAML file
func LoadRules(path string) (*RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read escalation rules", goerr.V("path", path))
	}

	var cfg RuleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse escalation rules", goerr.V("path", path))
	}
	return &cfg, nil
}

// Classify evaluates the rules in order against the turn text and recent
// history. The turn text is expected to already be appended to the session.
func (d *Detector) Classify(ctx context.Context, session *model.Session, text string) Decision {
	for _, m := range d.matchers {
		if ok, reason := m.match(ctx, session, text); ok {
			logging.From(ctx).Info("escalation triggered",
				"user_id", session.UserID,
				"rule", m.name,
				"reason", reason,
			)
			return Decision{Trigger: true, Rule: m.name, Reason: reason}
		}
	}
	return Decision{}
}

func (d *Detector) matchExplicit(ctx context.Context, session *model.Session, text string) (bool, string) {
	lower := strings.ToLower(text)
	for _, phrase := range d.phrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true, "user asked for a human operator"
		}
	}
	return false, ""
}

// matchRepeated fires when the last repeatThreshold user turns stay on one
// topic, which we read as the same question going unresolved. Topic
// identity is token-set overlap between consecutive turns.
func (d *Detector) matchRepeated(ctx context.Context, session *model.Session, text string) (bool, string) {
	if d.repeatThreshold < 2 {
		return false, ""
	}

	var recent []string
	for i := len(session.Turns) - 1; i >= 0 && len(recent) < d.repeatThreshold; i-- {
		if session.Turns[i].Role == model.RoleUser {
			recent = append(recent, session.Turns[i].Text)
		}
	}
	if len(recent) < d.repeatThreshold {
		return false, ""
	}

	for i := 0; i+1 < len(recent); i++ {
		if tokenOverlap(recent[i], recent[i+1]) < d.repeatSimilar {
			return false, ""
		}
	}
	return true, "same topic unresolved across consecutive turns"
}

func (d *Detector) matchIntent(ctx context.Context, session *model.Session, text string) (bool, string) {
	decision, err := classifyIntent(ctx, d.gemini, session, text)
	if err != nil {
		// intent classification is best effort; a failed call never blocks
		// the normal answer path
		logging.From(ctx).Warn("intent classification failed", "error", err)
		return false, ""
	}
	return decision.Trigger, decision.Reason
}

// tokenOverlap is the Jaccard similarity of the two texts' token sets
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for tok := range setA {
		if setB[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(setA)+len(setB)-shared)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if len(tok) > 2 {
			set[tok] = true
		}
	}
	return set
}

type intentResponse struct {
	Escalate bool   `json:"escalate"`
	Reason   string `json:"reason"`
}

// classifyIntent asks the LLM whether the turn needs human handoff,
// constrained to a JSON response.
func classifyIntent(ctx context.Context, gemini adapter.Gemini, session *model.Session, text string) (*Decision, error) {
	var history strings.Builder
	start := len(session.Turns) - 6
	if start < 0 {
		start = 0
	}
	for _, t := range session.Turns[start:] {
		history.WriteString(string(t.Role) + ": " + t.Text + "\n")
	}

	prompt := `You are screening a support conversation for human handoff.
Decide whether the latest user message requires a human operator: the user is
distressed, the request is out of scope for a document Q&A assistant, or the
conversation is clearly going in circles.

Recent conversation:
` + history.String() + `
Latest user message: ` + text

	temperature := float32(0.0)
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"escalate": {
					Type:        genai.TypeBoolean,
					Description: "true if a human operator should take over",
				},
				"reason": {
					Type:        genai.TypeString,
					Description: "brief reason for the decision",
				},
			},
			Required: []string{"escalate", "reason"},
		},
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to classify intent")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, goerr.New("empty intent classification response")
	}

	var raw strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		raw.WriteString(part.Text)
	}

	var parsed intentResponse
	if err := json.Unmarshal([]byte(raw.String()), &parsed); err != nil {
		return nil, goerr.Wrap(err, "failed to parse intent classification", goerr.V("raw", raw.String()))
	}

	return &Decision{Trigger: parsed.Escalate, Reason: parsed.Reason}, nil
}
