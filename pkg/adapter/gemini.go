package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini is the interface for the LLM collaborator. The same embedding
// model must be used for indexing and querying; EmbeddingModel exposes the
// version tag for that check.
type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error)
	EmbeddingModel() string
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string

	maxAttempts int
	baseBackoff time.Duration
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

func WithMaxAttempts(n int) GeminiOption {
	return func(g *GeminiClient) {
		g.maxAttempts = n
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
		maxAttempts:     3,
		baseBackoff:     500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) EmbeddingModel() string {
	return g.embeddingModel
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	err := g.withRetry(ctx, func() error {
		var err error
		resp, err = g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}
	return resp, nil
}

func (g *GeminiClient) Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error) {
	var resp *genai.EmbedContentResponse
	err := g.withRetry(ctx, func() error {
		var err error
		resp, err = g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{})
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content")
	}
	return resp, nil
}

// withRetry retries transient API failures (rate limit, 5xx) with capped
// exponential backoff. Auth errors fail immediately.
func (g *GeminiClient) withRetry(ctx context.Context, call func() error) error {
	backoff := g.baseBackoff

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			logging.From(ctx).Debug("retrying LLM call",
				"attempt", attempt+1,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return goerr.Wrap(ctx.Err(), "canceled while waiting for retry")
			}
			backoff *= 2
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}

		switch classifyAPIError(lastErr) {
		case errClassAuth:
			return goerr.Wrap(model.ErrAuth, lastErr.Error())
		case errClassRateLimit, errClassTransient:
			continue
		default:
			return lastErr
		}
	}

	if classifyAPIError(lastErr) == errClassRateLimit {
		return goerr.Wrap(model.ErrRateLimited, lastErr.Error())
	}
	return lastErr
}

type errClass int

const (
	errClassOther errClass = iota
	errClassAuth
	errClassRateLimit
	errClassTransient
)

func classifyAPIError(err error) errClass {
	if err == nil {
		return errClassOther
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return errClassOther
	}

	switch {
	case apiErr.Code == 401 || apiErr.Code == 403:
		return errClassAuth
	case apiErr.Code == 429:
		return errClassRateLimit
	case apiErr.Code >= 500:
		return errClassTransient
	default:
		return errClassOther
	}
}
