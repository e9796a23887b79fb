// Package openai provides a reaction classifier backed directly by the
// OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nvollmar/backchannel/pkg/provider/reaction"
)

// Compile-time assertion that Classifier satisfies reaction.Classifier.
var _ reaction.Classifier = (*Classifier)(nil)

// maxResponseTokens caps the completion; the classifier is asked for a
// single word.
const maxResponseTokens = 10

// Classifier implements reaction.Classifier using the OpenAI API.
type Classifier struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the classifier.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Classifier.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Primarily used
// in tests to point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI-backed Classifier.
func New(apiKey, model string, opts ...Option) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Classifier{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Classify implements reaction.Classifier.
func (c *Classifier) Classify(ctx context.Context, text string, pc reaction.Context) (string, error) {
	prompt, err := reaction.BuildPrompt(text, pc)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(prompt),
		},
		MaxTokens: oai.Int(maxResponseTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
