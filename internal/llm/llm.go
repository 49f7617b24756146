// Package llm adapts an OpenAI-compatible chat completions API (Groq by default)
// to the narrow completion interface the evaluator needs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bull/irb-compliance/internal/ratelimit"
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1/"

	// DefaultModel has an 8192-token context window.
	DefaultModel = "llama3-8b-8192"
)

var (
	ErrMissingAPIKey      = errors.New("llm API key not set")
	ErrUnexpectedResponse = errors.New("unexpected response structure")
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Request describes a single completion call.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completer returns the text of the first choice for a request.
// Implementations report provider throttling as ratelimit.ErrRateLimited.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// UserPrompt builds a single user-message conversation.
func UserPrompt(prompt string) []Message {
	return []Message{{Role: RoleUser, Content: prompt}}
}

// Client implements Completer on top of openai-go.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a chat client for baseURL. Empty baseURL and model select the
// Groq defaults.
func NewClient(apiKey, baseURL, model string, opts ...option.RequestOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}

	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}, opts...)
	client := openai.NewClient(opts...)

	return &Client{client: &client, model: model}, nil
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete sends the request and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Messages:    toParams(req.Messages),
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if isRateLimitError(err) {
			return "", fmt.Errorf("%w: %v", ratelimit.ErrRateLimited, err)
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrUnexpectedResponse
	}

	return resp.Choices[0].Message.Content, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}
	return params
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
