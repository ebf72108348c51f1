// Package llm is the chat-completion client used for question generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("LLM API key not configured. Please set GEMINI_API_KEY environment variable")

// Message is one turn of a structured prompt.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Client returns the raw text of a completion.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Options configures an OpenAI-compatible client.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint,
// including Gemini's compatibility layer.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates a client. It fails with ErrNotConfigured when no API
// key is set.
func NewOpenAI(opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, ErrNotConfigured
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &OpenAI{client: openai.NewClientWithConfig(cfg)}, nil
}

// Complete implements Client.
func (c *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Unavailable is a Client that fails every call with Err. It stands in
// when the real client could not be configured, so that generation
// reports per-item failures instead of refusing to start.
type Unavailable struct {
	Err error
}

// Complete implements Client.
func (u Unavailable) Complete(context.Context, Request) (string, error) {
	if u.Err == nil {
		return "", ErrNotConfigured
	}
	return "", u.Err
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
