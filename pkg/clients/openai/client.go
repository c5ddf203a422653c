// Package openai implements the client for OpenAI-compatible chat-completion
// endpoints, covering both the blocking call and the SSE streaming variant.
// The Generator interface is what the answering and evaluation layers consume.
package openai

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hsn0918/bookrag/pkg/clients/base"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.7
	DefaultTopP        = 0.7
	ServiceName        = "llm"
)

// Generator produces completions for an ordered message list.
type Generator interface {
	// Call returns the full completion text.
	Call(ctx context.Context, messages []Message) (string, error)
	// Stream delivers completion fragments to onDelta in arrival order and
	// returns once the upstream stream terminates.
	Stream(ctx context.Context, messages []Message, onDelta func(string) error) error
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	httpClient *base.HTTPClient
	model      string
}

var _ Generator = (*Client)(nil)

func NewClient(cfg base.Config, model string) *Client {
	return &Client{
		httpClient: base.NewHTTPClient(ServiceName, cfg, DefaultTimeout),
		model:      model,
	}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stop        any       `json:"stop,omitempty"`
	N           int       `json:"n,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// streamChunk is the per-event payload of a streamed completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Call runs a blocking completion and returns the first choice's content.
func (c *Client) Call(ctx context.Context, messages []Message) (string, error) {
	req := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
	}
	var result ChatResponse
	if err := c.httpClient.Post(ctx, "/chat/completions", req, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", base.NewClientError(ServiceName, "chat", fmt.Errorf("no choices in response for model %s", c.model))
	}
	return result.Choices[0].Message.Content, nil
}

// Stream runs a streaming completion, invoking onDelta for each content
// fragment. A non-nil error from onDelta aborts the stream.
func (c *Client) Stream(ctx context.Context, messages []Message, onDelta func(string) error) error {
	req := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
	}

	resp, err := c.httpClient.Resty().R().
		SetContext(ctx).
		SetBody(req).
		SetDoNotParseResponse(true).
		Post("/chat/completions")
	if err != nil {
		return base.NewClientError(ServiceName, "chat stream", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		buf := make([]byte, 2048)
		n, _ := body.Read(buf)
		return base.NewHTTPError(ServiceName, "chat stream", resp.StatusCode(), string(buf[:n]))
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := sonic.UnmarshalString(payload, &chunk); err != nil {
			// Tolerate malformed keepalive frames; a broken upstream will
			// still terminate via EOF or [DONE].
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return base.NewClientError(ServiceName, "chat stream", err)
	}
	return nil
}
