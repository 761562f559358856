// Package openai implements llm.Provider for OpenAI-compatible chat
// completion endpoints.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/user/chatrelay/pkg/llm"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config *llm.Config
	client *goopenai.Client
	retry  *llm.RetryPolicy
}

// New creates a new OpenAI-compatible client with the given configuration.
// A nil retry policy disables retries.
func New(config *llm.Config, retry *llm.RetryPolicy) *Client {
	clientCfg := goopenai.DefaultConfig(config.APIKey)
	if base := strings.TrimRight(config.BaseURL, "/"); base != "" {
		clientCfg.BaseURL = base
	}
	clientCfg.HTTPClient = &http.Client{Timeout: config.Timeout}

	if retry == nil {
		retry = &llm.RetryPolicy{MaxAttempts: 1}
	}
	return &Client{
		config: config,
		client: goopenai.NewClientWithConfig(clientCfg),
		retry:  retry,
	}
}

// Complete sends a chat completion request and returns the first choice.
// Transient failures are retried according to the client's policy.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: make([]goopenai.ChatCompletionMessage, len(messages)),
	}
	for i, msg := range messages {
		req.Messages[i] = goopenai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if c.config.Temperature != 0 {
		req.Temperature = c.config.Temperature
	}

	var resp goopenai.ChatCompletionResponse
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, req)
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	out := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}
	return out, nil
}

// classify lifts HTTP status codes out of go-openai's error types.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &llm.StatusError{StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &llm.StatusError{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}
