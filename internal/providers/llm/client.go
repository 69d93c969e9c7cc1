package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mnemo-agent/mnemo/internal/config"
	"github.com/mnemo-agent/mnemo/internal/core"
)

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ core.ChatProvider = (*Client)(nil)

func NewClient(cfg *config.LLMConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  []core.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []core.Tool   `json:"tools,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role      string          `json:"role"`
			Content   string          `json:"content"`
			ToolCalls []core.ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func toWire(msgs []core.ContextMessage) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}

func (c *Client) newRequest(ctx context.Context, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) Chat(ctx context.Context, msgs []core.ContextMessage, tools []core.Tool) (core.ContextMessage, error) {
	req, err := c.newRequest(ctx, chatRequest{
		Model:    c.model,
		Messages: toWire(msgs),
		Tools:    tools,
	})
	if err != nil {
		return core.ContextMessage{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.ContextMessage{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return core.ContextMessage{}, fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, body)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return core.ContextMessage{}, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return core.ContextMessage{}, fmt.Errorf("chat endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return core.ContextMessage{}, fmt.Errorf("chat endpoint returned no choices")
	}

	choice := parsed.Choices[0].Message
	return core.ContextMessage{
		Role:      core.RoleAssistant,
		Content:   choice.Content,
		ToolCalls: choice.ToolCalls,
	}, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []core.ContextMessage, tools []core.Tool) (core.CompletionStream, error) {
	req, err := c.newRequest(ctx, chatRequest{
		Model:    c.model,
		Messages: toWire(msgs),
		Tools:    tools,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, body)
	}

	return newSSEStream(resp.Body), nil
}
