package window

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mnemo-agent/mnemo/internal/core"
)

// Counter prices messages for window budgeting.
type Counter interface {
	MessageCost(m core.ContextMessage) int
}

// TokenCounter estimates window cost with a tiktoken encoding. Only text
// content is counted; tool-call payloads are deliberately excluded, and the
// budget defaults are calibrated against that approximation.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter(model string) (*TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer for %s: %w", model, err)
	}
	return &TokenCounter{enc: enc}, nil
}

func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TokenCounter) MessageCost(m core.ContextMessage) int {
	return c.Count(m.Content)
}
