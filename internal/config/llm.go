package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// LLMConfig configures the OpenAI-compatible chat and embedding endpoints.
type LLMConfig struct {
	BaseURL        string `env:"MNEMO_LLM_BASE_URL" envDefault:"https://api.openai.com"`
	APIKey         string `env:"MNEMO_LLM_API_KEY"`
	Model          string `env:"MNEMO_LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel string `env:"MNEMO_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	// Tokenizer used for window cost estimation; must match the chat model
	// family closely enough for budget purposes.
	TokenizerModel string `env:"MNEMO_TOKENIZER_MODEL" envDefault:"gpt-4o"`
}

func NewLLMConfig(ctx context.Context) *LLMConfig {
	c := &LLMConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse llm config")
	}
	return c
}
