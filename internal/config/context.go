package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// ContextConfig holds the window-management scalars.
type ContextConfig struct {
	RefreshTriggerTokens   int `env:"MNEMO_CONTEXT_REFRESH_TRIGGER_TOKENS" envDefault:"3300"`
	RefreshTargetTokens    int `env:"MNEMO_CONTEXT_REFRESH_TARGET_TOKENS" envDefault:"1650"`
	MaxContextAgeMinutes   int `env:"MNEMO_MAX_CONTEXT_AGE_MINUTES" envDefault:"120"`
	RefreshIntervalMinutes int `env:"MNEMO_CONTEXT_REFRESH_INTERVAL_MINUTES" envDefault:"30"`
	MessagesBetweenMemory  int `env:"MNEMO_MESSAGES_BETWEEN_MEMORY" envDefault:"4"`
}

func NewContextConfig(ctx context.Context) *ContextConfig {
	c := &ContextConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse context config")
	}
	return c
}

func (c ContextConfig) MaxContextAge() time.Duration {
	return time.Duration(c.MaxContextAgeMinutes) * time.Minute
}

func (c ContextConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}
