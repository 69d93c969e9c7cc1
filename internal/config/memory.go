package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

// MemoryConfig holds recall and consolidation thresholds (L2 distances).
type MemoryConfig struct {
	RelevanceDistanceThreshold     float64 `env:"MNEMO_MEMORY_RELEVANCE_DISTANCE_THRESHOLD" envDefault:"1.24"`
	ConsolidationDistanceThreshold float64 `env:"MNEMO_MEMORY_CONSOLIDATION_DISTANCE_THRESHOLD" envDefault:"0.65"`
	ReflectiveRecall               bool    `env:"MNEMO_REFLECTIVE_RECALL" envDefault:"false"`

	// Redundant pairs examined per consolidation pass.
	ConsolidationPairLimit int `env:"MNEMO_CONSOLIDATION_PAIR_LIMIT" envDefault:"3"`
}

func NewMemoryConfig(ctx context.Context) *MemoryConfig {
	c := &MemoryConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse memory config")
	}
	return c
}
