package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

const (
	VectorBackendSQLite   = "sqlite"
	VectorBackendPostgres = "postgres"
	VectorBackendChromem  = "chromem"
)

// VectorConfig selects and parameterizes the embedding backend.
type VectorConfig struct {
	Backend     string `env:"MNEMO_VECTOR_BACKEND" envDefault:"sqlite"`
	PostgresURL string `env:"MNEMO_VECTOR_POSTGRES_URL"`
	ChromemPath string `env:"MNEMO_VECTOR_CHROMEM_PATH"`
}

func NewVectorConfig(ctx context.Context) *VectorConfig {
	c := &VectorConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse vector config")
	}
	switch c.Backend {
	case VectorBackendSQLite, VectorBackendPostgres, VectorBackendChromem:
	default:
		log.FromCtx(ctx).Fatal().Str("backend", c.Backend).Msg("unknown vector backend")
	}
	return c
}
