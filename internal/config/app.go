package config

import (
	"context"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/mnemo-agent/mnemo/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"MNEMO_RUNTIME_PATH" envDefault:".mnemo"`

	// Transport flags
	EnableTelegram bool `env:"MNEMO_ENABLE_TELEGRAM" envDefault:"false"`
	EnableAPI      bool `env:"MNEMO_ENABLE_API" envDefault:"false"`

	APIListenAddr string `env:"MNEMO_API_LISTEN_ADDR" envDefault:"127.0.0.1:8087"`

	// Default user for single-user front ends (chat TUI, telegram).
	DefaultUserID int64 `env:"MNEMO_DEFAULT_USER_ID" envDefault:"1"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse app config")
	}
	return c
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.RuntimePath, "mnemo.db")
}

func (c AppConfig) GetPersonaPath() string {
	return filepath.Join(c.RuntimePath, "PERSONA.md")
}
