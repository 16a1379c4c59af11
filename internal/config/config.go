package config

import (
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-provider-session/internal/errors"
)

type Config interface {
	EnvConfig
	ChannelConfig
	StoreConfig
	CorsConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	IsDev() bool
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetOriginPatterns() []string
}

type mainConfig struct {
	EnvVars
	Channels
	Store
	Cors
}

var dotenvLoaded sync.Once

// New reads the configuration from the environment, after loading a .env file if one exists.
func New() (Config, error) {
	dotenvLoaded.Do(func() {
		_ = godotenv.Load()
	})

	var cfg mainConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrapf(err, "[config.New] parse env")
	}
	if err := cfg.Store.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
