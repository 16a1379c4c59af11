package config

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-provider-session/internal/errors"
)

type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreFile   StoreBackend = "file"
	StoreRedis  StoreBackend = "redis"
)

type StoreConfig interface {
	GetStoreBackend() StoreBackend
	GetStoreFile() string
	GetStoreSealKey() string
	GetRedisURL() string
	GetRedisPrefix() string
	GetRedisTTL() time.Duration
}

type Store struct {
	Backend     string        `env:"STORE_BACKEND"  envDefault:"memory"`
	File        string        `env:"STORE_FILE"     envDefault:"./data/session.json"`
	SealKey     string        `env:"STORE_SEAL_KEY"`
	RedisURL    string        `env:"REDIS_URL"      envDefault:"redis://localhost:6379/0"`
	RedisPrefix string        `env:"REDIS_PREFIX"   envDefault:"provider-session"`
	RedisTTL    time.Duration `env:"REDIS_TTL"      envDefault:"0s"`
}

var _ StoreConfig = Store{}

func (s Store) validate() error {
	switch s.GetStoreBackend() {
	case StoreMemory, StoreFile, StoreRedis:
		return nil
	}
	return errors.Wrapf(errors.ErrInvalidConfig, "unknown STORE_BACKEND %q", s.Backend)
}

func (s Store) GetStoreBackend() StoreBackend {
	return StoreBackend(strings.ToLower(s.Backend))
}

func (s Store) GetStoreFile() string {
	return s.File
}

// GetStoreSealKey is the hex encoded secretbox key for the file store; empty stores plain JSON.
func (s Store) GetStoreSealKey() string {
	return s.SealKey
}

func (s Store) GetRedisURL() string {
	return s.RedisURL
}

func (s Store) GetRedisPrefix() string {
	return s.RedisPrefix
}

func (s Store) GetRedisTTL() time.Duration {
	return s.RedisTTL
}
