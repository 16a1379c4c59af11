package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidURL = errors.New("invalid redis connection url")
	ErrNotReady   = errors.New("redis is not ready")
)

// ConnectConfig controls how Connect waits for the server.
type ConnectConfig struct {
	URL            string
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
}

// Connect parses cfg.URL and pings until the server answers or the attempts run out.
func Connect(ctx context.Context, cfg ConnectConfig) (*redis.Client, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	attempts := max(cfg.RetryAttempts, 1)

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidURL, err.Error())
	}

	for i := range attempts {
		client := redis.NewClient(opts)
		err := client.Ping(ctx).Err()
		if err == nil {
			return client, nil
		}
		_ = client.Close()
		log.Warn().Err(err).Int("attempt", i+1).Msg("redis not ready")

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ErrNotReady, ctx.Err().Error())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrNotReady
}
