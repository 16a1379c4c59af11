// Package redisstore persists the live session in Redis so it survives process restarts and can
// be shared by replicas of the same deployment.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jrsteele09/go-provider-session/session"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ session.Store = (*Store)(nil)

const keySuffix = "session"

// Store keeps the session as one JSON value under "<prefix>:session".
type Store struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires the persisted session after d. Zero keeps it until cleared.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		s.ttl = d
	}
}

// New creates a Store on client.
func New(client redis.UniversalClient, prefix string, options ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("[redisstore.New] client is required")
	}
	if prefix == "" {
		return nil, errors.New("[redisstore.New] prefix is required")
	}
	s := &Store{
		client: client,
		key:    prefix + ":" + keySuffix,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Key returns the redis key the session lives under.
func (s *Store) Key() string {
	return s.key
}

func (s *Store) Read(ctx context.Context) (*session.Session, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNoSession
	}
	if err != nil {
		return nil, errors.Wrap(err, "[redisstore.Read] GET")
	}

	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.Wrap(err, "[redisstore.Read] json.Unmarshal")
	}
	return &sess, nil
}

func (s *Store) Write(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return session.ErrNilSession
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "[redisstore.Write] json.Marshal")
	}
	if err := s.client.Set(ctx, s.key, raw, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Write] SET")
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Clear] DEL")
	}
	return nil
}
