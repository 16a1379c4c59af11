package auth

import (
	"context"
	"time"

	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/jrsteele09/go-provider-session/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// attempt is one run of the two-channel protocol.
type attempt struct {
	id         string
	generation uint64
	appToken   string
	cred       session.Credential
	logger     zerolog.Logger
}

// authenticate runs primary then, when the primary failure allows it, fallback. Calls are
// sequential. Every rebind goes through bind, which refuses once the attempt is stale.
func (o *Orchestrator) authenticate(ctx context.Context, at *attempt) (*session.Session, error) {
	if !o.bindFor(at) {
		return nil, SupersededErr
	}

	s, err := callWithTimeout(ctx, o.primaryTimeout, autherr.ChannelPrimary, func(cctx context.Context) (*session.Session, error) {
		return o.primary.Exchange(cctx, at.appToken, at.cred)
	})
	if err == nil {
		err = validPrimary(s)
	}
	if ctx.Err() != nil {
		return nil, SupersededErr
	}
	o.recorder.Attempt(autherr.ChannelPrimary, autherr.Classify(err))

	if err == nil {
		s.Credential = at.cred.Clone()
		s.LastLoginAt = o.nowTime()
		return s, nil
	}
	if autherr.IsFinal(err) {
		return nil, err
	}

	at.logger.Warn().Err(err).Str("kind", autherr.Classify(err).String()).Msg("primary channel failed, trying fallback")

	if !o.bindFor(at) {
		return nil, SupersededErr
	}

	principal, err := callWithTimeout(ctx, o.fallbackTimeout, autherr.ChannelFallback, func(cctx context.Context) (session.Principal, error) {
		return o.fallback.Authenticated(cctx)
	})
	if err == nil && !principal.Valid() {
		err = autherr.Invalid(autherr.ChannelFallback, "principal id and login are required")
	}
	if ctx.Err() != nil {
		return nil, SupersededErr
	}
	o.recorder.Attempt(autherr.ChannelFallback, autherr.Classify(err))
	if err != nil {
		return nil, err
	}

	return &session.Session{
		AppToken:    at.appToken,
		Credential:  at.cred.Clone(),
		Principal:   principal,
		LastLoginAt: o.nowTime(),
	}, nil
}

func validPrimary(s *session.Session) error {
	switch {
	case s == nil:
		return autherr.Invalid(autherr.ChannelPrimary, "empty session")
	case !s.HasAppToken():
		return autherr.Invalid(autherr.ChannelPrimary, "missing app token")
	case !s.Principal.Valid():
		return autherr.Invalid(autherr.ChannelPrimary, "principal id and login are required")
	}
	return nil
}

// callWithTimeout bounds fn by d even if fn ignores its context. A lapsed bound is a
// TransportError; cancellation of ctx itself is returned as ctx.Err().
func callWithTimeout[T any](ctx context.Context, d time.Duration, channel string, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if d > 0 {
		cctx, cancel = context.WithTimeout(ctx, d)
	}
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-cctx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, autherr.Transport(channel, errors.Wrapf(cctx.Err(), "no response within %s", d))
	}
}
