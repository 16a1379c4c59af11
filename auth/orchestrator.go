// Package auth is the session orchestrator: it owns the session state, runs the two-channel
// authentication protocol for lifecycle events, and is the only writer of the provider client
// binder and the persisted session.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/jrsteele09/go-provider-session/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Orchestrator is the single writer of the session state. Each login bumps a generation
// counter and cancels the previous attempt; an attempt whose generation is stale when it
// completes is discarded without touching state, binder or store.
type Orchestrator struct {
	primary  PrimaryChannel
	fallback FallbackChannel
	binder   CredentialBinder
	store    session.Store

	logger          zerolog.Logger
	recorder        Recorder
	nowTime         func() time.Time
	primaryTimeout  time.Duration
	fallbackTimeout time.Duration
	storeTimeout    time.Duration
	renewBefore     time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc

	// storeMu orders store IO; it is always taken before mu, never while holding it
	storeMu sync.Mutex

	mu            sync.Mutex
	closed        bool
	generation    uint64
	status        Status
	current       *session.Session
	lastErr       error
	cancelAttempt context.CancelFunc
	renewTimer    *time.Timer
	inflight      chan struct{}
	subs          map[uint64]chan State
	nextSubID     uint64
}

// NewOrchestrator initializes a new Orchestrator with required dependencies.
func NewOrchestrator(deps Deps, options ...OrchestratorOption) (*Orchestrator, error) {
	if deps.Primary == nil {
		return nil, errors.New("[NewOrchestrator] Primary channel is required")
	}
	if deps.Fallback == nil {
		return nil, errors.New("[NewOrchestrator] Fallback channel is required")
	}
	if deps.Binder == nil {
		return nil, errors.New("[NewOrchestrator] Binder is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewOrchestrator] Store is required")
	}

	o := &Orchestrator{
		primary:         deps.Primary,
		fallback:        deps.Fallback,
		binder:          deps.Binder,
		store:           deps.Store,
		logger:          zerolog.Nop(),
		recorder:        nopRecorder{},
		nowTime:         time.Now,
		primaryTimeout:  defaultChannelTimeout,
		fallbackTimeout: defaultChannelTimeout,
		storeTimeout:    defaultStoreTimeout,
		renewBefore:     defaultRenewBefore,
		status:          StatusIdle,
		subs:            make(map[uint64]chan State),
	}

	for _, opt := range options {
		opt(o)
	}

	o.rootCtx, o.rootCancel = context.WithCancel(context.Background())
	return o, nil
}

// Login starts an authentication attempt for the event's credential, superseding any attempt
// still in flight. It returns once the credential is bound; the outcome is published to
// subscribers.
func (o *Orchestrator) Login(ev LoginEvent) error {
	if ev.ProviderToken == "" {
		return ProviderTokenRequiredErr
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return OrchestratorClosedErr
	}
	o.startLocked(ev.AppToken, ev.credential(), "login")
	return nil
}

// RestoreFrom starts an attempt from persisted fields. It only acts from Idle with both an app
// token and a provider token present, and reports whether an attempt was started.
func (o *Orchestrator) RestoreFrom(ev RestoreEvent) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false, OrchestratorClosedErr
	}
	if o.status != StatusIdle || ev.AppToken == "" || ev.ProviderToken == "" {
		return false, nil
	}
	cred := session.NewCredential(ev.ProviderToken, ev.ProviderTokenType, ev.ProviderScope)
	o.startLocked(ev.AppToken, cred, "restore")
	return true, nil
}

// Restore reads the store and restores from it. An empty store is a no-op.
func (o *Orchestrator) Restore(ctx context.Context) (bool, error) {
	s, err := o.store.Read(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "[Orchestrator.Restore] store.Read")
	}
	return o.RestoreFrom(RestoreEventFrom(s))
}

func (o *Orchestrator) startLocked(appToken string, cred session.Credential, trigger string) {
	if o.cancelAttempt != nil {
		o.cancelAttempt()
	}
	o.stopRenewLocked()
	o.generation++

	ctx, cancel := context.WithCancel(o.rootCtx)
	done := make(chan struct{})
	o.cancelAttempt = cancel
	o.inflight = done

	o.binder.Bind(cred)
	o.status = StatusAuthenticating
	o.current = nil
	o.lastErr = nil
	o.publishLocked()

	at := &attempt{
		id:         uuid.NewString(),
		generation: o.generation,
		appToken:   appToken,
		cred:       cred,
	}
	at.logger = o.logger.With().
		Str("attempt_id", at.id).
		Uint64("generation", at.generation).
		Str("token", cred.Fingerprint()).
		Logger()
	at.logger.Debug().Str("trigger", trigger).Msg("authentication attempt started")

	go o.run(ctx, cancel, at, done)
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, at *attempt, done chan struct{}) {
	defer func() {
		o.mu.Lock()
		if o.inflight == done {
			o.inflight = nil
		}
		o.mu.Unlock()
		close(done)
	}()
	defer cancel()

	started := time.Now()
	s, err := o.authenticate(ctx, at)
	o.recorder.AttemptDuration(time.Since(started))
	o.complete(at, s, err)
}

// bindFor rebinds the attempt's credential unless the attempt has been superseded.
func (o *Orchestrator) bindFor(at *attempt) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || at.generation != o.generation {
		return false
	}
	o.binder.Bind(at.cred)
	return true
}

func (o *Orchestrator) complete(at *attempt, s *session.Session, err error) {
	o.mu.Lock()

	if o.closed || at.generation != o.generation {
		o.mu.Unlock()
		o.recorder.Superseded()
		at.logger.Debug().Msg("discarding superseded attempt")
		return
	}
	o.cancelAttempt = nil

	if err == nil {
		o.binder.Bind(s.Credential)
		o.status = StatusAuthenticated
		o.current = s
		o.lastErr = nil
		o.scheduleRenewLocked(s, at.logger)
		at.logger.Info().
			Str("login", s.Principal.Login).
			Bool("app_token", s.HasAppToken()).
			Msg("authenticated")
		o.publishLocked()
		o.mu.Unlock()

		o.persist(at.generation, s.Clone(), at.logger)
		return
	}

	kind := autherr.Classify(err)
	o.binder.Unbind()
	o.status = StatusUnauthenticated
	o.current = nil
	o.lastErr = err
	if kind == autherr.KindUnauthorized {
		o.recorder.Logout(LogoutUnauthorized)
		at.logger.Error().Err(err).Str("kind", kind.String()).Msg("credential rejected")
	} else {
		at.logger.Warn().Err(err).Str("kind", kind.String()).Msg("authentication failed")
	}
	o.publishLocked()
	o.mu.Unlock()

	if kind == autherr.KindUnauthorized {
		if err := o.clearStore(context.Background()); err != nil {
			at.logger.Err(err).Msg("failed to clear persisted session")
		}
	}
}

// Logout unbinds the credential, clears the persisted session and returns to Idle. It is safe
// to call from any state and any number of times. The in-memory effect is complete on return
// even when clearing the store fails.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.mu.Lock()
	o.logoutLocked(LogoutExplicit, nil)
	o.mu.Unlock()

	if err := o.clearStore(ctx); err != nil {
		o.logger.Err(err).Msg("failed to clear persisted session")
		return errors.Wrap(err, "[Orchestrator.Logout] store.Clear")
	}
	return nil
}

// logoutLocked applies the in-memory half of a logout. Callers clear the store after releasing mu.
func (o *Orchestrator) logoutLocked(reason string, cause error) {
	o.generation++
	if o.cancelAttempt != nil {
		o.cancelAttempt()
		o.cancelAttempt = nil
	}
	o.stopRenewLocked()
	o.binder.Unbind()

	live := o.status != StatusIdle
	o.status = StatusIdle
	o.current = nil
	o.lastErr = cause
	if live {
		o.recorder.Logout(reason)
		o.logger.Info().Str("reason", reason).Msg("logged out")
	}
	o.publishLocked()
}

// ReportFailure routes a failure observed by any provider-facing collaborator through the
// shared classifier. An unauthorized failure always logs out, which also drops a persisted
// session left behind by an earlier recoverable failure; a recoverable one is only surfaced as
// the last error. Reports naming a credential other than the bound one are ignored.
func (o *Orchestrator) ReportFailure(ctx context.Context, f Failure) autherr.Kind {
	kind := autherr.Classify(f.Err)
	if kind == autherr.KindNone {
		return kind
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return kind
	}

	logger := o.logger.With().Str("source", f.Source).Str("kind", kind.String()).Logger()

	bound, ok := o.binder.Current()
	if f.Token != "" && (!ok || bound.ProviderToken != f.Token) {
		o.mu.Unlock()
		logger.Debug().Msg("ignoring failure for a credential that is no longer bound")
		return kind
	}

	if kind != autherr.KindUnauthorized {
		logger.Warn().Err(f.Err).Msg("collaborator reported a recoverable failure")
		o.lastErr = f.Err
		o.publishLocked()
		o.mu.Unlock()
		return kind
	}

	if ok {
		logger.Warn().Err(f.Err).Str("token", bound.Fingerprint()).Msg("collaborator observed a rejected credential")
	}
	o.logoutLocked(LogoutUnauthorized, f.Err)
	o.mu.Unlock()

	if err := o.clearStore(ctx); err != nil {
		logger.Err(err).Msg("failed to clear persisted session")
	}
	return kind
}

// DetectedUnauthenticated reports a provider rejection seen by source with the given payload.
func (o *Orchestrator) DetectedUnauthenticated(ctx context.Context, source string, payload autherr.Payload) autherr.Kind {
	return o.ReportFailure(ctx, Failure{
		Source: source,
		Err:    &autherr.UnauthorizedError{Channel: source, Payload: payload},
	})
}

// State returns a snapshot of the current session state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Wait blocks until no authentication attempt is in flight or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		inflight := o.inflight
		o.mu.Unlock()

		if inflight == nil {
			return nil
		}
		select {
		case <-inflight:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels any in-flight attempt and closes every subscription. Later events are
// rejected with OrchestratorClosedErr.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.generation++
	if o.cancelAttempt != nil {
		o.cancelAttempt()
		o.cancelAttempt = nil
	}
	o.stopRenewLocked()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
	o.mu.Unlock()

	o.rootCancel()
}

func (o *Orchestrator) snapshotLocked() State {
	return State{
		Status:        o.status,
		Loading:       o.status == StatusAuthenticating,
		Session:       o.current.Clone(),
		LastError:     o.lastErr,
		LastErrorKind: autherr.Classify(o.lastErr),
		Generation:    o.generation,
	}
}

func (o *Orchestrator) storeContext(parent context.Context) (context.Context, context.CancelFunc) {
	if o.storeTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.storeTimeout)
}

// persist writes s unless a later event has moved the generation on. Holding storeMu across the
// check and the write keeps a logout's clear from being overtaken by an older write.
func (o *Orchestrator) persist(generation uint64, s *session.Session, logger zerolog.Logger) {
	o.storeMu.Lock()
	defer o.storeMu.Unlock()

	o.mu.Lock()
	current := !o.closed && o.generation == generation
	o.mu.Unlock()
	if !current {
		logger.Debug().Msg("skipping persist for a superseded session")
		return
	}

	ctx, cancel := o.storeContext(context.Background())
	defer cancel()
	if err := o.store.Write(ctx, s); err != nil {
		logger.Err(err).Msg("failed to persist session")
	}
}

func (o *Orchestrator) clearStore(ctx context.Context) error {
	o.storeMu.Lock()
	defer o.storeMu.Unlock()

	ctx, cancel := o.storeContext(ctx)
	defer cancel()
	return o.store.Clear(ctx)
}

// scheduleRenewLocked arms a re-run of the protocol ahead of the app token's expiry.
func (o *Orchestrator) scheduleRenewLocked(s *session.Session, logger zerolog.Logger) {
	if o.renewBefore < 0 || s.AppTokenExpiresAt.IsZero() {
		return
	}
	delay := s.AppTokenExpiresAt.Add(-o.renewBefore).Sub(o.nowTime())
	if delay <= 0 {
		logger.Warn().Time("expires_at", s.AppTokenExpiresAt).Msg("app token expires too soon to schedule a renewal")
		return
	}

	generation := o.generation
	o.renewTimer = time.AfterFunc(delay, func() {
		o.renew(generation)
	})
	logger.Debug().Dur("in", delay).Msg("app token renewal scheduled")
}

func (o *Orchestrator) renew(generation uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.generation != generation || o.status != StatusAuthenticated || o.current == nil {
		return
	}
	o.renewTimer = nil
	o.startLocked(o.current.AppToken, o.current.Credential.Clone(), triggerRenew)
}

func (o *Orchestrator) stopRenewLocked() {
	if o.renewTimer != nil {
		o.renewTimer.Stop()
		o.renewTimer = nil
	}
}
