package auth

import (
	"time"

	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/rs/zerolog"
)

const (
	defaultChannelTimeout = 10 * time.Second
	defaultStoreTimeout   = 5 * time.Second
	defaultRenewBefore    = time.Minute
)

// Logout reasons reported to the Recorder.
const (
	LogoutExplicit     = "explicit"
	LogoutUnauthorized = "unauthorized"
)

const triggerRenew = "renew"

// Recorder receives operational counters. Implementations must not block.
type Recorder interface {
	// Attempt records one channel call; KindNone is a success
	Attempt(channel string, kind autherr.Kind)
	// AttemptDuration records a complete protocol run
	AttemptDuration(d time.Duration)
	// Superseded records an attempt whose result was discarded
	Superseded()
	// Logout records a transition to Idle from a live or pending session
	Logout(reason string)
}

type nopRecorder struct{}

func (nopRecorder) Attempt(string, autherr.Kind)  {}
func (nopRecorder) AttemptDuration(time.Duration) {}
func (nopRecorder) Superseded()                   {}
func (nopRecorder) Logout(string)                 {}

// OrchestratorOption defines a function type to modify the Orchestrator instance.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.nowTime = nowFunc
	}
}

// WithTimeouts bounds each primary and fallback call. Zero disables the bound.
func WithTimeouts(primary, fallback time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.primaryTimeout = primary
		o.fallbackTimeout = fallback
	}
}

// WithStoreTimeout bounds store writes and clears made from attempt completions.
func WithStoreTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.storeTimeout = d
	}
}

// WithRenewBefore re-runs the protocol this long before the app token's expiry. A negative value
// disables renewal.
func WithRenewBefore(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.renewBefore = d
	}
}
