// Package metrics exposes the orchestrator's counters to Prometheus.
package metrics

import (
	"time"

	"github.com/jrsteele09/go-provider-session/auth"
	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "provider_session"

var _ auth.Recorder = (*Collector)(nil)

// Collector implements auth.Recorder with Prometheus vectors.
type Collector struct {
	attempts   *prometheus.CounterVec
	superseded prometheus.Counter
	logouts    *prometheus.CounterVec
	duration   prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		return nil, errors.New("[metrics.New] registerer is required")
	}

	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Authentication channel calls by channel and outcome.",
		}, []string{"channel", "outcome"}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "superseded_total",
			Help:      "Authentication attempts discarded because a newer event replaced them.",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Transitions to idle by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of complete authentication protocol runs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, collector := range []prometheus.Collector{c.attempts, c.superseded, c.logouts, c.duration} {
		if err := reg.Register(collector); err != nil {
			return nil, errors.Wrap(err, "[metrics.New] Register")
		}
	}
	return c, nil
}

// Outcome is the attempts_total label for kind.
func Outcome(kind autherr.Kind) string {
	if kind == autherr.KindNone {
		return "success"
	}
	return kind.String()
}

func (c *Collector) Attempt(channel string, kind autherr.Kind) {
	c.attempts.WithLabelValues(channel, Outcome(kind)).Inc()
}

func (c *Collector) AttemptDuration(d time.Duration) {
	c.duration.Observe(d.Seconds())
}

func (c *Collector) Superseded() {
	c.superseded.Inc()
}

func (c *Collector) Logout(reason string) {
	c.logouts.WithLabelValues(reason).Inc()
}
