package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-provider-session/auth"
	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/jrsteele09/go-provider-session/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.New(reg)
	require.NoError(t, err)

	c.Attempt(autherr.ChannelPrimary, autherr.KindTransport)
	c.Attempt(autherr.ChannelFallback, autherr.KindNone)
	c.Attempt(autherr.ChannelFallback, autherr.KindNone)
	c.Superseded()
	c.Logout(auth.LogoutUnauthorized)
	c.AttemptDuration(150 * time.Millisecond)

	expected := `
# HELP provider_session_attempts_total Authentication channel calls by channel and outcome.
# TYPE provider_session_attempts_total counter
provider_session_attempts_total{channel="fallback",outcome="success"} 2
provider_session_attempts_total{channel="primary",outcome="transport"} 1
# HELP provider_session_logouts_total Transitions to idle by reason.
# TYPE provider_session_logouts_total counter
provider_session_logouts_total{reason="unauthorized"} 1
# HELP provider_session_superseded_total Authentication attempts discarded because a newer event replaced them.
# TYPE provider_session_superseded_total counter
provider_session_superseded_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"provider_session_attempts_total",
		"provider_session_logouts_total",
		"provider_session_superseded_total",
	))
	count, err := testutil.GatherAndCount(reg, "provider_session_attempt_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestNew(t *testing.T) {
	_, err := metrics.New(nil)
	require.Error(t, err)

	reg := prometheus.NewRegistry()
	_, err = metrics.New(reg)
	require.NoError(t, err)
	_, err = metrics.New(reg)
	require.Error(t, err, "registering twice on one registry fails")
}

func TestOutcome(t *testing.T) {
	require.Equal(t, "success", metrics.Outcome(autherr.KindNone))
	require.Equal(t, "unauthorized", metrics.Outcome(autherr.KindUnauthorized))
}
