package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jrsteele09/go-provider-session/auth"
	"github.com/jrsteele09/go-provider-session/auth/channelfakes"
	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/jrsteele09/go-provider-session/internal/config"
	"github.com/jrsteele09/go-provider-session/internal/metrics"
	"github.com/jrsteele09/go-provider-session/provider"
	"github.com/jrsteele09/go-provider-session/server"
	"github.com/jrsteele09/go-provider-session/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	primary *channelfakes.FakePrimary
	binder  *provider.Binder
	store   *session.InMemoryStore
	orch    *auth.Orchestrator
	srv     *server.Server
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	t.Setenv("ENV", "TEST")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	cfg, err := config.New()
	require.NoError(t, err)

	binder := provider.NewBinder()
	f := &testFixture{
		primary: channelfakes.NewFakePrimary(),
		binder:  binder,
		store:   session.NewInMemoryStore(),
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	require.NoError(t, err)

	f.orch, err = auth.NewOrchestrator(auth.Deps{
		Primary:  f.primary,
		Fallback: channelfakes.NewFakeFallback(binder),
		Binder:   binder,
		Store:    f.store,
	}, auth.WithRecorder(collector), auth.WithTimeouts(time.Second, time.Second))
	require.NoError(t, err)
	t.Cleanup(f.orch.Close)

	f.srv, err = server.New(cfg, f.orch, server.WithMetrics(reg))
	require.NoError(t, err)
	return f
}

func (f *testFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *testFixture) settle(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Wait(ctx))
}

func (f *testFixture) login(t *testing.T, token string) {
	t.Helper()

	f.primary.On(token, channelfakes.Result{Session: &session.Session{
		AppToken:  "app-" + token,
		Principal: session.Principal{ID: "42", Login: "octocat"},
	}})
	rec := f.do(t, http.MethodPost, server.RouteSessionLogin, `{"providerToken":"`+token+`","providerScope":["repo"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.settle(t)
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) server.StateResponse {
	t.Helper()

	var st server.StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

type classification struct {
	Kind  string               `json:"kind"`
	State server.StateResponse `json:"state"`
}

func decodeClassification(t *testing.T, rec *httptest.ResponseRecorder) classification {
	t.Helper()

	var c classification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return c
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNew(t *testing.T) {
	cfg, err := config.New()
	require.NoError(t, err)

	_, err = server.New(nil, nil)
	require.Error(t, err)

	_, err = server.New(cfg, nil)
	require.Error(t, err)
}

func TestServer_Routes(t *testing.T) {
	f := setupTestFixture(t)

	routes := f.srv.Routes()
	require.Contains(t, routes, "GET "+server.RouteSession)
	require.Contains(t, routes, "GET "+server.RouteSessionWatch)
	require.Contains(t, routes, "POST "+server.RouteSessionLogin)
	require.Contains(t, routes, "GET "+server.RouteMetrics)
}

func TestSessionStateHandler(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("idle before any event", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, server.RouteSession, "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

		st := decodeState(t, rec)
		require.Equal(t, "idle", st.State)
		require.False(t, st.Loading)
		require.Nil(t, st.Session)
		require.Nil(t, st.LastError)
	})

	t.Run("authenticated session is redacted", func(t *testing.T) {
		f.login(t, "gho_secret")

		rec := f.do(t, http.MethodGet, server.RouteSession, "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotContains(t, rec.Body.String(), "gho_secret")
		require.NotContains(t, rec.Body.String(), "app-gho_secret")

		st := decodeState(t, rec)
		require.Equal(t, "authenticated", st.State)
		require.NotNil(t, st.Session)
		require.Equal(t, "octocat", st.Session.Principal.Login)
		require.Equal(t, "redacted", st.Session.AppToken)
		require.Equal(t, []string{"repo"}, st.Session.Credential.Scope)
	})
}

func TestLoginHandler(t *testing.T) {
	t.Run("starts an attempt", func(t *testing.T) {
		f := setupTestFixture(t)
		gate := make(chan struct{})
		f.primary.On("tok", channelfakes.Result{
			Session: &session.Session{AppToken: "app", Principal: session.Principal{ID: "1", Login: "octocat"}},
			Gate:    gate,
		})

		rec := f.do(t, http.MethodPost, server.RouteSessionLogin, `{"appToken":"app","providerToken":"tok","providerTokenType":"bearer"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		st := decodeState(t, rec)
		require.Equal(t, "authenticating", st.State)
		require.True(t, st.Loading)

		cred, ok := f.binder.Current()
		require.True(t, ok)
		require.Equal(t, "tok", cred.ProviderToken)
		require.Equal(t, "bearer", cred.TokenType)

		close(gate)
		f.settle(t)
		require.Equal(t, auth.StatusAuthenticated, f.orch.State().Status)
	})

	t.Run("provider token required", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(t, http.MethodPost, server.RouteSessionLogin, `{"appToken":"app"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid_request")
	})

	t.Run("malformed body", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(t, http.MethodPost, server.RouteSessionLogin, `{"providerToken":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		require.Equal(t, "invalid_request", body["error"])
		require.Contains(t, body["error_description"], "malformed request body")
	})

	t.Run("unknown field", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(t, http.MethodPost, server.RouteSessionLogin, `{"providerToken":"tok","password":"x"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("closed orchestrator", func(t *testing.T) {
		f := setupTestFixture(t)
		f.orch.Close()
		rec := f.do(t, http.MethodPost, server.RouteSessionLogin, `{"providerToken":"tok"}`)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decodeError(t, rec)
		require.Equal(t, "unavailable", body["error"])
		require.Contains(t, body["error_description"], auth.OrchestratorClosedErr.Error())
	})
}

func TestLogoutHandler(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "tok")

	rec := f.do(t, http.MethodPost, server.RouteSessionLogout, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, auth.StatusIdle, f.orch.State().Status)

	_, ok := f.binder.Current()
	require.False(t, ok)
	_, err := f.store.Read(context.Background())
	require.ErrorIs(t, err, session.ErrNoSession)

	// Repeated logout is harmless.
	rec = f.do(t, http.MethodPost, server.RouteSessionLogout, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestFailureReportHandler(t *testing.T) {
	t.Run("unauthorized status logs out", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, "tok")

		rec := f.do(t, http.MethodPost, server.RouteSessionFailures, `{"source":"repos","token":"tok","status":401}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		c := decodeClassification(t, rec)
		require.Equal(t, "unauthorized", c.Kind)
		require.Equal(t, "idle", c.State.State)
		require.NotNil(t, c.State.LastError)
		require.Equal(t, "unauthorized", c.State.LastError.Kind)
	})

	t.Run("no response is transport", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, "tok")

		rec := f.do(t, http.MethodPost, server.RouteSessionFailures, `{"source":"repos","message":"connection reset"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		c := decodeClassification(t, rec)
		require.Equal(t, "transport", c.Kind)
		require.Equal(t, "authenticated", c.State.State)
		require.NotNil(t, c.State.LastError)
		require.Contains(t, c.State.LastError.Message, "connection reset")
	})

	t.Run("server error is protocol", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, "tok")

		rec := f.do(t, http.MethodPost, server.RouteSessionFailures, `{"source":"repos","status":503}`)
		c := decodeClassification(t, rec)
		require.Equal(t, "protocol", c.Kind)
		require.Equal(t, "authenticated", c.State.State)
	})

	t.Run("stale token is ignored", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t, "tok")

		rec := f.do(t, http.MethodPost, server.RouteSessionFailures, `{"source":"repos","token":"old","status":401}`)
		c := decodeClassification(t, rec)
		require.Equal(t, "unauthorized", c.Kind)
		require.Equal(t, "authenticated", c.State.State)
	})

	t.Run("source required", func(t *testing.T) {
		f := setupTestFixture(t)
		rec := f.do(t, http.MethodPost, server.RouteSessionFailures, `{"status":401}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "source is required: invalid request", decodeError(t, rec)["error_description"])
	})
}

func TestUnauthenticatedHandler(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "tok")

	body, err := json.Marshal(map[string]any{
		"source": "aggregator",
		"errorPayload": autherr.Payload{Errors: []autherr.PayloadError{{
			Message:    "Not authenticated",
			Extensions: map[string]any{"code": autherr.CodeUnauthenticated},
		}}},
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, server.RouteSessionUnauthenticated, string(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	c := decodeClassification(t, rec)
	require.Equal(t, "unauthorized", c.Kind)
	require.Equal(t, "idle", c.State.State)

	_, ok := f.binder.Current()
	require.False(t, ok)
}

func TestCorsMiddleware(t *testing.T) {
	f := setupTestFixture(t)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, server.RouteSessionLogin, nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("preflight from unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, server.RouteSessionLogin, nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, req)

		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, server.RouteSession, nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		f.srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestOperationsRoutes(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "tok")

	rec := f.do(t, http.MethodGet, server.RouteHealthz, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = f.do(t, http.MethodGet, server.RouteMetrics, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `provider_session_attempts_total{channel="primary",outcome="success"} 1`)
}

func TestSessionWatchHandler(t *testing.T) {
	f := setupTestFixture(t)
	ts := httptest.NewServer(f.srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+server.RouteSessionWatch, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	var st server.StateResponse
	require.NoError(t, wsjson.Read(ctx, conn, &st))
	require.Equal(t, "idle", st.State)

	f.primary.On("tok", channelfakes.Result{Session: &session.Session{
		AppToken:  "app",
		Principal: session.Principal{ID: "42", Login: "octocat"},
	}})
	resp, err := http.Post(ts.URL+server.RouteSessionLogin, "application/json", bytes.NewBufferString(`{"providerToken":"tok"}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Intermediate snapshots may be coalesced; the stream always ends on the latest one.
	for st.State != "authenticated" {
		require.NoError(t, wsjson.Read(ctx, conn, &st))
	}
	require.NotNil(t, st.Session)
	require.Equal(t, "octocat", st.Session.Principal.Login)
	require.Empty(t, st.Session.Credential.ProviderToken)
}

func TestSessionWatchHandler_RejectsForeignOrigin(t *testing.T) {
	f := setupTestFixture(t)
	ts := httptest.NewServer(f.srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+server.RouteSessionWatch, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example.com"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
