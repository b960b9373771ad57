package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kholt/instance-keepalive/internal/clock/system"
	"github.com/kholt/instance-keepalive/internal/config"
	idgen "github.com/kholt/instance-keepalive/internal/id/uuid"
	"github.com/kholt/instance-keepalive/internal/runner"
)

type fakeSession struct {
	navErr error
	block  chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) Navigate(ctx context.Context, _ string) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.navErr
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

type fakeBrowser struct {
	session *fakeSession
}

func (b *fakeBrowser) Open(_ context.Context) (runner.Session, error) {
	return b.session, nil
}

func newTestServer(session *fakeSession) (*Server, *runner.Runner) {
	cfg := config.Config{
		Server: config.ServerConfig{Port: 8080},
		Auth:   config.AuthConfig{Token: "sekrit"},
		Visit:  config.VisitConfig{StayMinutes: 14, NavTimeoutSeconds: 120},
	}
	run := runner.New(
		&fakeBrowser{session: session},
		system.New(),
		idgen.New(),
		runner.Config{
			Token:      cfg.Auth.Token,
			DefaultURL: "https://default.test",
			Stay:       cfg.StayDuration(),
			NavTimeout: cfg.NavTimeout(),
		},
		zap.NewNop(),
	)
	return NewServer(run, cfg, zap.NewNop()), run
}

func get(t *testing.T, server *Server, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&fakeSession{})
	rec := get(t, server, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestStatusBeforeFirstVisit(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&fakeSession{})
	rec := get(t, server, "/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, false, got["running"])
	require.Nil(t, got["lastRunAt"])
	require.Nil(t, got["lastError"])
	require.EqualValues(t, 14, got["stayMinutes"])
}

func TestRunRejectsMissingOrWrongToken(t *testing.T) {
	t.Parallel()

	server, run := newTestServer(&fakeSession{})

	rec := get(t, server, "/run?url=https://a.test", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "unauthorized")

	rec = get(t, server, "/run?token=wrong&url=https://a.test", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	snap := run.Status()
	require.False(t, snap.Running)
	require.Nil(t, snap.LastRunAt)
}

func TestRunAcceptsBearerToken(t *testing.T) {
	t.Parallel()

	server, run := newTestServer(&fakeSession{})

	header := http.Header{}
	header.Set("Authorization", "Bearer sekrit")
	rec := get(t, server, "/run?url=https://a.test&stay=0", header)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, run.Wait(context.Background()))
}

func TestRunRejectsInvalidStay(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&fakeSession{})

	rec := get(t, server, "/run?token=sekrit&stay=soon", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, server, "/run?token=sekrit&stay=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunTriggersVisitAndStatusReflectsIt(t *testing.T) {
	t.Parallel()

	server, run := newTestServer(&fakeSession{})

	rec := get(t, server, "/run?token=sekrit&url=https://a.test&stay=0", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.Equal(t, true, accepted["accepted"])
	require.Equal(t, "https://a.test", accepted["url"])
	require.EqualValues(t, 0, accepted["stayMinutes"])
	require.NotEmpty(t, accepted["visitId"])

	require.NoError(t, run.Wait(context.Background()))

	rec = get(t, server, "/status", nil)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, false, status["running"])
	require.Equal(t, "https://a.test", status["lastUrl"])
	require.Nil(t, status["lastError"])
	require.NotNil(t, status["lastFinishedAt"])
}

func TestSecondRunWhileBusyIsNotAccepted(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server, run := newTestServer(&fakeSession{block: release})

	rec := get(t, server, "/run?token=sekrit&url=https://a.test&stay=0", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"accepted":true`)

	rec = get(t, server, "/run?token=sekrit&url=https://b.test", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var busy map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &busy))
	require.Equal(t, false, busy["accepted"])
	require.Equal(t, "already running", busy["reason"])

	close(release)
	require.NoError(t, run.Wait(context.Background()))
}

func TestRootRouteAlsoTriggers(t *testing.T) {
	t.Parallel()

	server, run := newTestServer(&fakeSession{})

	rec := get(t, server, "/?token=sekrit&url=https://a.test&stay=0", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"accepted":true`)
	require.NoError(t, run.Wait(context.Background()))
}

func TestRunWithoutResolvableURL(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Server: config.ServerConfig{Port: 8080},
		Auth:   config.AuthConfig{Token: "sekrit"},
		Visit:  config.VisitConfig{StayMinutes: 14, NavTimeoutSeconds: 120},
	}
	run := runner.New(
		&fakeBrowser{session: &fakeSession{}},
		system.New(),
		idgen.New(),
		runner.Config{Token: cfg.Auth.Token, Stay: cfg.StayDuration()},
		zap.NewNop(),
	)
	server := NewServer(run, cfg, zap.NewNop())

	rec := get(t, server, "/run?token=sekrit", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "no target url")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&fakeSession{})
	rec := get(t, server, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeaderSet(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(&fakeSession{})
	rec := get(t, server, "/healthz", nil)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	// A second request gets a fresh ID.
	rec2 := get(t, server, "/healthz", nil)
	require.NotEqual(t, rec.Header().Get("X-Request-ID"), rec2.Header().Get("X-Request-ID"))
}

func TestStatusReadableMidVisit(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server, run := newTestServer(&fakeSession{block: release})

	rec := get(t, server, "/run?token=sekrit&url=https://a.test&stay=0", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The running flag is set before the trigger response is written, so the
	// very next status read must observe it.
	rec = get(t, server, "/status", nil)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, true, status["running"])
	require.Equal(t, "https://a.test", status["lastUrl"])

	close(release)
	require.NoError(t, run.Wait(context.Background()))
}
