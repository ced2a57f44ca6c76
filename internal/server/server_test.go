package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/scenegen/internal/config"
	"github.com/yourorg/scenegen/pkg/types"
)

type mockRunner struct {
	RunFunc func(ctx context.Context, topic string) (*types.RunResult, error)
	calls   int
}

func (m *mockRunner) Run(ctx context.Context, topic string) (*types.RunResult, error) {
	m.calls++
	return m.RunFunc(ctx, topic)
}

type mockSnapshots struct {
	scenes     map[string]*types.Scene
	err        error
	pingErr    error
	down       bool
	reconnects int
}

func (m *mockSnapshots) Get(_ context.Context, id string) (*types.Scene, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	s, ok := m.scenes[id]
	return s, ok, nil
}

func (m *mockSnapshots) Ping(context.Context) error { return m.pingErr }

func (m *mockSnapshots) Available() bool { return !m.down }

func (m *mockSnapshots) Reconnect(context.Context) error {
	m.reconnects++
	if m.pingErr != nil {
		return m.pingErr
	}
	m.down = false
	return nil
}

type mockRecords struct {
	scenes    []types.Scene
	lastLimit int
	err       error
}

func (m *mockRecords) Get(_ context.Context, id string) (*types.Scene, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.scenes {
		if m.scenes[i].ID == id {
			return &m.scenes[i], nil
		}
	}
	return nil, types.ErrNotFound
}

func (m *mockRecords) List(_ context.Context, limit int) ([]types.Scene, error) {
	m.lastLimit = limit
	return m.scenes, m.err
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, runner *mockRunner, snaps *mockSnapshots, recs *mockRecords) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()
	srv, err := New(cfg, runner, snaps, recs, nil)
	require.NoError(t, err)
	return srv
}

func okRunner() *mockRunner {
	return &mockRunner{RunFunc: func(context.Context, string) (*types.RunResult, error) {
		return &types.RunResult{SessionID: "sess-1", Status: types.RunStatusGeneratedAndNotified}, nil
	}}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGenerate(t *testing.T) {
	runner := okRunner()
	var gotTopic string
	var ctxErr error
	runner.RunFunc = func(ctx context.Context, topic string) (*types.RunResult, error) {
		gotTopic = topic
		ctxErr = ctx.Err()
		return &types.RunResult{SessionID: "sess-1", Status: types.RunStatusGeneratedAndNotified}, nil
	}
	srv := newTestServer(t, runner, &mockSnapshots{}, &mockRecords{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/generate", map[string]string{"topic": "Pythagorean theorem"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, map[string]string{"session_id": "sess-1", "status": "generated_and_notified"}, body)
	assert.Equal(t, "Pythagorean theorem", gotTopic)
	assert.NoError(t, ctxErr)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGenerateDetachesRequestCancellation(t *testing.T) {
	runner := okRunner()
	var done <-chan struct{}
	runner.RunFunc = func(ctx context.Context, _ string) (*types.RunResult, error) {
		done = ctx.Done()
		return &types.RunResult{SessionID: "s", Status: types.RunStatusGeneratedAndNotified}, nil
	}
	srv := newTestServer(t, runner, &mockSnapshots{}, &mockRecords{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", bytes.NewBufferString(`{"topic":"limits"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, done)
}

func TestGenerateRejectsEmptyTopic(t *testing.T) {
	for _, body := range []any{map[string]string{"topic": ""}, map[string]string{"topic": "  "}, map[string]string{}} {
		runner := okRunner()
		srv := newTestServer(t, runner, &mockSnapshots{}, &mockRecords{})

		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/generate", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, runner.calls)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "ValidationError", resp["error"])
		assert.NotEmpty(t, resp["request_id"])
	}
}

func TestGenerateInvalidJSON(t *testing.T) {
	runner := okRunner()
	srv := newTestServer(t, runner, &mockSnapshots{}, &mockRecords{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, runner.calls)
}

func TestGenerateHidesCoreErrors(t *testing.T) {
	for _, cause := range []error{types.ErrGeneration, types.ErrCacheUnavailable, types.ErrPersistence} {
		runner := &mockRunner{RunFunc: func(context.Context, string) (*types.RunResult, error) {
			return nil, errors.Join(cause, errors.New("secret upstream detail"))
		}}
		srv := newTestServer(t, runner, &mockSnapshots{}, &mockRecords{})

		rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/generate", map[string]string{"topic": "t"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "secret upstream detail")
	}
}

func TestSession(t *testing.T) {
	scene := types.NewScene("limits", "code", time.Now())
	srv := newTestServer(t, okRunner(), &mockSnapshots{scenes: map[string]*types.Scene{"s1": scene}}, &mockRecords{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.Scene
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "limits", got.Topic)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionCacheError(t *testing.T) {
	srv := newTestServer(t, okRunner(), &mockSnapshots{err: types.ErrCacheUnavailable}, &mockRecords{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/sessions/s1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestScenes(t *testing.T) {
	recs := &mockRecords{scenes: []types.Scene{{ID: "r1", Topic: "a", GeneratedCode: "c", Status: types.StatusGenerated}}}
	srv := newTestServer(t, okRunner(), &mockSnapshots{}, recs)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/scenes?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Scenes []types.Scene `json:"scenes"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Scenes, 1)
	assert.Equal(t, "r1", body.Scenes[0].ID)
	assert.Equal(t, 5, recs.lastLimit)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/scenes?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/scenes/r1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/scenes/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	snaps := &mockSnapshots{}
	srv := newTestServer(t, okRunner(), snaps, &mockRecords{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, snaps.reconnects)

	snaps.pingErr = types.ErrCacheUnavailable
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthRevivesSpentCache(t *testing.T) {
	snaps := &mockSnapshots{down: true, pingErr: types.ErrCacheUnavailable}
	srv := newTestServer(t, okRunner(), snaps, &mockRecords{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1, snaps.reconnects)
	assert.True(t, snaps.down)

	snaps.pingErr = nil
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, snaps.reconnects)
	assert.False(t, snaps.down)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, okRunner(), &mockSnapshots{}, &mockRecords{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/generate", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewRejectsNilDeps(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	_, err := New(cfg, nil, &mockSnapshots{}, &mockRecords{}, nil)
	assert.Error(t, err)
}
