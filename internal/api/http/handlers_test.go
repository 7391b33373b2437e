package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termdeck/backend/internal/domain/console"
	"github.com/termdeck/backend/internal/infrastructure/config"
	"github.com/termdeck/backend/internal/persistence"
	"github.com/termdeck/backend/internal/transport"
)

type stubStore struct{ records []persistence.Record }

func (s *stubStore) Load() ([]persistence.Record, error) { return s.records, nil }
func (s *stubStore) Save(r []persistence.Record) error   { s.records = r; return nil }
func (s *stubStore) Close() error                        { return nil }

type stubTransport struct{}

func (stubTransport) Connect(ctx context.Context) error                { return nil }
func (stubTransport) Submit(ctx context.Context, command string) error { return nil }
func (stubTransport) Ping() error                                      { return nil }
func (stubTransport) Disconnect() error                                { return nil }
func (stubTransport) Close() error                                     { return nil }
func (stubTransport) State() transport.State                           { return transport.StateConnected }
func (stubTransport) RemoteSessionID() string                          { return "" }

func (stubTransport) OnOutput(func(transport.OutputEvent)) transport.Disposer {
	return func() {}
}
func (stubTransport) OnError(func(transport.ErrorEvent)) transport.Disposer {
	return func() {}
}
func (stubTransport) OnExecuting(func(transport.ExecutingEvent)) transport.Disposer {
	return func() {}
}
func (stubTransport) OnConnect(func(transport.ConnectEvent)) transport.Disposer {
	return func() {}
}
func (stubTransport) OnDisconnect(func(transport.DisconnectEvent)) transport.Disposer {
	return func() {}
}
func (stubTransport) OnHistory(func(transport.HistoryEvent)) transport.Disposer {
	return func() {}
}
func (stubTransport) OnPong(func(transport.PongEvent)) transport.Disposer {
	return func() {}
}

func newTestRouter(t *testing.T) *gin.Engine {
	return newTestRouterWithConfig(t, config.Default())
}

func newTestRouterWithConfig(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := console.New(console.Options{
		Store:       &stubStore{},
		Factory:     func(string) console.Transport { return stubTransport{} },
		Debounce:    time.Minute,
		MaxSessions: cfg.Session.MaxSessions,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	h := NewHandlers(svc, cfg)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/config", h.Config)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.POST("/sessions", h.CreateSession)
	r.DELETE("/sessions/:id", h.CloseSession)
	r.DELETE("/sessions", h.CloseAllSessions)
	r.PATCH("/sessions/:id/name", h.RenameSession)
	r.POST("/sessions/:id/minimize", h.MinimizeSession)
	r.POST("/sessions/:id/focus", h.FocusSession)
	r.POST("/sessions/deactivate", h.DeactivateAll)
	r.PATCH("/sessions/:id/position", h.MoveSession)
	r.PATCH("/sessions/:id/size", h.ResizeSession)
	r.POST("/sessions/:id/duplicate", h.DuplicateSession)
	r.POST("/sessions/:id/reset", h.ResetSession)
	r.POST("/sessions/:id/submit", h.Submit)
	return r
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func firstSessionID(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := do(r, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Sessions)
	return resp.Sessions[0].ID
}

func TestListBootstrappedSession(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Session 1")
}

func TestCreateSessionEmptyBody(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "Session 2")
}

func TestCreateSessionNameConflict(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/sessions", gin.H{"name": "Session 1"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already in use")
}

func TestCapacityExhaustedConflict(t *testing.T) {
	r := newTestRouter(t)

	for i := 0; i < 9; i++ {
		w := do(r, http.MethodPost, "/sessions", nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := do(r, http.MethodPost, "/sessions", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUnknownSessionIs404(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/sessions/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/sessions/nope/focus", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/sessions/nope", nil).Code)
}

func TestGetSessionReportsTransportState(t *testing.T) {
	r := newTestRouter(t)
	id := firstSessionID(t, r)

	w := do(r, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TransportState string `json:"transport_state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, transport.StateConnected.String(), resp.TransportState)
}

func TestRenameSession(t *testing.T) {
	r := newTestRouter(t)
	id := firstSessionID(t, r)

	w := do(r, http.MethodPatch, "/sessions/"+id+"/name", gin.H{"name": "deploy"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deploy")

	// missing name is a binding error
	w = do(r, http.MethodPatch, "/sessions/"+id+"/name", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMoveAndResize(t *testing.T) {
	r := newTestRouter(t)
	id := firstSessionID(t, r)

	w := do(r, http.MethodPatch, "/sessions/"+id+"/position", gin.H{"position": gin.H{"x": 50, "y": 60}})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPatch, "/sessions/"+id+"/size", gin.H{"size": gin.H{"width": 900, "height": 500}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "900")
}

func TestCloseLastSessionReportsReplacement(t *testing.T) {
	r := newTestRouter(t)
	id := firstSessionID(t, r)

	w := do(r, http.MethodDelete, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Closed      []string        `json:"closed"`
		Replacement json.RawMessage `json:"replacement"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{id}, resp.Closed)
	assert.NotEqual(t, "null", string(resp.Replacement))
}

func TestSubmitCommand(t *testing.T) {
	r := newTestRouter(t)
	id := firstSessionID(t, r)

	w := do(r, http.MethodPost, "/sessions/"+id+"/submit", gin.H{"command": "uptime"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/sessions/"+id+"/submit", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigConstants(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.EqualValues(t, 10, cfg["max_sessions"])
	assert.EqualValues(t, 5000, cfg["submit_timeout_ms"])
	assert.EqualValues(t, 5, cfg["connect_max_retries"])
	assert.EqualValues(t, 500, cfg["snapshot_debounce_ms"])
}

func TestConfigReflectsRunningValues(t *testing.T) {
	custom := config.Default()
	custom.Session.MaxSessions = 3
	custom.Session.SubmitTimeout = 2 * time.Second
	custom.Storage.Debounce = 250 * time.Millisecond
	r := newTestRouterWithConfig(t, custom)

	w := do(r, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.EqualValues(t, 3, cfg["max_sessions"])
	assert.EqualValues(t, 2000, cfg["submit_timeout_ms"])
	assert.EqualValues(t, 250, cfg["snapshot_debounce_ms"])

	// the capacity the handler reports is the one the service enforces
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/sessions", nil).Code)
	}
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/sessions", nil).Code)
}
