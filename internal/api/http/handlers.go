package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/termdeck/backend/internal/domain/console"
	"github.com/termdeck/backend/internal/domain/registry"
	"github.com/termdeck/backend/internal/infrastructure/config"
	"github.com/termdeck/backend/internal/shared/types"
	"github.com/termdeck/backend/internal/transport"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	console *console.Service
	config  *config.Config
}

// NewHandlers creates a new handler set.
func NewHandlers(svc *console.Service, cfg *config.Config) *Handlers {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handlers{console: svc, config: cfg}
}

// Root handles health check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termdeck-backend",
		"version": "0.1.0",
	})
}

// Health handles detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.console.Stats(),
	})
}

// Config surfaces the running constants the front-end needs to mirror
// backend behavior.
func (h *Handlers) Config(c *gin.Context) {
	sc := h.config.Session
	c.JSON(http.StatusOK, gin.H{
		"max_sessions":           sc.MaxSessions,
		"submit_timeout_ms":      sc.SubmitTimeout.Milliseconds(),
		"connect_max_retries":    sc.MaxRetries,
		"connect_retry_delay_ms": sc.InitialRetryDelay.Milliseconds(),
		"connect_retry_max_ms":   sc.MaxRetryDelay.Milliseconds(),
		"resume_delay_ms":        sc.ResumeDelay.Milliseconds(),
		"snapshot_debounce_ms":   h.config.Storage.Debounce.Milliseconds(),
	})
}

// ListSessions lists all sessions, oldest first.
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.console.List(),
		"stats":    h.console.Stats(),
	})
}

// GetSession returns one session.
func (h *Handlers) GetSession(c *gin.Context) {
	sess, ok := h.console.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": registry.ErrNotFound.Error()})
		return
	}
	state, _ := h.console.TransportState(sess.ID)
	c.JSON(http.StatusOK, gin.H{
		"session":         sess,
		"transport_state": state.String(),
	})
}

// CreateSession opens a new session.
func (h *Handlers) CreateSession(c *gin.Context) {
	// the body is optional: an empty create gets a default name and
	// staggered position
	var req types.CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sess, err := h.console.CreateSession(req.Name, req.Position)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

// CloseSession closes a session.
func (h *Handlers) CloseSession(c *gin.Context) {
	res, err := h.console.CloseSession(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"closed":      closedIDs(res),
		"replacement": res.Replacement,
	})
}

// CloseAllSessions closes everything and bootstraps a fresh default.
func (h *Handlers) CloseAllSessions(c *gin.Context) {
	res := h.console.CloseAllSessions()
	c.JSON(http.StatusOK, gin.H{
		"closed":      closedIDs(res),
		"replacement": res.Replacement,
	})
}

// RenameSession changes a session's name.
func (h *Handlers) RenameSession(c *gin.Context) {
	var req types.RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.console.RenameSession(c.Param("id"), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// MinimizeSession hides a session.
func (h *Handlers) MinimizeSession(c *gin.Context) {
	h.sessionOp(c, h.console.MinimizeSession)
}

// FocusSession restores and activates a session.
func (h *Handlers) FocusSession(c *gin.Context) {
	h.sessionOp(c, h.console.FocusSession)
}

// DeactivateAll clears focus from every session.
func (h *Handlers) DeactivateAll(c *gin.Context) {
	h.console.DeactivateAll()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MoveSession repositions a session window.
func (h *Handlers) MoveSession(c *gin.Context) {
	var req types.MoveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.console.MoveSession(c.Param("id"), req.Position)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// ResizeSession changes a session window's geometry.
func (h *Handlers) ResizeSession(c *gin.Context) {
	var req types.ResizeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.console.ResizeSession(c.Param("id"), req.Size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// DuplicateSession copies a session.
func (h *Handlers) DuplicateSession(c *gin.Context) {
	h.sessionOp(c, h.console.DuplicateSession)
}

// ResetSession swaps a session's device link for a fresh one.
func (h *Handlers) ResetSession(c *gin.Context) {
	h.sessionOp(c, h.console.ResetSession)
}

// Submit sends a command over a session's device link.
func (h *Handlers) Submit(c *gin.Context) {
	var req types.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.console.Submit(c.Request.Context(), c.Param("id"), req.Command); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ConnectSession explicitly opens a session's device link.
func (h *Handlers) ConnectSession(c *gin.Context) {
	if err := h.console.ConnectSession(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DisconnectSession closes a session's device link without closing the
// session.
func (h *Handlers) DisconnectSession(c *gin.Context) {
	if err := h.console.DisconnectSession(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) sessionOp(c *gin.Context, op func(string) (*types.Session, error)) {
	sess, err := op(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// respondError maps domain sentinel errors onto HTTP statuses. Soft
// registry failures and transport conditions are client-visible states,
// never 500s.
func respondError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrNameTaken):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrSessionLimit):
		status = http.StatusConflict
	case errors.Is(err, transport.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, transport.ErrSubmitTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, transport.ErrConnectFailed):
		status = http.StatusBadGateway
	case errors.Is(err, transport.ErrClosed):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func closedIDs(res *registry.CloseResult) []string {
	ids := make([]string, 0, len(res.Closed))
	for _, s := range res.Closed {
		ids = append(ids, s.ID)
	}
	return ids
}
