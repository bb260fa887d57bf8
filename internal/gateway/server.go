// Package gateway exposes the client core to the embedding UI over a small
// local HTTP API.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/riverline/casetrack/internal/api"
	"github.com/riverline/casetrack/internal/badge"
	"github.com/riverline/casetrack/internal/channel"
	"github.com/riverline/casetrack/internal/config"
	"github.com/riverline/casetrack/internal/notify"
	"github.com/riverline/casetrack/internal/view"
)

// Server wires the core components behind a local gin API.
type Server struct {
	cfg        *config.Config
	backend    *api.Client
	session    *channel.Session
	dispatcher *notify.Dispatcher
	refresher  *badge.Refresher

	mu    sync.Mutex
	views map[string]*view.CaseView
	cases map[string]api.Case

	httpSrv *http.Server
	startAt time.Time
}

func NewServer(cfg *config.Config, backend *api.Client, session *channel.Session, dispatcher *notify.Dispatcher) *Server {
	return &Server{
		cfg:        cfg,
		backend:    backend,
		session:    session,
		dispatcher: dispatcher,
		views:      make(map[string]*view.CaseView),
		cases:      make(map[string]api.Case),
		startAt:    time.Now(),
	}
}

// SetRefresher attaches the badge refresher once it has been built around
// this server's chat counts.
func (s *Server) SetRefresher(r *badge.Refresher) {
	s.refresher = r
}

// ChatUnread reports the per-case unread chat counts of the open views.
func (s *Server) ChatUnread() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.views))
	for caseID, v := range s.views {
		out[caseID] = v.ChatUnread(s.cfg.User.ID)
	}
	return out
}

// Start begins serving the local API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.ginHealth)
	authed := engine.Group("/", s.authMiddleware())
	authed.GET("/badges", s.ginBadges)
	authed.POST("/refresh", s.ginRefresh)
	authed.POST("/cases/:id/open", s.ginOpenCase)
	authed.POST("/cases/:id/close", s.ginCloseCase)
	authed.GET("/cases/:id/messages", s.ginCaseMessages)
	authed.POST("/cases/:id/messages", s.ginSendMessage)
	authed.POST("/cases/:id/services/:sid/remarks", s.ginAddRemark)
	authed.PATCH("/remarks/:id/read", s.ginMarkRemarkRead)

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Gateway.Port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	slog.Info("local gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// authMiddleware checks the gateway token against the hot-reloaded config,
// so rotating the token in the config file takes effect immediately.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := config.Get()
		if cfg == nil {
			cfg = s.cfg
		}
		expected := cfg.Gateway.Auth.Token
		if expected == "" {
			c.Next()
			return
		}
		token := c.GetHeader("X-Casetrack-Token")
		if token == "" {
			token = c.Query("token")
		}
		if token != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) ginHealth(c *gin.Context) {
	s.mu.Lock()
	open := len(s.views)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startAt).String(),
		"channel": s.session.State().String(),
		"views":   open,
	})
}

func (s *Server) ginBadges(c *gin.Context) {
	if s.refresher == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "badges not ready"})
		return
	}
	c.JSON(http.StatusOK, s.refresher.Index())
}

func (s *Server) ginRefresh(c *gin.Context) {
	if s.refresher == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "badges not ready"})
		return
	}
	if err := s.refresher.Refresh(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.refresher.Index())
}

func (s *Server) ginOpenCase(c *gin.Context) {
	caseID := c.Param("id")
	kase, err := s.lookupCase(c.Request.Context(), caseID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	if _, ok := s.views[caseID]; ok {
		s.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"caseId": caseID, "alreadyOpen": true})
		return
	}
	s.mu.Unlock()

	// Re-entering a view is the manual retry path after automatic
	// reconnection gave up.
	if st := s.session.State(); st == channel.Failed || st == channel.Disconnected {
		if err := s.session.Connect(c.Request.Context()); err != nil {
			slog.Warn("channel reconnect on open failed", "caseId", caseID, "error", err)
		}
	}

	v := view.NewCaseView(kase, s.cfg.User.ID, s.cfg.User.DisplayName, s.session, s.backend, s.dispatcher)
	v.OnChange(func() {
		if s.refresher != nil {
			s.refresher.Recompute()
		}
	})
	if err := v.Open(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.views[caseID] = v
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"caseId": caseID, "channel": s.session.State().String()})
}

func (s *Server) ginCloseCase(c *gin.Context) {
	caseID := c.Param("id")
	s.mu.Lock()
	v, ok := s.views[caseID]
	delete(s.views, caseID)
	s.mu.Unlock()
	if ok {
		v.Close(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{"caseId": caseID, "closed": ok})
}

func (s *Server) ginCaseMessages(c *gin.Context) {
	v, ok := s.openView(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "case not open"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": v.Messages(),
		"channel":  v.ConnState().String(),
	})
}

func (s *Server) ginSendMessage(c *gin.Context) {
	var body struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Body == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "body required"})
		return
	}
	v, ok := s.openView(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "case not open"})
		return
	}
	msg := v.Send(c.Request.Context(), body.Body)
	c.JSON(http.StatusOK, msg)
}

func (s *Server) ginAddRemark(c *gin.Context) {
	var body struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Body == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "body required"})
		return
	}
	v, ok := s.openView(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "case not open"})
		return
	}
	remark, err := v.AddRemark(c.Request.Context(), c.Param("sid"), body.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, remark)
}

func (s *Server) ginMarkRemarkRead(c *gin.Context) {
	remarkID := c.Param("id")
	if err := s.backend.MarkRemarkRead(c.Request.Context(), remarkID); err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	// Fold in only after the server confirmed; read state is never speculative.
	if s.refresher != nil {
		s.refresher.MarkRemarkRead(remarkID)
	}
	c.JSON(http.StatusOK, gin.H{"remarkId": remarkID})
}

func (s *Server) openView(caseID string) (*view.CaseView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[caseID]
	return v, ok
}

func (s *Server) lookupCase(ctx context.Context, caseID string) (api.Case, error) {
	s.mu.Lock()
	if kase, ok := s.cases[caseID]; ok {
		s.mu.Unlock()
		return kase, nil
	}
	s.mu.Unlock()

	cases, err := s.backend.Cases(ctx)
	if err != nil {
		return api.Case{}, fmt.Errorf("fetch cases: %w", err)
	}
	s.mu.Lock()
	for _, kase := range cases {
		s.cases[kase.ID] = kase
	}
	kase, ok := s.cases[caseID]
	s.mu.Unlock()
	if !ok {
		return api.Case{}, fmt.Errorf("case %s not found", caseID)
	}
	return kase, nil
}
