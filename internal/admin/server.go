// SPDX-License-Identifier: AGPL-3.0-or-later

// Package admin exposes the proxy's optional operator-facing HTTP surface:
// a snapshot of live sessions, per-session recognized-phrase history, and
// a websocket feed that relays the phrase events passed to BroadcastPhrase.
package admin

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ginratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/browser"
	"github.com/sirimitm/sirimitm/internal/config"
	"github.com/sirimitm/sirimitm/internal/proxy"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const readTimeout = 3 * time.Second

// SessionRegistry is the subset of proxy.Listener the admin surface reads
// from.
type SessionRegistry interface {
	Sessions() []*proxy.Session
	Session(id string) (*proxy.Session, bool)
}

type sessionSummary struct {
	ID       string `json:"id"`
	RefID    string `json:"refId"`
	Blocking string `json:"blocking"`
}

// Server is the admin HTTP surface.
type Server struct {
	cfg      *config.Config
	registry SessionRegistry

	upgrader websocket.Upgrader

	mu        sync.Mutex
	feedConns map[string][]*websocket.Conn
}

// NewServer builds an admin Server over registry, using cfg for bind
// address, CORS hosts, and pprof/browser toggles.
func NewServer(cfg *config.Config, registry SessionRegistry) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		feedConns: make(map[string][]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
}

// BroadcastPhrase pushes event to every websocket client subscribed to
// sessionID's feed. It has the shape of a proxy.Session phrase listener
// (Session.SetPhraseListener); neither proxy.Listener nor the sirimitm
// command installs it, so the feed carries only events passed here.
func (s *Server) BroadcastPhrase(sessionID string, event proxy.PhraseEvent) {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.feedConns[sessionID]...)
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(event); err != nil {
			slog.Warn("dropping admin feed subscriber", "session_id", sessionID, "error", err)
		}
	}
}

// Run builds the gin router and serves it on cfg.Admin.Bind:Port. It
// blocks for the life of the process.
func (s *Server) Run() error {
	if !s.cfg.Admin.Enabled {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	if s.cfg.Metrics.OTLPEndpoint != "" {
		r.Use(otelgin.Middleware("sirimitm-admin"))
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.Admin.CORSHosts,
		AllowMethods: []string{http.MethodGet},
	}))

	store := ginratelimit.InMemoryStore(&ginratelimit.InMemoryOptions{Rate: time.Second, Limit: 20})
	limiter := ginratelimit.RateLimiter(store, &ginratelimit.Options{
		ErrorHandler: func(c *gin.Context, _ ginratelimit.Info) {
			c.String(http.StatusTooManyRequests, "too many requests")
		},
		KeyFunc: func(c *gin.Context) string { return c.ClientIP() },
	})
	r.Use(limiter)

	r.GET("/sessions", s.listSessions)
	r.GET("/sessions/:id/phrases", s.sessionPhrases)
	r.GET("/sessions/:id/feed", s.sessionFeed)

	if s.cfg.PProf.Enabled {
		pprof.Register(r)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Admin.Bind, s.cfg.Admin.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: readTimeout,
	}

	if s.cfg.Admin.OpenBrowser {
		go func() {
			time.Sleep(200 * time.Millisecond)
			if err := browser.OpenURL("http://" + addr + "/sessions"); err != nil {
				slog.Warn("failed to open admin browser", "error", err)
			}
		}()
	}

	slog.Info("admin server listening", "address", addr)
	return server.ListenAndServe()
}

func (s *Server) listSessions(c *gin.Context) {
	sessions := s.registry.Sessions()
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary{
			ID:       sess.ID(),
			RefID:    sess.RefID(),
			Blocking: sess.BlockingState().String(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) sessionPhrases(c *gin.Context) {
	sess, ok := s.registry.Session(c.Param("id"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, sess.Phrases())
}

func (s *Server) sessionFeed(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.registry.Session(id); !ok {
		c.Status(http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("admin feed upgrade failed", "session_id", id, "error", err)
		return
	}

	s.mu.Lock()
	s.feedConns[id] = append(s.feedConns[id], conn)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		conns := s.feedConns[id]
		for i, c := range conns {
			if c == conn {
				s.feedConns[id] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// Block until the client disconnects; this connection only receives.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
