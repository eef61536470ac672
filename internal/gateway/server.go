// Package gateway is the reference chat gateway: a gin HTTP API for login,
// history, durable sends and read receipts, plus a websocket hub fanning
// incremental events out to connected clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/paydesk/finchat/internal/config"
	"github.com/paydesk/finchat/internal/logging"
	"github.com/paydesk/finchat/internal/store"
)

// Server is the finchat gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	auth     *Auth
	store    *store.ChatStore
	hub      *Hub
	log      *logging.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
	addr       string
}

// NewServer wires the gateway against an opened store.
func NewServer(cfg config.GatewayConfig, s *store.ChatStore, log *logging.Logger) *Server {
	l := log.Sub("gateway")
	ttl := time.Duration(cfg.TokenTTLMinutes) * time.Minute
	srv := &Server{
		cfg:      cfg,
		auth:     NewAuth(cfg.JWTSecret, ttl, s),
		store:    s,
		hub:      NewHub(s, l),
		log:      l,
		upgrader: upgraderFor(cfg.AllowedOrigins),
	}
	return srv
}

// Hub returns the event hub, used by handlers and tests.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log))
	r.Use(cors.New(corsConfig(s.cfg.AllowedOrigins)))

	r.POST("/api/login", s.login)

	authed := r.Group("/", s.auth.Middleware())
	authed.GET("/api/conversations", s.conversations)
	authed.GET("/api/conversations/:id/messages", s.history)
	authed.POST("/api/conversations/:id/messages", s.sendMessage)
	authed.POST("/api/conversations/:id/read", s.markRead)
	authed.GET("/ws", s.serveWS)

	return r
}

// Start listens and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()

	s.log.Info().
		Str("addr", s.addr).
		Str("bind", s.cfg.Bind).
		Msg("gateway server ready")

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not
// started.
func (s *Server) Addr() string { return s.addr }

// resolveBindAddr maps the bind mode to a listen address.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan":
		host = "0.0.0.0"
	case "custom":
		if cfg.CustomBindHost != "" {
			host = cfg.CustomBindHost
		}
	}
	return fmt.Sprintf("%s:%d", host, cfg.Port)
}

// corsConfig builds the CORS policy from the origin allowlist. An empty
// list allows any origin (development mode).
func corsConfig(allowedOrigins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = allowedOrigins
	}
	c.AllowHeaders = append(c.AllowHeaders, "Authorization")
	return c
}

// requestLogger logs each HTTP request at debug level.
func requestLogger(log *logging.Logger) gin.HandlerFunc {
	l := log.Sub("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
