// Package admin serves the HTTP surface of a binlink node: liveness,
// readiness, Prometheus metrics and a view of the tracked channels, either
// polled or pushed over a websocket.
package admin

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/binlink/internal/auth"
	"github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/node"
	"github.com/danmuck/binlink/internal/observability"
	"github.com/danmuck/binlink/internal/protocol/channel"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

var ErrChannelNotFound = errors.New("admin: channel not found")

type Config struct {
	ID          string
	Addr        string
	CorsOrigins []string
	BasePath    string
	// WatchInterval paces /watch snapshots. Zero means one second.
	WatchInterval time.Duration
	// Operator guards mutating routes. Nil leaves them open.
	Operator auth.Validator
}

type Server struct {
	cfg     Config
	router  *gin.Engine
	started time.Time
	log     zerolog.Logger
	ready   atomic.Bool
	routes  sync.Once

	mu       sync.RWMutex
	channels map[string]*channel.Channel
}

var _ node.Node = (*Server)(nil)

func New(cfg Config) *Server {
	if cfg.ID == "" {
		cfg.ID = "binlink"
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = time.Second
	}
	observability.RegisterMetrics()
	log := logging.Component("admin").With().Str("node", cfg.ID).Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequests(log, cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		cfg:      cfg,
		router:   r,
		started:  time.Now(),
		log:      log,
		channels: make(map[string]*channel.Channel),
	}
}

func (s *Server) NodeID() string {
	return s.cfg.ID
}

func (s *Server) Kind() string {
	return "binlink"
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// SetReady flips the /ready probe.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Track lists ch under /channels until it closes.
func (s *Server) Track(ch *channel.Channel) {
	name := ch.Name()
	s.mu.Lock()
	s.channels[name] = ch
	s.mu.Unlock()
	s.log.Debug().Str("channel", name).Msg("tracking channel")

	go func() {
		<-ch.Done()
		s.mu.Lock()
		if cur, ok := s.channels[name]; ok && cur == ch {
			delete(s.channels, name)
		}
		s.mu.Unlock()
		s.log.Debug().Str("channel", name).Msg("channel untracked")
	}()
}

// Channels returns a snapshot of every tracked channel ordered by name.
func (s *Server) Channels() []channel.Stats {
	s.mu.RLock()
	list := make([]channel.Stats, 0, len(s.channels))
	for _, ch := range s.channels {
		list = append(list, ch.Stats())
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// CloseChannel shuts down the tracked channel called name.
func (s *Server) CloseChannel(name string) error {
	s.mu.RLock()
	ch, ok := s.channels[name]
	s.mu.RUnlock()
	if !ok {
		return ErrChannelNotFound
	}
	s.log.Info().Str("channel", name).Msg("closing channel on request")
	return ch.Close()
}

// Router registers the admin routes once and returns the engine.
func (s *Server) Router() *gin.Engine {
	s.routes.Do(s.registerRoutes)
	return s.router
}

// Serve listens on the configured address until ctx is done, then shuts
// the HTTP server down.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("admin stopped")
	return nil
}

func (s *Server) registerRoutes() {
	routes := s.group()
	routes.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.cfg.ID,
			"version": version,
		})
	})

	routes.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes.GET("/ready", func(c *gin.Context) {
		ready := s.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.started).String(),
			"node":    s.cfg.ID,
			"version": version,
		})
	})

	routes.GET("/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"channels": s.Channels()})
	})

	routes.GET("/channels/:name", func(c *gin.Context) {
		s.mu.RLock()
		ch, ok := s.channels[c.Param("name")]
		s.mu.RUnlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrChannelNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, ch.Stats())
	})

	routes.GET("/watch", s.watch)

	routes.POST("/channels/:name/close", s.requireOperator(), func(c *gin.Context) {
		if err := s.CloseChannel(c.Param("name")); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrChannelNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// watch pushes a channel snapshot every WatchInterval until the client goes
// away.
func (s *Server) watch(c *gin.Context) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.allowOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("watch upgrade failed")
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(gin.H{"node": s.cfg.ID, "channels": s.Channels()}); err != nil {
			s.log.Debug().Err(err).Msg("watch write failed")
			return
		}
		select {
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range normalizeOrigins(s.cfg.CorsOrigins) {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Operator == nil {
			c.Next()
			return
		}
		if err := auth.CheckHeader(s.cfg.Operator, c.GetHeader("Authorization")); err != nil {
			s.log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("operator check failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) group() gin.IRoutes {
	if s.cfg.BasePath == "" {
		return s.router
	}
	return s.router.Group(s.cfg.BasePath)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
