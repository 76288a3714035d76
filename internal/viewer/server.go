// Package viewer serves a small real-time web page over the record bus:
// recent history from storage plus a server-sent event stream.
package viewer

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"turboprint/internal/eventbus"
	"turboprint/internal/storage"
	"turboprint/pkg/turboprint"

	logx "turboprint/pkg/logx"
)

//go:embed index.html
var indexHTML []byte

// Config controls the viewer listener.
type Config struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	// StreamBuffer is the per-client event buffer; a client further behind misses events.
	StreamBuffer int `json:"stream_buffer"`
	// HistoryLimit caps /api/logs responses.
	HistoryLimit int `json:"history_limit"`
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = "127.0.0.1:8765"
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 256
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 1000
	}
	return c
}

// Server manages the viewer HTTP listener and the history recorder.
type Server struct {
	bus   *eventbus.Bus
	store storage.Store
	stats func() turboprint.StatsSnapshot
	log   logx.Logger

	mu     sync.Mutex
	cfg    Config
	srv    *http.Server
	ln     net.Listener
	addr   string
	cancel context.CancelFunc
	stopRC func()
}

// New builds a viewer over bus. store may be nil (no history); stats may be nil.
func New(bus *eventbus.Bus, store storage.Store, stats func() turboprint.StatsSnapshot, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		bus:   bus,
		store: store,
		stats: stats,
		log:   log.With(logx.String("comp", "viewer")),
		cfg:   Config{}.withDefaults(),
	}
}

// Apply starts or stops the viewer according to cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		s.Stop(ctx)
		return nil
	}
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil && s.cfg == cfg {
		return nil
	}
	s.stopLocked(ctx)
	s.cfg = cfg
	return s.startLocked()
}

// Start listens on addr ("127.0.0.1:0" picks a free port).
func (s *Server) Start(addr string) error {
	return s.Apply(context.Background(), Config{Enabled: true, Address: addr})
}

func (s *Server) startLocked() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return turboprint.ResourceError("viewer.listen", err)
	}
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	s.srv = srv
	s.cancel = cancel
	s.ln = ln
	s.addr = ln.Addr().String()
	s.stopRC = s.record()

	go func(addr string) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("viewer server error", logx.String("addr", addr), logx.Err(err))
		}
	}(s.addr)
	s.log.Info("viewer enabled", logx.String("addr", s.addr))
	return nil
}

// Stop gracefully shuts down the listener and the recorder.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""
	// Ends open streams; Shutdown does not cancel in-flight requests.
	s.cancel()

	if ctx == nil {
		ctx = context.Background()
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = srv.Close()
	}
	if s.stopRC != nil {
		s.stopRC()
		s.stopRC = nil
	}
	s.log.Info("viewer disabled", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// record persists bus events to the store until the returned func is called.
func (s *Server) record() func() {
	if s.store == nil || s.bus == nil {
		return func() {}
	}
	ch, unsub := s.bus.Subscribe(s.cfg.StreamBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := s.store.Append(ctx, storage.FromEvent(ev)); err != nil {
				s.log.Debug("history append failed", logx.Err(err))
			}
			cancel()
		}
	}()
	return func() {
		unsub()
		<-done
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLog())

	engine.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	api := engine.Group("/api")
	api.GET("/logs", s.handleLogs)
	api.GET("/stream", s.handleStream)
	api.GET("/stats", s.handleStats)
	return engine
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if status >= 500 {
			s.log.Warn("viewer request", fields...)
			return
		}
		s.log.Debug("viewer request", fields...)
	}
}

// parseQuery reads level, logger and limit parameters.
func parseQuery(c *gin.Context) (storage.Query, error) {
	var q storage.Query
	if lv := strings.TrimSpace(c.Query("level")); lv != "" {
		l, err := turboprint.ParseLevel(lv)
		if err != nil {
			return q, err
		}
		q.MinLevel = l
	}
	q.Logger = strings.TrimSpace(c.Query("logger"))
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, turboprint.ConfigError("viewer.query", "bad limit %q", raw)
		}
		q.Limit = n
	}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, turboprint.ConfigError("viewer.query", "bad since %q", raw)
		}
		q.Since = t
	}
	return q, nil
}

func (s *Server) handleLogs(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	limit := s.cfg.HistoryLimit
	s.mu.Unlock()
	if q.Limit == 0 || q.Limit > limit {
		q.Limit = limit
	}

	entries := []storage.Entry{}
	if s.store != nil {
		got, err := s.store.Recent(c.Request.Context(), q)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if got != nil {
			entries = got
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleStream(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.bus == nil {
		c.Status(http.StatusNoContent)
		return
	}
	s.mu.Lock()
	buffer := s.cfg.StreamBuffer
	s.mu.Unlock()

	ch, unsub := s.bus.Subscribe(buffer)
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-keepalive.C:
			c.SSEvent("ping", "")
			return true
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			e := storage.FromEvent(ev)
			if q.Match(e) {
				c.SSEvent("log", e)
			}
			return true
		}
	})
}

func (s *Server) handleStats(c *gin.Context) {
	var reg turboprint.StatsSnapshot
	if s.stats != nil {
		reg = s.stats()
	}
	var published, dropped uint64
	var subscribers int
	if s.bus != nil {
		published, dropped = s.bus.Stats()
		subscribers = s.bus.Subscribers()
	}
	c.JSON(http.StatusOK, gin.H{
		"registry": reg,
		"bus": gin.H{
			"published":   published,
			"dropped":     dropped,
			"subscribers": subscribers,
		},
	})
}
