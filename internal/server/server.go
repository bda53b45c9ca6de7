// Package server exposes the live dashboard, its JSON API and a websocket
// event stream.
package server

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/aggregator"
	"github.com/atikulmunna/warden/internal/hub"
	"github.com/atikulmunna/warden/internal/signature"
	"github.com/atikulmunna/warden/internal/store"
	"github.com/atikulmunna/warden/internal/updater"
)

//go:embed all:web
var webFS embed.FS

// Refresher triggers an on-demand catalogue check.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// Registry answers URL registry and recent history queries. Only in-process
// sinks provide it.
type Registry interface {
	Registry(f store.RegistryFilter) []store.RegistryEntry
	Classifications() []string
	Accesses(limit int) []store.AccessRecord
	Alerts(accessID int64) []store.AlertRecord
	Stats() store.Stats
}

// Deps are the components the dashboard reads from. Updater and Registry
// may be nil.
type Deps struct {
	Hub        *hub.Hub
	Aggregator *aggregator.Aggregator
	Engine     *signature.Engine
	Updater    Refresher
	Registry   Registry
	Logger     *zap.Logger
}

// Server holds the Gin engine and dependencies for the web dashboard.
type Server struct {
	engine *gin.Engine
	deps   Deps
	addr   string
	log    *zap.Logger
}

// New creates the dashboard server listening on addr.
func New(addr string, d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Disable automatic redirects that cause 301 issues.
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		deps:   d,
		addr:   addr,
		log:    d.Logger.Named("server"),
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// serveEmbedded reads a file from the embedded FS and writes it with the given content type.
func serveEmbedded(webContent fs.FS, name string, contentType string) gin.HandlerFunc {
	data, err := fs.ReadFile(webContent, name)
	return func(c *gin.Context) {
		if err != nil {
			c.String(http.StatusNotFound, "file not found: %s", name)
			return
		}
		c.Data(http.StatusOK, contentType, data)
	}
}

func (s *Server) setupRoutes() {
	webContent, _ := fs.Sub(webFS, "web")

	s.engine.GET("/", serveEmbedded(webContent, "index.html", "text/html; charset=utf-8"))
	s.engine.GET("/style.css", serveEmbedded(webContent, "style.css", "text/css; charset=utf-8"))
	s.engine.GET("/app.js", serveEmbedded(webContent, "app.js", "application/javascript; charset=utf-8"))

	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/catalogue", s.handleCatalogue)
	api.POST("/catalogue/refresh", s.handleRefresh)
	api.GET("/classify", s.handleClassify)
	api.GET("/registry", s.handleRegistry)
	api.GET("/registry/classes", s.handleClasses)
	api.GET("/accesses", s.handleAccesses)

	s.engine.GET("/ws", s.handleWebSocket)

	s.engine.GET("/debug/pprof/", gin.WrapF(pprof.Index))
	s.engine.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
	s.engine.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
	s.engine.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
	s.engine.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	s.engine.GET("/debug/pprof/heap", gin.WrapH(pprof.Handler("heap")))
	s.engine.GET("/debug/pprof/goroutine", gin.WrapH(pprof.Handler("goroutine")))
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.deps.Aggregator.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"uptime":            stats.Uptime,
		"files_tailed":      stats.FilesTailed,
		"eps":               stats.EPS,
		"catalogue_version": s.deps.Engine.Version(),
		"subscribers":       s.deps.Hub.Subscribers(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	resp := gin.H{"stream": s.deps.Aggregator.Snapshot()}
	if s.deps.Registry != nil {
		resp["store"] = s.deps.Registry.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

type catalogueEntry struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
	Regex   bool   `json:"regex"`
}

func (s *Server) handleCatalogue(c *gin.Context) {
	cat := s.deps.Engine.Current()
	if cat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no catalogue loaded"})
		return
	}
	entries := make([]catalogueEntry, 0, cat.Len())
	for _, e := range cat.Entries() {
		entries = append(entries, catalogueEntry{Type: e.Type, Pattern: e.Pattern, Regex: e.Regex()})
	}
	c.JSON(http.StatusOK, gin.H{"version": cat.Version(), "entries": entries})
}

func (s *Server) handleRefresh(c *gin.Context) {
	if s.deps.Updater == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "catalogue updates disabled"})
		return
	}
	updated, err := s.deps.Updater.Refresh(c.Request.Context())
	switch {
	case errors.Is(err, updater.ErrThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.log.Warn("manual catalogue refresh failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "version": s.deps.Engine.Version()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated, "version": s.deps.Engine.Version()})
}

func (s *Server) handleClassify(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url parameter"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Engine.Classify(url))
}

func (s *Server) handleRegistry(c *gin.Context) {
	if s.deps.Registry == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "registry queries need the memory or file sink"})
		return
	}
	f := store.RegistryFilter{
		Classification: c.Query("class"),
		AttacksOnly:    c.Query("attacks") == "1" || c.Query("attacks") == "true",
		Limit:          100,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}
	if v := c.Query("whitelisted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid whitelisted"})
			return
		}
		f.Whitelisted = &b
	}
	c.JSON(http.StatusOK, s.deps.Registry.Registry(f))
}

func (s *Server) handleClasses(c *gin.Context) {
	if s.deps.Registry == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "registry queries need the memory or file sink"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Registry.Classifications())
}

type accessView struct {
	store.AccessRecord
	Alerts []store.AlertRecord `json:"alerts"`
}

func (s *Server) handleAccesses(c *gin.Context) {
	if s.deps.Registry == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "history queries need the memory or file sink"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	rows := s.deps.Registry.Accesses(limit)
	out := make([]accessView, 0, len(rows))
	for _, r := range rows {
		alerts := s.deps.Registry.Alerts(r.ID)
		if alerts == nil {
			alerts = []store.AlertRecord{}
		}
		out = append(out, accessView{AccessRecord: r, Alerts: alerts})
	}
	c.JSON(http.StatusOK, out)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
