package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/kvlet/internal/metrics"
	"github.com/loykin/kvlet/internal/record"
)

// Records is the operation set served over HTTP.
type Records interface {
	Set(ctx context.Context, w record.Write) (*record.Response, error)
	Get(ctx context.Context, id string, target *record.Target) (*record.Record, error)
	List(ctx context.Context, limit int, state string) ([]record.Record, error)
}

// Router provides embeddable HTTP handlers for kvlet records.
// Endpoints:
//   PUT {basePath}/records/:id   body: {"state","info","method","url"}
//   GET {basePath}/records/:id   query: method=...&url=... (optional target update)
//   GET {basePath}/records       query: limit=10&state=...
//   GET {basePath}/healthz
//   GET /metrics                 when metrics are enabled
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	recs     Records
	basePath string
	metrics  bool
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics serves the Prometheus handler at /metrics.
func WithMetrics(enabled bool) Option {
	return func(r *Router) { r.metrics = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/records, /api/healthz.
func NewRouter(recs Records, basePath string, opts ...Option) *Router {
	r := &Router{recs: recs, basePath: sanitizeBase(basePath), logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g)
	return g
}

// Register adds the kvlet routes to an existing gin engine.
func (r *Router) Register(g *gin.Engine) {
	group := g.Group(r.basePath)
	group.PUT("/records/:id", r.handleSet)
	group.GET("/records/:id", r.handleGet)
	group.GET("/records", r.handleList)
	group.GET("/healthz", r.handleHealth)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
}

// NewServer returns an http.Server for addr serving this router.
// The caller starts it with ListenAndServe and stops it with Shutdown.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// dispatch runs inside the request
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type setReq struct {
	State  string  `json:"state"`
	Info   *string `json:"info,omitempty"`
	Method string  `json:"method,omitempty"`
	URL    string  `json:"url,omitempty"`
}

type setResp struct {
	ID         string           `json:"id"`
	Dispatched bool             `json:"dispatched"`
	Response   *record.Response `json:"response,omitempty"`
}

func (r *Router) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		r.logger.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func (r *Router) handleSet(c *gin.Context) {
	id := c.Param("id")
	var body setReq
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	target, err := record.ParseTarget(body.Method, body.URL)
	if err != nil {
		r.fail(c, err)
		return
	}
	var info *string
	if body.Info != nil {
		info = record.StringPtr(*body.Info)
	}
	out, err := r.recs.Set(c.Request.Context(), record.Write{ID: id, State: body.State, Info: info, Target: target})
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, setResp{ID: id, Dispatched: out != nil, Response: out})
}

func (r *Router) handleGet(c *gin.Context) {
	id := c.Param("id")
	target, err := record.ParseTarget(c.Query("method"), c.Query("url"))
	if err != nil {
		r.fail(c, err)
		return
	}
	rec, err := r.recs.Get(c.Request.Context(), id, target)
	if err != nil {
		r.fail(c, err)
		return
	}
	if rec == nil {
		r.fail(c, fmt.Errorf("%q: %w", id, record.ErrNotFound))
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleList(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			r.fail(c, &record.ConfigError{Field: "limit", Value: s, Msg: "must be a non-negative integer"})
			return
		}
		limit = n
	}
	recs, err := r.recs.List(c.Request.Context(), limit, c.Query("state"))
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
