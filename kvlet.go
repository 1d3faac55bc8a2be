package kvlet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/kvlet/internal/config"
	"github.com/loykin/kvlet/internal/history"
	hfactory "github.com/loykin/kvlet/internal/history/factory"
	"github.com/loykin/kvlet/internal/logger"
	"github.com/loykin/kvlet/internal/metrics"
	"github.com/loykin/kvlet/internal/notify"
	"github.com/loykin/kvlet/internal/record"
	iapi "github.com/loykin/kvlet/internal/server"
	"github.com/loykin/kvlet/internal/service"
	"github.com/loykin/kvlet/internal/store"
	sfactory "github.com/loykin/kvlet/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Record = record.Record

type Target = record.Target

type Response = record.Response

type Write = record.Write

type Method = record.Method

const (
	MethodNone = record.MethodNone
	MethodGet  = record.MethodGet
	MethodPost = record.MethodPost
)

type (
	StorageError  = record.StorageError
	DispatchError = record.DispatchError
	ConfigError   = record.ConfigError
)

type HistorySink = history.Sink

type HistoryEvent = history.Event

var ErrNotFound = record.ErrNotFound

func ParseMethod(token string) (Method, error)             { return record.ParseMethod(token) }
func ParseTarget(method, endpoint string) (*Target, error) { return record.ParseTarget(method, endpoint) }
func StringPtr(s string) *string                           { return record.StringPtr(s) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }
func DefaultConfig() Config                   { return cfg.Default() }

// Client is an opened kvlet store with its dispatcher. It is safe for
// concurrent use; writers to the same key race as documented.
type Client struct {
	st      store.Store
	svc     *service.Service
	logger  *slog.Logger
	closers []io.Closer
}

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	sinks      []history.Sink
}

// Option configures Open.
type Option func(*options)

// WithLogger replaces the logger built from the log section of the config.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithHTTPClient sets the client used for notification calls.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithHistorySinks adds sinks next to the one configured by history.dsn.
func WithHistorySinks(s ...HistorySink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// Open validates c, opens the configured store (creating the schema when
// missing) and prepares the dispatcher.
func Open(c Config, opts ...Option) (*Client, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cl := &Client{}
	lg := o.logger
	if lg == nil {
		l, closer, err := logger.New(c.LoggerConfig())
		if err != nil {
			return nil, &record.ConfigError{Field: "log", Msg: err.Error(), Err: err}
		}
		lg = l
		cl.closers = append(cl.closers, closer)
	}
	cl.logger = lg

	dc := c.DispatcherConfig()
	dc.Logger = lg
	dc.HTTPClient = o.httpClient
	disp, err := notify.New(dc)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}

	st, err := sfactory.NewFromDSN(c.DatabaseDSN())
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	cl.st = st
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = cl.Close()
		return nil, err
	}

	sinks := append([]history.Sink(nil), o.sinks...)
	if c.History.DSN != "" {
		sink, err := hfactory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			_ = cl.Close()
			return nil, &record.ConfigError{Field: "history.dsn", Msg: err.Error(), Err: err}
		}
		sinks = append(sinks, sink)
	}

	cl.svc = service.New(st, disp, service.WithLogger(lg), service.WithHistorySinks(sinks...))
	lg.Debug("kvlet opened", "dsn", c.DatabaseDSN(), "history", c.History.DSN != "")
	return cl, nil
}

// Set writes state for w.ID and notifies the resolved target once.
// It returns nil when no notification was sent.
func (c *Client) Set(ctx context.Context, w Write) (*Response, error) { return c.svc.Set(ctx, w) }

// Get returns the record for id or nil. A non-nil target replaces the stored one.
func (c *Client) Get(ctx context.Context, id string, target *Target) (*Record, error) {
	return c.svc.Get(ctx, id, target)
}

// List returns up to limit records (10 when limit <= 0), newest first.
func (c *Client) List(ctx context.Context, limit int, state string) ([]Record, error) {
	return c.svc.List(ctx, limit, state)
}

// Handler returns the HTTP API for this client mounted under basePath.
func (c *Client) Handler(basePath string, withMetrics bool) http.Handler {
	return iapi.NewRouter(c.svc, basePath, iapi.WithLogger(c.logger), iapi.WithMetrics(withMetrics)).Handler()
}

// RegisterRoutes adds the HTTP API to an existing gin engine.
func (c *Client) RegisterRoutes(g *gin.Engine, basePath string) {
	iapi.NewRouter(c.svc, basePath, iapi.WithLogger(c.logger)).Register(g)
}

// NewHTTPServer returns an http.Server serving the API on addr.
func (c *Client) NewHTTPServer(addr, basePath string, withMetrics bool) *http.Server {
	r := iapi.NewRouter(c.svc, basePath, iapi.WithLogger(c.logger), iapi.WithMetrics(withMetrics))
	return iapi.NewServer(addr, r)
}

// Close releases the store, history sinks and log file.
func (c *Client) Close() error {
	var errs []error
	if c.svc != nil {
		errs = append(errs, c.svc.Close())
	}
	if c.st != nil {
		errs = append(errs, c.st.Close())
	}
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
