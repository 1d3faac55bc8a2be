package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/kvlet"
	ktls "github.com/loykin/kvlet/internal/tls"
	"github.com/loykin/kvlet/pkg/client"
)

type command struct {
	out    io.Writer
	global *GlobalFlags
}

func newCommand(out io.Writer) *command {
	return &command{out: out, global: &GlobalFlags{}}
}

// loadConfig reads the config file and environment, then applies flags.
func (c *command) loadConfig() (*kvlet.Config, error) {
	cfg, err := kvlet.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, err
	}
	if c.global.Home != "" {
		cfg.Home = c.global.Home
	}
	if c.global.DSN != "" {
		cfg.DSN = c.global.DSN
	}
	if c.global.LogLevel != "" {
		cfg.Log.Level = c.global.LogLevel
	}
	if c.global.Timeout > 0 {
		cfg.Notify.Timeout = c.global.Timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open loads the configuration and opens the local store.
func (c *command) open() (*kvlet.Client, *kvlet.Config, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cl, err := kvlet.Open(*cfg)
	if err != nil {
		return nil, nil, err
	}
	return cl, cfg, nil
}

func (c *command) apiClient() *client.Client {
	timeout := 30 * time.Second
	if c.global.Timeout > 0 {
		// leave room for the server-side dispatch
		timeout = c.global.Timeout + 5*time.Second
	}
	cfg := client.Config{
		BaseURL: c.global.APIUrl,
		Timeout: timeout,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if c.global.APICACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: c.global.APICACert}
	}
	return client.New(cfg)
}

func (c *command) Set(ctx context.Context, f SetFlags) error {
	if err := validOutput(c.global.Output); err != nil {
		return err
	}
	target, err := kvlet.ParseTarget(f.Method, f.URL)
	if err != nil {
		return err
	}

	if c.global.APIUrl != "" {
		req := client.SetRequest{State: f.State, Method: f.Method, URL: f.URL}
		if f.Info != "" {
			req.Info = &f.Info
		}
		res, err := c.apiClient().Set(ctx, f.Key, req)
		if err != nil {
			return err
		}
		var out *kvlet.Response
		if res.Response != nil {
			out = &kvlet.Response{StatusCode: res.Response.StatusCode, Body: res.Response.Body}
		}
		return c.printSet(f.Key, out)
	}

	cl, _, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	out, err := cl.Set(ctx, kvlet.Write{ID: f.Key, State: f.State, Info: kvlet.StringPtr(f.Info), Target: target})
	if err != nil {
		return err
	}
	return c.printSet(f.Key, out)
}

func (c *command) Get(ctx context.Context, f GetFlags) error {
	if err := validOutput(c.global.Output); err != nil {
		return err
	}
	target, err := kvlet.ParseTarget(f.Method, f.URL)
	if err != nil {
		return err
	}

	var rec *kvlet.Record
	if c.global.APIUrl != "" {
		var t *client.Target
		if target != nil {
			t = &client.Target{Method: f.Method, Endpoint: f.URL}
		}
		r, err := c.apiClient().Get(ctx, f.Key, t)
		if err != nil && !errors.Is(err, client.ErrNotFound) {
			return err
		}
		rec = fromAPIRecord(r)
	} else {
		cl, _, err := c.open()
		if err != nil {
			return err
		}
		defer func() { _ = cl.Close() }()
		if rec, err = cl.Get(ctx, f.Key, target); err != nil {
			return err
		}
	}

	if rec == nil {
		return fmt.Errorf("key %q: %w", f.Key, kvlet.ErrNotFound)
	}
	return c.printRecords([]kvlet.Record{*rec}, true)
}

func (c *command) List(ctx context.Context, f ListFlags) error {
	if err := validOutput(c.global.Output); err != nil {
		return err
	}
	if f.Num < 0 {
		return &kvlet.ConfigError{Field: "num", Value: fmt.Sprint(f.Num), Msg: "must not be negative"}
	}

	var recs []kvlet.Record
	if c.global.APIUrl != "" {
		rs, err := c.apiClient().List(ctx, client.ListQuery{Limit: f.Num, State: f.State})
		if err != nil {
			return err
		}
		for i := range rs {
			recs = append(recs, *fromAPIRecord(&rs[i]))
		}
	} else {
		cl, _, err := c.open()
		if err != nil {
			return err
		}
		defer func() { _ = cl.Close() }()
		if recs, err = cl.List(ctx, f.Num, f.State); err != nil {
			return err
		}
	}
	return c.printRecords(recs, false)
}

func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	cl, cfg, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	listen := cfg.Server.Listen
	if f.Listen != "" {
		listen = f.Listen
	}
	base := cfg.Server.BasePath
	if f.Base != "" {
		base = f.Base
	}
	if cfg.Server.Metrics {
		if err := kvlet.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	tlsCfg, err := ktls.Setup(*cfg)
	if err != nil {
		return err
	}

	srv := cl.NewHTTPServer(listen, base, cfg.Server.Metrics)
	errCh := make(chan error, 1)
	scheme := "http"
	if tlsCfg != nil {
		srv.TLSConfig = tlsCfg
		scheme = "https"
		go func() { errCh <- srv.ListenAndServeTLS("", "") }()
	} else {
		go func() { errCh <- srv.ListenAndServe() }()
	}
	_, _ = fmt.Fprintf(c.out, "kvlet serving on %s://%s%s\n", scheme, listen, base)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func fromAPIRecord(r *client.Record) *kvlet.Record {
	if r == nil {
		return nil
	}
	out := &kvlet.Record{
		ID:        r.ID,
		State:     r.State,
		Info:      r.Info,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Target != nil {
		// the server only emits canonical method names
		m, _ := kvlet.ParseMethod(r.Target.Method)
		out.Target = &kvlet.Target{Method: m, Endpoint: r.Target.Endpoint}
	}
	if r.Response != nil {
		out.Response = &kvlet.Response{StatusCode: r.Response.StatusCode, Body: r.Response.Body}
	}
	return out
}
