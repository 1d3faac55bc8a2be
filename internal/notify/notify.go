package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loykin/kvlet/internal/record"
)

// Default dispatch configuration constants
const (
	DefaultTimeout      = 10 * time.Second
	DefaultUserAgent    = "kvlet/1"
	DefaultMaxBodyBytes = 1 << 20
)

// Config holds dispatcher configuration.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	TLS          *TLSConfig
	Logger       *slog.Logger
	// HTTPClient replaces the client built from Timeout and TLS when set.
	HTTPClient *http.Client
}

// TLSConfig holds TLS settings for notification endpoints.
type TLSConfig struct {
	CACert     string // CA certificate file path
	SkipVerify bool   // Skip certificate verification
}

// Dispatcher performs exactly one outbound call per Dispatch.
type Dispatcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	logger       *slog.Logger
}

// payload is the POST body sent to notification endpoints.
type payload struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Info  string `json:"info"`
}

// New creates a dispatcher. TLS files are read eagerly so a bad CA path
// fails at startup rather than on the first dispatch.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TLS != nil {
			tlsConfig, err := setupTLS(*cfg.TLS)
			if err != nil {
				return nil, &record.ConfigError{Field: "notify.tls", Msg: err.Error(), Err: err}
			}
			transport.TLSClientConfig = tlsConfig
		}
		client = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}
	return &Dispatcher{
		client:       client,
		userAgent:    cfg.UserAgent,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       cfg.Logger,
	}, nil
}

// Dispatch reports a state change to target and returns the raw outcome.
// Any HTTP status is a valid outcome; only transport failures are errors.
func (d *Dispatcher) Dispatch(ctx context.Context, id, state string, info *string, target record.Target) (record.Response, error) {
	fail := func(err error) (record.Response, error) {
		return record.Response{}, &record.DispatchError{ID: id, Method: target.Method, Endpoint: target.Endpoint, Err: err}
	}

	var (
		method string
		body   io.Reader
	)
	switch target.Method {
	case record.MethodGet:
		method = http.MethodGet
	case record.MethodPost:
		method = http.MethodPost
		p := payload{ID: id, State: state}
		if info != nil {
			p.Info = *info
		}
		b, err := json.Marshal(p)
		if err != nil {
			return fail(fmt.Errorf("marshal payload: %w", err))
		}
		body = bytes.NewReader(b)
	default:
		return record.Response{}, &record.ConfigError{Field: "method", Value: target.Method.String(), Msg: "target does not dispatch"}
	}

	u, err := withQuery(target.Endpoint, id, state)
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fail(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", d.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	d.logger.Info("Dispatching notification", "method", method, "url", u, "id", id)
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("Notification request failed", "url", u, "error", err)
		return fail(fmt.Errorf("do request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodyBytes+1))
	if err != nil {
		d.logger.Error("Failed to read notification response", "url", u, "status", resp.StatusCode, "error", err)
		return fail(fmt.Errorf("read body: %w", err))
	}
	truncated := int64(len(raw)) > d.maxBodyBytes
	if truncated {
		raw = raw[:d.maxBodyBytes]
		d.logger.Warn("Notification response truncated", "id", id, "url", u, "limit", d.maxBodyBytes)
	}
	text := storableBody(raw, truncated)
	d.logger.Info("Notification delivered", "id", id, "status", resp.StatusCode, "bytes", len(raw))
	d.logger.Debug("Notification response body", "id", id, "body", text)
	return record.Response{StatusCode: uint16(resp.StatusCode), Body: text}, nil
}

// storableBody turns a raw response into text every store accepts: a rune
// split by truncation is dropped, invalid UTF-8 and NUL bytes become U+FFFD.
func storableBody(raw []byte, truncated bool) string {
	if truncated {
		for i := 0; i < utf8.UTFMax-1 && len(raw) > 0; i++ {
			r, size := utf8.DecodeLastRune(raw)
			if r != utf8.RuneError || size > 1 {
				break
			}
			raw = raw[:len(raw)-1]
		}
	}
	text := strings.ToValidUTF8(string(raw), "\uFFFD")
	return strings.ReplaceAll(text, "\x00", "\uFFFD")
}

// withQuery appends id and state to the endpoint, keeping existing parameters.
func withQuery(endpoint, id, state string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("malformed endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.New("malformed endpoint: absolute http(s) URL required")
	}
	q := u.Query()
	q.Set("id", id)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// setupTLS configures TLS settings for the outbound client
func setupTLS(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}
