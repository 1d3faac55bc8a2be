package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/loykin/kvlet/internal/record"
)

type captured struct {
	method      string
	query       map[string]string
	body        []byte
	contentType string
	userAgent   string
}

func newEndpoint(t *testing.T, status int, respBody string) (*httptest.Server, chan captured) {
	t.Helper()
	ch := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		ch <- captured{
			method:      r.Method,
			query:       q,
			body:        b,
			contentType: r.Header.Get("Content-Type"),
			userAgent:   r.Header.Get("User-Agent"),
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func newDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestDispatchGet(t *testing.T) {
	srv, ch := newEndpoint(t, http.StatusOK, "ok")
	d := newDispatcher(t, Config{})
	info := "ignored"
	out, err := d.Dispatch(context.Background(), "k 1", "run&done", &info, record.Target{Method: record.MethodGet, Endpoint: srv.URL + "/cb?token=abc"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.StatusCode != 200 || out.Body != "ok" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	got := <-ch
	if got.method != http.MethodGet {
		t.Fatalf("method = %s", got.method)
	}
	if got.query["id"] != "k 1" || got.query["state"] != "run&done" || got.query["token"] != "abc" {
		t.Fatalf("unexpected query: %v", got.query)
	}
	if len(got.body) != 0 {
		t.Fatalf("GET must not send a body, got %q", got.body)
	}
	if got.userAgent != DefaultUserAgent {
		t.Fatalf("user agent = %q", got.userAgent)
	}
}

func TestDispatchPost(t *testing.T) {
	srv, ch := newEndpoint(t, http.StatusCreated, `{"accepted":true}`)
	d := newDispatcher(t, Config{UserAgent: "test-agent"})
	info := "details"
	out, err := d.Dispatch(context.Background(), "k2", "done", &info, record.Target{Method: record.MethodPost, Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.StatusCode != http.StatusCreated || out.Body != `{"accepted":true}` {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	got := <-ch
	if got.method != http.MethodPost || got.contentType != "application/json" || got.userAgent != "test-agent" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.query["id"] != "k2" || got.query["state"] != "done" {
		t.Fatalf("unexpected query: %v", got.query)
	}
	var p map[string]string
	if err := json.Unmarshal(got.body, &p); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if p["id"] != "k2" || p["state"] != "done" || p["info"] != "details" {
		t.Fatalf("unexpected payload: %v", p)
	}
}

func TestDispatchPostWithoutInfo(t *testing.T) {
	srv, ch := newEndpoint(t, http.StatusOK, "")
	d := newDispatcher(t, Config{})
	if _, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodPost, Endpoint: srv.URL}); err != nil {
		t.Fatal(err)
	}
	got := <-ch
	var p map[string]any
	if err := json.Unmarshal(got.body, &p); err != nil {
		t.Fatal(err)
	}
	if v, ok := p["info"]; !ok || v != "" {
		t.Fatalf("info must be an empty string when absent, got %v", p)
	}
}

func TestNon2xxIsOutcome(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusInternalServerError, "broken")
	d := newDispatcher(t, Config{})
	out, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodGet, Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("non-2xx must not be an error: %v", err)
	}
	if out.StatusCode != 500 || out.Body != "broken" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestDispatchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	d := newDispatcher(t, Config{Timeout: 2 * time.Second})
	_, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodGet, Endpoint: endpoint})
	var de *record.DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if de.ID != "k" || de.Endpoint != endpoint || de.Unwrap() == nil {
		t.Fatalf("dispatch error lost context: %+v", de)
	}
}

func TestDispatchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	d := newDispatcher(t, Config{Timeout: 50 * time.Millisecond})
	_, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodGet, Endpoint: srv.URL})
	if !record.IsDispatch(err) {
		t.Fatalf("expected DispatchError on timeout, got %v", err)
	}
}

func TestDispatchMalformedEndpoint(t *testing.T) {
	d := newDispatcher(t, Config{})
	for _, ep := range []string{"://bad", "/relative/only", "ftp://host/x"} {
		_, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodPost, Endpoint: ep})
		if !record.IsDispatch(err) {
			t.Fatalf("expected DispatchError for %q, got %v", ep, err)
		}
	}
}

func TestDispatchNoneRejected(t *testing.T) {
	d := newDispatcher(t, Config{})
	_, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodNone, Endpoint: "http://x"})
	if !record.IsConfig(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestBodyTruncated(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusOK, strings.Repeat("a", 64))
	d := newDispatcher(t, Config{MaxBodyBytes: 16})
	out, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodGet, Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Body) != 16 {
		t.Fatalf("expected truncated body of 16 bytes, got %d", len(out.Body))
	}
}

func TestBodyTruncatedMidRune(t *testing.T) {
	// "é" is two bytes, so a 5 byte limit cuts the third one in half
	srv, _ := newEndpoint(t, http.StatusOK, strings.Repeat("é", 8))
	var logs bytes.Buffer
	d := newDispatcher(t, Config{MaxBodyBytes: 5, Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	out, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodGet, Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if out.Body != "éé" {
		t.Fatalf("expected split rune dropped, got %q", out.Body)
	}
	if !strings.Contains(logs.String(), "Notification response truncated") {
		t.Fatalf("truncation not logged: %s", logs.String())
	}
}

func TestBodyAtLimitNotTruncated(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusOK, "exactly16bytes!!")
	var logs bytes.Buffer
	d := newDispatcher(t, Config{MaxBodyBytes: 16, Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	out, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodGet, Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if out.Body != "exactly16bytes!!" {
		t.Fatalf("unexpected body %q", out.Body)
	}
	if strings.Contains(logs.String(), "truncated") {
		t.Fatalf("body at the limit reported as truncated: %s", logs.String())
	}
}

func TestBinaryBodyMadeStorable(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusOK, "ok\xff\xfe\x00end")
	d := newDispatcher(t, Config{})
	out, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodGet, Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(out.Body) || strings.ContainsRune(out.Body, 0) {
		t.Fatalf("body not storable as text: %q", out.Body)
	}
	if !strings.HasPrefix(out.Body, "ok") || !strings.HasSuffix(out.Body, "end") {
		t.Fatalf("valid text around invalid bytes lost: %q", out.Body)
	}
}

func TestTLSConfig(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "secure")
	}))
	t.Cleanup(srv.Close)

	// default verification rejects the self-signed test certificate
	d := newDispatcher(t, Config{Timeout: 2 * time.Second})
	if _, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodGet, Endpoint: srv.URL}); !record.IsDispatch(err) {
		t.Fatalf("expected verification failure, got %v", err)
	}

	d = newDispatcher(t, Config{TLS: &TLSConfig{SkipVerify: true}})
	out, err := d.Dispatch(context.Background(), "k", "s", nil, record.Target{Method: record.MethodGet, Endpoint: srv.URL})
	if err != nil || out.Body != "secure" {
		t.Fatalf("skip verify dispatch: %+v err=%v", out, err)
	}

	bad := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(bad, []byte("not a cert"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{TLS: &TLSConfig{CACert: bad}}); !record.IsConfig(err) {
		t.Fatalf("expected ConfigError for unparsable CA, got %v", err)
	}
}
