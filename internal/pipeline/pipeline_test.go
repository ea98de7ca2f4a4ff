package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gateway-service/internal/auth"
	"gateway-service/internal/breaker"
	"gateway-service/internal/cache"
	"gateway-service/internal/config"
	"gateway-service/internal/events"
	"gateway-service/internal/kv"
	"gateway-service/internal/lb"
	"gateway-service/internal/router"
	"gateway-service/internal/throttle"
)

type notifyObserver struct{ fn func() }

func (o notifyObserver) Observe(events.Record) { o.fn() }

func newWatcher(t *testing.T, yamlDoc string) *config.Watcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	w, err := config.NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w
}

func newPipeline(t *testing.T, yamlDoc string, upstream http.Handler) (*Pipeline, *int32) {
	t.Helper()
	store := kv.NewMemory()
	t.Cleanup(func() { store.Close() })

	var calls int32
	counting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		upstream.ServeHTTP(w, r)
	})

	return &Pipeline{
		Config:    newWatcher(t, yamlDoc),
		Throttler: throttle.New(store),
		Cache:     cache.New(store, "test"),
		Breaker:   breaker.New(store, "test"),
		Upstream:  counting,
		Auth:      map[string]auth.Validator{},
	}, &calls
}

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}

func TestPipeline_ServeHTTP_PluginModeForwardsToUpstream(t *testing.T) {
	t.Parallel()
	p, calls := newPipeline(t, "premier:\n  servers: []\n", okHandler("pong"))

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/anything", nil))

	if w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Fatalf("response = %d %q, want 200 pong", w.Code, w.Body.String())
	}
	if *calls != 1 {
		t.Fatalf("upstream called %d times, want 1", *calls)
	}
}

func TestPipeline_ServeHTTP_CacheHitAvoidsSecondUpstreamCall(t *testing.T) {
	t.Parallel()
	doc := `
premier:
  paths:
    - pattern: "/cached"
      features:
        cache:
          expire_s: 60
`
	p, calls := newPipeline(t, doc, okHandler("value"))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cached", nil))
		if w.Code != http.StatusOK || w.Body.String() != "value" {
			t.Fatalf("request #%d = %d %q, want 200 value", i, w.Code, w.Body.String())
		}
	}

	if *calls != 1 {
		t.Fatalf("upstream called %d times, want 1 (second request should hit cache)", *calls)
	}
}

func TestPipeline_ServeHTTP_RateLimitRejectsOverQuota(t *testing.T) {
	t.Parallel()
	doc := `
premier:
  paths:
    - pattern: "/limited"
      features:
        rate_limit:
          algorithm: "fixed_window"
          quota: 1
          duration: 60
`
	p, _ := newPipeline(t, doc, okHandler("ok"))

	w1 := httptest.NewRecorder()
	p.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/limited", nil))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", w1.Code)
	}

	w2 := httptest.NewRecorder()
	p.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/limited", nil))
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", w2.Code)
	}
}

func TestPipeline_ServeHTTP_AuthRejectsMissingCredentials(t *testing.T) {
	t.Parallel()
	doc := `
premier:
  paths:
    - pattern: "/secure"
      features:
        auth:
          type: "basic"
`
	p, calls := newPipeline(t, doc, okHandler("secret"))
	p.Auth["basic"] = &auth.BasicValidator{Credentials: auth.BasicCredentials{"alice": "pw"}}

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/secure", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if *calls != 0 {
		t.Fatalf("upstream called %d times, want 0 (request should be rejected before forwarding)", *calls)
	}
}

func TestPipeline_ServeHTTP_AuthAcceptsValidCredentials(t *testing.T) {
	t.Parallel()
	doc := `
premier:
  paths:
    - pattern: "/secure"
      features:
        auth:
          type: "basic"
`
	p, calls := newPipeline(t, doc, okHandler("secret"))
	p.Auth["basic"] = &auth.BasicValidator{Credentials: auth.BasicCredentials{"alice": "pw"}}

	r := httptest.NewRequest(http.MethodGet, "/secure", nil)
	r.SetBasicAuth("alice", "pw")
	w := httptest.NewRecorder()
	p.ServeHTTP(w, r)

	if w.Code != http.StatusOK || w.Body.String() != "secret" {
		t.Fatalf("response = %d %q, want 200 secret", w.Code, w.Body.String())
	}
	if *calls != 1 {
		t.Fatalf("upstream called %d times, want 1", *calls)
	}
}

// slowForwarder mimics http.Client's behavior of aborting mid-flight once
// its request context is cancelled, the way a real backend dial would.
type slowForwarder struct{ delay time.Duration }

func (f slowForwarder) Forward(ctx context.Context, backend *lb.Backend, r *http.Request) (*http.Response, error) {
	select {
	case <-time.After(f.delay):
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("ok")),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPipeline_ServeHTTP_TimeoutReturnsConfiguredStatus(t *testing.T) {
	t.Parallel()
	doc := `
premier:
  servers: ["http://backend"]
  paths:
    - pattern: "/slow"
      features:
        timeout:
          seconds: 0.05
          error_status: 599
          error_message: "too slow"
`
	store := kv.NewMemory()
	t.Cleanup(func() { store.Close() })

	p := &Pipeline{
		Config:    newWatcher(t, doc),
		Throttler: throttle.New(store),
		Cache:     cache.New(store, "test"),
		Breaker:   breaker.New(store, "test"),
		Balancer:  lb.New([]string{"http://backend"}, lb.Config{}),
		Forwarder: slowForwarder{delay: 500 * time.Millisecond},
		Auth:      map[string]auth.Validator{},
	}
	t.Cleanup(p.Balancer.Close)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))

	if w.Code != 599 {
		t.Fatalf("status = %d, want 599 (configured timeout error_status)", w.Code)
	}
}

func TestPipeline_ServeHTTP_CircuitBreakerFeatureDoesNotBreakSuccessfulRequests(t *testing.T) {
	t.Parallel()
	doc := `
premier:
  paths:
    - pattern: "/flaky"
      features:
        circuit_breaker:
          failure_threshold: 1
          recovery_timeout: 60
`
	// The upstream path in plugin mode never returns a gwerrors.ErrUpstream
	// on its own (a 500 body is still a "successful" forward); breaker
	// behavior on the forwarding path itself is covered by
	// internal/breaker's own tests, so this test only confirms the
	// feature is wired through without panicking.
	p, _ := newPipeline(t, doc, okHandler("fine"))
	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/flaky", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestPipeline_ServeHTTP_PublishesEventRecord(t *testing.T) {
	t.Parallel()
	p, _ := newPipeline(t, "premier:\n  servers: []\n", okHandler("pong"))

	done := make(chan struct{})
	p.Sink = events.New(8, notifyObserver{fn: func() { close(done) }})
	t.Cleanup(p.Sink.Close)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("no event record published within 1s")
	}
}

func TestPipeline_authenticate_NilFeatureAlwaysAllows(t *testing.T) {
	t.Parallel()
	p := &Pipeline{Auth: map[string]auth.Validator{}}
	principal, err := p.authenticate(httptest.NewRequest(http.MethodGet, "/", nil), nil)
	if err != nil || principal.ID != "" {
		t.Fatalf("authenticate(nil feature) = %+v, %v, want zero-value principal, nil", principal, err)
	}
}

func TestPipeline_authenticate_UnknownTypeRejects(t *testing.T) {
	t.Parallel()
	p := &Pipeline{Auth: map[string]auth.Validator{}}
	_, err := p.authenticate(httptest.NewRequest(http.MethodGet, "/", nil), &router.AuthFeature{Type: "nonexistent"})
	if err == nil {
		t.Fatalf("authenticate(unknown type) = nil error, want error")
	}
}
