// Package lb implements the round-robin load balancer of spec §4.F: a
// mutable backend list with passive failure counting and active health
// probing, shared across concurrent requests via an atomic cursor.
package lb

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"gateway-service/internal/gwerrors"

	"golang.org/x/time/rate"
)

// Backend is one upstream URL and its passively/actively observed health
// (spec §3 Backend).
type Backend struct {
	URL string

	mu               sync.Mutex
	healthy          bool
	consecutiveFails int
}

func (b *Backend) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *Backend) markFailure(threshold int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails++
	if b.consecutiveFails >= threshold {
		b.healthy = false
	}
}

func (b *Backend) markSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.healthy = true
}

func (b *Backend) setHealthy(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = v
	if v {
		b.consecutiveFails = 0
	}
}

// Config controls failure-threshold and probing cadence.
type Config struct {
	// FailureThreshold is the consecutive forwarding failure count that
	// marks a backend unhealthy; zero means 5. It is not taken from the
	// circuit_breaker failure_threshold.
	FailureThreshold int
	// ProbeInterval is how often an unhealthy backend is actively probed.
	ProbeInterval time.Duration
	// ProbeTimeout bounds each probe request.
	ProbeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 10 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	return c
}

// Balancer round-robins over a backend list, skipping unhealthy entries,
// and runs a background prober that reactivates backends once they
// answer a health check again.
type Balancer struct {
	cfg      Config
	backends []*Backend
	cursor   atomic.Uint64
	client   *http.Client
	limiter  *rate.Limiter

	stop chan struct{}
	once sync.Once
}

// New builds a balancer over urls. One probe limiter, shared by all
// backends, paces probes to one per ProbeInterval on average with a burst
// of len(urls)+1 (golang.org/x/time/rate token bucket), distinct from the
// throttler's own hand-rolled algorithms.
func New(urls []string, cfg Config) *Balancer {
	cfg = cfg.withDefaults()
	backends := make([]*Backend, len(urls))
	for i, u := range urls {
		backends[i] = &Backend{URL: u, healthy: true}
	}
	lb := &Balancer{
		cfg:      cfg,
		backends: backends,
		client:   &http.Client{Timeout: cfg.ProbeTimeout},
		limiter:  rate.NewLimiter(rate.Every(cfg.ProbeInterval), len(backends)+1),
		stop:     make(chan struct{}),
	}
	return lb
}

// Next advances the shared cursor and returns the next healthy backend.
// Selection is monotonic but not strictly fair under bursty load (spec §5
// ordering guarantee 3).
func (lb *Balancer) Next() (*Backend, error) {
	n := len(lb.backends)
	if n == 0 {
		return nil, gwerrors.ErrNoHealthy
	}
	for i := 0; i < n; i++ {
		idx := lb.cursor.Add(1) % uint64(n)
		b := lb.backends[idx]
		if b.Healthy() {
			return b, nil
		}
	}
	return nil, gwerrors.ErrNoHealthy
}

// RecordFailure marks a forwarding failure against b.
func (lb *Balancer) RecordFailure(b *Backend) {
	b.markFailure(lb.cfg.FailureThreshold)
}

// RecordSuccess clears b's failure streak and marks it healthy.
func (lb *Balancer) RecordSuccess(b *Backend) {
	b.markSuccess()
}

// Backends returns the live backend list (for admin/health reporting).
func (lb *Balancer) Backends() []*Backend {
	return lb.backends
}

// StartProbing launches the background health-check loop. It returns
// immediately; call Close (or cancel ctx) to stop it.
func (lb *Balancer) StartProbing(ctx context.Context) {
	go lb.probeLoop(ctx)
}

func (lb *Balancer) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(lb.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-lb.stop:
			return
		case <-ticker.C:
			lb.probeOnce(ctx)
		}
	}
}

func (lb *Balancer) probeOnce(ctx context.Context) {
	for _, b := range lb.backends {
		if b.Healthy() {
			continue
		}
		if !lb.limiter.Allow() {
			continue
		}
		go lb.probe(ctx, b)
	}
}

func (lb *Balancer) probe(ctx context.Context, b *Backend) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.URL, nil)
	if err != nil {
		return
	}
	resp, err := lb.client.Do(req)
	if err != nil {
		slog.Debug("backend probe failed", "backend", b.URL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 500 {
		slog.Info("backend recovered", "backend", b.URL)
		b.setHealthy(true)
	}
}

// Close stops the background prober.
func (lb *Balancer) Close() {
	lb.once.Do(func() { close(lb.stop) })
}
