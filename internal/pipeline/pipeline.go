// Package pipeline implements the per-request policy composition of
// spec §4.H: resolve a path policy, run its enabled features in order,
// and dispatch to the plugin upstream or a load-balanced backend.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gateway-service/internal/auth"
	"gateway-service/internal/breaker"
	"gateway-service/internal/cache"
	"gateway-service/internal/config"
	"gateway-service/internal/events"
	"gateway-service/internal/gwerrors"
	"gateway-service/internal/lb"
	"gateway-service/internal/middlewares"
	"gateway-service/internal/monitoring"
	"gateway-service/internal/router"
	"gateway-service/internal/throttle"
)

// Upstream is the plugin-mode forwarding target (spec §1: "gateway wraps
// an in-process upstream application").
type Upstream interface {
	http.Handler
}

// Forwarder abstracts standalone-mode backend forwarding so Pipeline
// doesn't need to know about HTTP transport details beyond picking a
// *lb.Backend and producing a response.
type Forwarder interface {
	Forward(ctx context.Context, backend *lb.Backend, r *http.Request) (*http.Response, error)
}

// Pipeline is the stateless (per spec §3 Lifecycle) request orchestrator.
// All mutable state it touches lives in the KV-store-backed components
// it was constructed with.
type Pipeline struct {
	Config    *config.Watcher
	Throttler *throttle.Throttler
	Cache     *cache.Cache
	Breaker   *breaker.Breaker
	Balancer  *lb.Balancer // nil in plugin mode
	Forwarder Forwarder    // nil in plugin mode
	Upstream  Upstream     // nil in standalone mode
	Sink      *events.Sink
	Auth      map[string]auth.Validator // keyed by auth.type

	// Now is overridable for tests.
	Now func() time.Time
}

// ServeHTTP implements spec §4.H steps 1-10 for ordinary HTTP requests.
// WebSocket upgrades are handled by websocket.go's separate entry point,
// which shares policy resolution and auth but skips caching/retry.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := p.now()
	snap := p.Config.Current()
	features, pattern := snap.Router.ResolveWithPattern(r.Method, r.URL.Path)

	rec := events.Record{
		Path:           r.URL.Path,
		MatchedPattern: pattern,
		Timestamp:      start,
		CorrelationID:  middlewares.GetCorrelationID(r.Context()),
	}
	defer func() {
		rec.LatencyMS = float64(p.now().Sub(start)) / float64(time.Millisecond)
		logSlowRequest(features.Monitoring, rec)
		if p.Sink != nil {
			p.Sink.Publish(rec)
		}
	}()

	principal, err := p.authenticate(r, features.Auth)
	if err != nil {
		rec.ErrorKind = errKind(err)
		writeError(w, r, gwerrors.StatusFor(err), err.Error())
		return
	}

	if features.Auth != nil && features.Auth.RBAC != nil {
		rb := toAuthRBAC(features.Auth.RBAC)
		if err := rb.Authorize(principal, pattern); err != nil {
			rec.ErrorKind = errKind(err)
			writeError(w, r, gwerrors.StatusFor(err), "forbidden")
			return
		}
	}

	if features.RateLimit != nil {
		key := rateLimitKey(snap.Keyspace, r.URL.Path, principal)
		wait, err := p.Throttler.Acquire(r.Context(), key, throttle.Algorithm(features.RateLimit.Algorithm), throttle.Params{
			Quota:      features.RateLimit.Quota,
			Duration:   time.Duration(features.RateLimit.Duration) * time.Second,
			BucketSize: features.RateLimit.BucketSize,
		})
		// Acquire's contract (spec §4.B): err is only set for BucketFull or
		// a store failure; an ordinary "reject, retry later" result comes
		// back as (wait > 0, nil), so both conditions mean "not admitted".
		if err != nil || wait > 0 {
			rec.Throttled = true
			rec.ErrorKind = errKind(err)
			applyRateLimitHeaders(w, features.RateLimit, wait)
			status := features.RateLimit.ErrorStatus
			msg := features.RateLimit.ErrorMessage
			if msg == "" {
				msg = "rate limit exceeded"
			}
			writeError(w, r, status, msg)
			return
		}
	}

	if features.Cache != nil && cacheableMethod(r.Method) {
		p.serveCached(w, r, snap, features, &rec)
		return
	}

	p.executeAndRespond(w, r, features, &rec)
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func cacheableMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func errKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gwerrors.ErrQuotaExceeded), errors.Is(err, gwerrors.ErrBucketFull):
		return "quota_exceeded"
	case errors.Is(err, gwerrors.ErrTimedOut):
		return "timed_out"
	case errors.Is(err, gwerrors.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, gwerrors.ErrNoHealthy):
		return "no_healthy_backend"
	case errors.Is(err, gwerrors.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, gwerrors.ErrForbidden):
		return "forbidden"
	case errors.Is(err, gwerrors.ErrUpstream):
		return "upstream_error"
	default:
		return "internal_error"
	}
}

// logSlowRequest feeds the per-path monitoring feature: every request
// bumps the shared request-count/latency metrics, and one exceeding the
// path's log_threshold (spec's monitoring feature) is logged at Warn.
func logSlowRequest(f *router.MonitoringFeature, rec events.Record) {
	monitoring.Inc("gateway_requests_total", "path", rec.Path)
	monitoring.Observe("gateway_request_latency_ms", rec.LatencyMS, "path", rec.Path)

	if f == nil || f.LogThreshold <= 0 || rec.LatencyMS < f.LogThreshold {
		return
	}
	slog.Warn("request exceeded monitoring threshold",
		"path", rec.Path,
		"pattern", rec.MatchedPattern,
		"latency_ms", rec.LatencyMS,
		"threshold_ms", f.LogThreshold,
	)
}

func toAuthRBAC(f *router.RBACFeature) *auth.RBAC {
	return &auth.RBAC{
		Roles:              f.Roles,
		UserRoles:          f.UserRoles,
		RoutePermissions:   f.RoutePermissions,
		DefaultRole:        f.DefaultRole,
		AllowAnyPermission: f.AllowAnyPermission,
	}
}

func (p *Pipeline) authenticate(r *http.Request, f *router.AuthFeature) (auth.Principal, error) {
	if f == nil {
		return auth.Principal{}, nil
	}
	v, ok := p.Auth[f.Type]
	if !ok {
		return auth.Principal{}, gwerrors.ErrUnauthenticated
	}
	return v.Validate(r.Context(), r)
}

func rateLimitKey(keyspace, path string, principal auth.Principal) string {
	key := keyspace + ":" + path
	if principal.ID != "" {
		key += ":" + principal.ID
	}
	return key
}

func applyRateLimitHeaders(w http.ResponseWriter, f *router.RateLimitFeature, wait float64) {
	w.Header().Set("X-RateLimit-Limit", itoa(f.Quota))
	w.Header().Set("X-RateLimit-Remaining", "0")
	if wait > 0 {
		w.Header().Set("Retry-After", itoa(int(wait)+1))
	}
}
