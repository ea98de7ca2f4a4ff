package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"gateway-service/internal/breaker"
	"gateway-service/internal/cache"
	"gateway-service/internal/config"
	"gateway-service/internal/events"
	"gateway-service/internal/gwerrors"
	"gateway-service/internal/handlers"
	"gateway-service/internal/monitoring"
	"gateway-service/internal/retry"
	"gateway-service/internal/router"
)

// capturedResponse is what one backend/upstream call produced, bridging
// http.ResponseWriter-shaped output and cache.Entry.
type capturedResponse struct {
	status      int
	body        []byte
	contentType string
	headers     [][2]string
}

func (c capturedResponse) writeTo(w http.ResponseWriter) {
	for _, kv := range c.headers {
		w.Header().Add(kv[0], kv[1])
	}
	if c.contentType != "" {
		w.Header().Set("Content-Type", c.contentType)
	}
	w.WriteHeader(c.status)
	_, _ = w.Write(c.body)
}

// executeAndRespond runs steps 5-9 of spec §4.H: timeout envelope around
// retry(circuit-breaker(forward)), then cache store on success.
func (p *Pipeline) executeAndRespond(w http.ResponseWriter, r *http.Request, features router.Features, rec *events.Record) {
	resp, retriedN, err := p.execute(r, features, rec)
	rec.RetriedN = retriedN

	if err != nil {
		rec.ErrorKind = errKind(err)
		status := gwerrors.StatusFor(err)
		msg := err.Error()
		if features.Timeout != nil && (status == http.StatusGatewayTimeout) {
			status = features.Timeout.ErrorStatus
			if features.Timeout.ErrorMessage != "" {
				msg = features.Timeout.ErrorMessage
			}
		}
		rec.Status = status
		writeError(w, r, status, msg)
		return
	}

	rec.Status = resp.status
	resp.writeTo(w)
}

// execute wraps the retry/breaker/forward chain in the configured
// timeout, if any (spec §4.H step 5).
func (p *Pipeline) execute(r *http.Request, features router.Features, rec *events.Record) (capturedResponse, int, error) {
	ctx := r.Context()
	if features.Timeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(features.Timeout.Seconds*float64(time.Second)))
		defer cancel()
	}

	attempts := 0
	var resp capturedResponse

	op := func(ctx context.Context, attempt int) error {
		attempts = attempt
		var err error
		resp, err = p.forwardOnce(ctx, r, features)
		return err
	}

	wrapped := op
	if features.CircuitBreaker != nil {
		wrapped = p.withBreaker(op, features, rec)
	}

	var err error
	if features.Retry != nil {
		err = retry.Do(ctx, features.Retry.MaxAttempts, waitFor(features.Retry), gwerrors.Retryable, wrapped)
	} else {
		err = wrapped(ctx, 1)
	}

	// attempts stays 0 (retriedN would be -1) when the breaker short-circuits
	// before op ever runs once; retriedN counts actual forwarding attempts,
	// so clamp at 0.
	retriedN := attempts - 1
	if retriedN < 0 {
		retriedN = 0
	}

	if ctx.Err() != nil && err != nil {
		rec.TimedOut = true
		return capturedResponse{}, retriedN, gwerrors.ErrTimedOut
	}
	if err != nil {
		return capturedResponse{}, retriedN, err
	}
	return resp, retriedN, nil
}

func (p *Pipeline) withBreaker(op retry.Op, features router.Features, rec *events.Record) retry.Op {
	return func(ctx context.Context, attempt int) error {
		key := breakerKey(rec.MatchedPattern)
		cfg := breakerConfig(features)

		state, err := p.Breaker.Allow(ctx, key, cfg)
		rec.CircuitState = state
		if err != nil {
			return err
		}

		opErr := op(ctx, attempt)
		if opErr != nil {
			if recErr := p.Breaker.RecordFailure(ctx, key, cfg); recErr != nil {
				return recErr
			}
			return opErr
		}
		return p.Breaker.RecordSuccess(ctx, key, cfg)
	}
}

// breakerKey derives the breaker's KV key from the matched route pattern's
// source text, not a process-local pointer: the key must stay stable
// across gateway instances sharing one Redis store and across a hot
// reload's fresh *CircuitBreakerFeature allocations (spec §4.E/§9 — "state
// shared across every gateway instance"). Requests that only hit the
// default feature set (no pattern matched) share one breaker, matching
// that they already share one CircuitBreakerFeature.
func breakerKey(pattern string) string {
	if pattern == "" {
		return "__default__"
	}
	return pattern
}

func breakerConfig(features router.Features) breaker.Config {
	return breaker.Config{
		FailureThreshold: features.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(features.CircuitBreaker.RecoveryTimeout * float64(time.Second)),
	}
}

func waitFor(f *router.RetryFeature) retry.Wait {
	switch v := f.Wait.(type) {
	case string:
		if v == "expo" {
			return retry.Expo(100 * time.Millisecond)
		}
	case float64:
		return retry.Constant(time.Duration(v * float64(time.Second)))
	case int:
		return retry.Constant(time.Duration(v) * time.Second)
	case []any:
		seq := make(retry.Sequence, 0, len(v))
		for _, e := range v {
			switch n := e.(type) {
			case float64:
				seq = append(seq, time.Duration(n*float64(time.Second)))
			case int:
				seq = append(seq, time.Duration(n)*time.Second)
			}
		}
		return seq
	}
	return retry.Constant(0)
}

// forwardOnce performs exactly one backend/upstream call (spec §4.H step
// 8): plugin mode invokes Upstream directly, standalone mode picks a
// backend via the load balancer.
func (p *Pipeline) forwardOnce(ctx context.Context, r *http.Request, features router.Features) (capturedResponse, error) {
	ctx, span := monitoring.Start(ctx, "forward "+r.URL.Path)
	defer span.End()

	if p.Upstream != nil {
		return p.invokeUpstream(ctx, r)
	}
	return p.invokeBackend(ctx, r)
}

func (p *Pipeline) invokeUpstream(ctx context.Context, r *http.Request) (capturedResponse, error) {
	rw := httptest.NewRecorder()
	p.Upstream.ServeHTTP(rw, r.WithContext(ctx))
	return recorderToCaptured(rw), nil
}

func (p *Pipeline) invokeBackend(ctx context.Context, r *http.Request) (capturedResponse, error) {
	backend, err := p.Balancer.Next()
	if err != nil {
		return capturedResponse{}, err
	}

	resp, err := p.Forwarder.Forward(ctx, backend, r)
	if err != nil {
		p.Balancer.RecordFailure(backend)
		return capturedResponse{}, fmt.Errorf("%w: %s: %v", gwerrors.ErrUpstream, backend.URL, err)
	}
	defer resp.Body.Close()

	p.Balancer.RecordSuccess(backend)
	return responseToCaptured(resp)
}

func recorderToCaptured(rw *httptest.ResponseRecorder) capturedResponse {
	return capturedResponse{
		status:      rw.Code,
		body:        rw.Body.Bytes(),
		contentType: rw.Header().Get("Content-Type"),
		headers:     headerPairs(rw.Header()),
	}
}

func responseToCaptured(resp *http.Response) (capturedResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return capturedResponse{}, fmt.Errorf("%w: read backend body: %v", gwerrors.ErrUpstream, err)
	}
	return capturedResponse{
		status:      resp.StatusCode,
		body:        body,
		contentType: resp.Header.Get("Content-Type"),
		headers:     headerPairs(resp.Header),
	}, nil
}

func headerPairs(h http.Header) [][2]string {
	out := make([][2]string, 0, len(h))
	for k, vs := range h {
		for _, v := range vs {
			out = append(out, [2]string{k, v})
		}
	}
	return out
}

// serveCached implements spec §4.C/§4.H step 4: cache lookup before the
// expensive path, producer runs the full execute() chain on a miss.
func (p *Pipeline) serveCached(w http.ResponseWriter, r *http.Request, snap *config.Snapshot, features router.Features, rec *events.Record) {
	key := cache.HTTPKey(r.Method, r.URL.Path, r.URL.Query(), nil)
	if features.Cache.CacheKey != "" {
		key = features.Cache.CacheKey
	}

	ttl := time.Duration(features.Cache.ExpireSeconds) * time.Second
	hit := true
	var uncached *capturedResponse

	entry, err := p.Cache.GetOrCompute(r.Context(), key, ttl, func(ctx context.Context) (cache.Entry, error) {
		hit = false
		resp, retriedN, err := p.execute(r.WithContext(ctx), features, rec)
		rec.RetriedN = retriedN
		if err != nil {
			return cache.Entry{}, err
		}
		if !cache.Cacheable(r.Method, resp.status) {
			uncached = &resp
			return cache.Entry{}, errNotCacheable
		}
		return cache.Entry{
			ValueBytes:  resp.body,
			ContentType: resp.contentType,
			Status:      resp.status,
			Headers:     resp.headers,
		}, nil
	})

	if err != nil {
		if err == errNotCacheable {
			// The producer's response was computed but shouldn't be
			// persisted; execute() already wrote rec fields, so that
			// response is written as is. A caller that shared another
			// caller's producer run has no response of its own and runs
			// the request path again without cache.
			if uncached != nil {
				rec.Status = uncached.status
				uncached.writeTo(w)
				return
			}
			p.executeAndRespond(w, r, features, rec)
			return
		}
		rec.ErrorKind = errKind(err)
		status := gwerrors.StatusFor(err)
		rec.Status = status
		writeError(w, r, status, err.Error())
		return
	}

	rec.CacheHit = hit
	if hit {
		rec.Status = entry.Status
	}
	captured := capturedResponse{
		status:      entry.Status,
		body:        entry.ValueBytes,
		contentType: entry.ContentType,
		headers:     entry.Headers,
	}
	captured.writeTo(w)
}

var errNotCacheable = fmt.Errorf("pipeline: response not cacheable")

// writeError writes the error body in the format the client asked for:
// JSON by default, plain text for a client that explicitly prefers
// text/plain over application/json (e.g. curl, a shell health check).
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/plain") && !strings.Contains(accept, "application/json") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintln(w, message)
		return
	}
	handlers.WriteErrorJSON(w, status, message)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
