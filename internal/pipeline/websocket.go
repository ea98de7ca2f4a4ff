package pipeline

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gateway-service/internal/events"
	"gateway-service/internal/gwerrors"
	"gateway-service/internal/middlewares"
	"gateway-service/internal/throttle"

	"github.com/gorilla/websocket"
)

// upgrader is shared across connections; CheckOrigin is left permissive
// here since origin policy is a deployment concern outside this spec's
// scope (spec §1 Non-goals: transport-layer details beyond the byte
// pump itself).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWebSocket implements spec §4.H's WebSocket path: auth and
// rate-limit-at-connect run exactly as the HTTP path does, but caching
// and retry are skipped — once upgraded, the gateway is a bidirectional
// byte pump until either side closes.
func (p *Pipeline) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
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
		if err := toAuthRBAC(features.Auth.RBAC).Authorize(principal, pattern); err != nil {
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
		if err != nil || wait > 0 {
			rec.Throttled = true
			rec.ErrorKind = errKind(err)
			applyRateLimitHeaders(w, features.RateLimit, wait)
			msg := features.RateLimit.ErrorMessage
			if msg == "" {
				msg = "rate limit exceeded"
			}
			writeError(w, r, features.RateLimit.ErrorStatus, msg)
			return
		}
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "path", r.URL.Path, "error", err)
		return
	}
	defer clientConn.Close()

	backendConn, err := p.dialBackendWS(r)
	if err != nil {
		rec.ErrorKind = "upstream_error"
		slog.Error("websocket backend dial failed", "path", r.URL.Path, "error", err)
		_ = clientConn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "backend unavailable"))
		return
	}
	defer backendConn.Close()

	rec.Status = http.StatusSwitchingProtocols
	pump(clientConn, backendConn)
}

// dialBackendWS picks a backend via the load balancer (standalone mode
// only — plugin-mode upstreams are plain http.Handler and have no
// WebSocket analog in this spec) and dials it over ws/wss.
func (p *Pipeline) dialBackendWS(r *http.Request) (*websocket.Conn, error) {
	if p.Balancer == nil {
		return nil, fmt.Errorf("pipeline: websocket forwarding requires standalone mode")
	}
	backend, err := p.Balancer.Next()
	if err != nil {
		return nil, err
	}

	target, err := url.Parse(backend.URL)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse backend url %q: %w", backend.URL, err)
	}
	switch target.Scheme {
	case "http":
		target.Scheme = "ws"
	case "https":
		target.Scheme = "wss"
	}
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	header := make(http.Header)
	for k, vs := range r.Header {
		if strings.EqualFold(k, "Connection") || strings.EqualFold(k, "Upgrade") ||
			strings.HasPrefix(strings.ToLower(k), "sec-websocket") {
			continue
		}
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	conn, _, err := websocket.DefaultDialer.Dial(target.String(), header)
	if err != nil {
		p.Balancer.RecordFailure(backend)
		return nil, err
	}
	p.Balancer.RecordSuccess(backend)
	return conn, nil
}

// pump relays frames bidirectionally until either side closes, per spec
// §4.H: "the gateway becomes a bidirectional byte pump until either side
// closes."
func pump(a, b *websocket.Conn) {
	errc := make(chan error, 2)
	go copyWS(b, a, errc)
	go copyWS(a, b, errc)
	<-errc
}

func copyWS(dst, src *websocket.Conn, errc chan<- error) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			errc <- err
			return
		}
	}
}
