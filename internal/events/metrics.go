package events

import "gateway-service/internal/monitoring"

// MetricsObserver feeds per-request outcomes into the monitoring package's
// counters, independent of the per-path log-threshold check pipeline does
// inline — this is the always-on aggregate view across every path.
type MetricsObserver struct{}

func (MetricsObserver) Observe(rec Record) {
	monitoring.Inc("gateway_events_total",
		"cache_hit", boolLabel(rec.CacheHit),
		"throttled", boolLabel(rec.Throttled),
		"timed_out", boolLabel(rec.TimedOut),
	)
	if rec.ErrorKind != "" {
		monitoring.Inc("gateway_errors_total", "kind", rec.ErrorKind)
	}
	if rec.CircuitState != "" {
		monitoring.Set("gateway_circuit_open", circuitOpenValue(rec.CircuitState), "path", rec.MatchedPattern)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func circuitOpenValue(state string) float64 {
	if state == "OPEN" {
		return 1
	}
	return 0
}
