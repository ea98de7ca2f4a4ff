// Package events implements the non-blocking telemetry fan-out of spec
// §4.I: per-request records are published to zero or more observers
// without ever blocking the request path.
package events

import (
	"log/slog"
	"time"
)

// Record is one request's telemetry, emitted by the pipeline at the end
// of step 10 (spec §4.H).
type Record struct {
	Path           string
	MatchedPattern string
	Status         int
	LatencyMS      float64
	CacheHit       bool
	Throttled      bool
	RetriedN       int
	TimedOut       bool
	CircuitState   string
	CorrelationID  string
	ErrorKind      string
	Timestamp      time.Time
}

// Observer receives published records. Implementations must not block —
// the sink already runs them off the request's goroutine, but a slow or
// wedged observer must not back up the sink's channel forever, so
// observers should do their own internal buffering/dropping.
type Observer interface {
	Observe(Record)
}

// Sink fans out records to its observers on a dedicated goroutine, so
// Publish never blocks the caller on a slow observer. Full channels drop
// the record rather than apply backpressure to the request path.
type Sink struct {
	observers []Observer
	records   chan Record
	done      chan struct{}
}

// New starts a sink with the given observers and an internal queue of
// bufferSize records. Call Close to drain and stop the fan-out goroutine.
func New(bufferSize int, observers ...Observer) *Sink {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	s := &Sink{
		observers: observers,
		records:   make(chan Record, bufferSize),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish enqueues rec for fan-out. It never blocks: if the internal
// queue is full, the record is dropped and logged at debug level.
func (s *Sink) Publish(rec Record) {
	select {
	case s.records <- rec:
	default:
		slog.Debug("event sink queue full, dropping record", "path", rec.Path)
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for rec := range s.records {
		for _, o := range s.observers {
			o.Observe(rec)
		}
	}
}

// Close stops accepting new records and waits for the queue to drain.
func (s *Sink) Close() {
	close(s.records)
	<-s.done
}

// LogObserver is a trivial Observer that logs every record via slog —
// useful as a default when no external monitoring dashboard is wired.
type LogObserver struct{}

func (LogObserver) Observe(rec Record) {
	slog.Info("request event",
		"path", rec.Path,
		"pattern", rec.MatchedPattern,
		"status", rec.Status,
		"latency_ms", rec.LatencyMS,
		"cache_hit", rec.CacheHit,
		"throttled", rec.Throttled,
		"retried_n", rec.RetriedN,
		"timed_out", rec.TimedOut,
		"circuit_state", rec.CircuitState,
		"correlation_id", rec.CorrelationID,
	)
}
