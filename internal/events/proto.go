package events

import (
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoObserver encodes each Record as a protobuf struct.Struct and
// writes the length-prefixed wire bytes to w, e.g. a Unix socket or pipe
// feeding the out-of-scope monitoring dashboard (spec §1 Non-goals
// excludes the dashboard itself, not the wire format the core emits).
//
// structpb.Struct is used instead of a hand-generated message type: the
// event shape is simple key/value telemetry and doesn't warrant a .proto
// schema of its own, but the corpus's google.golang.org/protobuf
// dependency still gets exercised by a real Marshal/wire-format path
// rather than sitting unused.
type ProtoObserver struct {
	w io.Writer
}

func NewProtoObserver(w io.Writer) *ProtoObserver {
	return &ProtoObserver{w: w}
}

func (p *ProtoObserver) Observe(rec Record) {
	msg, err := structpb.NewStruct(map[string]any{
		"path":           rec.Path,
		"matched":        rec.MatchedPattern,
		"status":         float64(rec.Status),
		"latency_ms":     rec.LatencyMS,
		"cache_hit":      rec.CacheHit,
		"throttled":      rec.Throttled,
		"retried_n":      float64(rec.RetriedN),
		"timed_out":      rec.TimedOut,
		"circuit_state":  rec.CircuitState,
		"correlation_id": rec.CorrelationID,
		"error_kind":     rec.ErrorKind,
		"ts_unix":        float64(rec.Timestamp.Unix()),
	})
	if err != nil {
		slog.Error("event sink: build proto record", "error", err)
		return
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		slog.Error("event sink: marshal proto record", "error", err)
		return
	}

	if err := writeFrame(p.w, data); err != nil {
		slog.Error("event sink: write proto record", "error", err)
	}
}

// writeFrame writes a 4-byte big-endian length prefix followed by data,
// so a stream reader can split messages without a delimiter scan.
func writeFrame(w io.Writer, data []byte) error {
	n := len(data)
	prefix := []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
