package events

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type collectingObserver struct {
	mu      sync.Mutex
	records []Record
}

func (c *collectingObserver) Observe(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *collectingObserver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func TestSink_PublishFansOutToAllObservers(t *testing.T) {
	t.Parallel()
	a, b := &collectingObserver{}, &collectingObserver{}
	s := New(8, a, b)
	defer s.Close()

	s.Publish(Record{Path: "/x"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if a.count() == 1 && b.count() == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("observers did not both receive the record: a=%d b=%d", a.count(), b.count())
}

func TestSink_PublishNeverBlocksWhenQueueFull(t *testing.T) {
	t.Parallel()
	blocking := make(chan struct{})
	s := New(1, ObserveFunc(func(Record) { <-blocking }))
	defer s.Close()
	defer close(blocking)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Publish(Record{Path: "/x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked with a full queue")
	}
}

// ObserveFunc adapts a plain function to the Observer interface for tests.
type ObserveFunc func(Record)

func (f ObserveFunc) Observe(rec Record) { f(rec) }

func TestMetricsObserver_DoesNotPanicOnEmptyRecord(t *testing.T) {
	t.Parallel()
	MetricsObserver{}.Observe(Record{})
}

func TestProtoObserver_WritesLengthPrefixedFrame(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	obs := NewProtoObserver(&buf)

	obs.Observe(Record{Path: "/orders", Status: 200, LatencyMS: 12.5})

	if buf.Len() < 4 {
		t.Fatalf("buffer too short for a length prefix: %d bytes", buf.Len())
	}
	n := binary.BigEndian.Uint32(buf.Bytes()[:4])
	payload := buf.Bytes()[4:]
	if int(n) != len(payload) {
		t.Fatalf("length prefix = %d, want %d (payload length)", n, len(payload))
	}

	msg := &structpb.Struct{}
	if err := proto.Unmarshal(payload, msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := msg.Fields["path"].GetStringValue(); got != "/orders" {
		t.Fatalf("decoded path = %q, want /orders", got)
	}
}
