package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-attendance/internal/identity"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/influxdb"
)

type fakeRetained struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
	block    chan struct{}
}

func (f *fakeRetained) PublishRetained(topic string, payload []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return f.err
}

func (f *fakeRetained) last(t *testing.T) State {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		t.Fatal("nothing published")
	}
	var s State
	if err := json.Unmarshal(f.payloads[len(f.payloads)-1], &s); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	return s
}

func TestStatePublisher_ConvergesOnLatest(t *testing.T) {
	pub := &fakeRetained{}
	p := NewStatePublisher(pub, "attendance/kiosk/dev-1/session/state", nil)

	s := newTestSession(t, &stubVerifier{subject: &identity.Subject{ID: "42"}}, &recorder{}, p)
	if _, err := s.Begin(t.Context(), "S1"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	p.Close()
	p.Close() // idempotent

	got := pub.last(t)
	if got.Phase != PhaseIdle || got.Attempt != 1 || got.Last == nil || got.Last.Kind != KindMatched {
		t.Errorf("last published state = %+v", got)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, topic := range pub.topics {
		if topic != "attendance/kiosk/dev-1/session/state" {
			t.Errorf("published to %q", topic)
		}
	}
}

func TestStatePublisher_NeverBlocks(t *testing.T) {
	pub := &fakeRetained{block: make(chan struct{})}
	p := NewStatePublisher(pub, "t", nil)

	start := time.Now()
	for i := range 100 {
		p.SessionChanged(State{Phase: PhaseScanning, Attempt: uint64(i + 1)})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("SessionChanged blocked for %v behind a stalled broker", elapsed)
	}

	close(pub.block)
	p.Close()

	if got := pub.last(t); got.Attempt != 100 {
		t.Errorf("last published Attempt = %d, want 100", got.Attempt)
	}
}

func TestStatePublisher_LogsFailures(t *testing.T) {
	pub := &fakeRetained{err: errors.New("not connected")}
	logger := &countingLogger{}
	p := NewStatePublisher(pub, "t", logger)

	p.SessionChanged(State{Phase: PhaseIdle})
	p.Close()

	if logger.warns() != 1 {
		t.Errorf("warnings = %d, want 1", logger.warns())
	}
}

type countingLogger struct {
	mu sync.Mutex
	n  int
}

func (l *countingLogger) Info(string, ...any)  {}
func (l *countingLogger) Error(string, ...any) {}
func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.n++
	l.mu.Unlock()
}

func (l *countingLogger) warns() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

type fakeAttemptWriter struct {
	attempts []influxdb.AuthAttempt
}

func (f *fakeAttemptWriter) WriteAuthAttempt(a influxdb.AuthAttempt) {
	f.attempts = append(f.attempts, a)
}

func TestMetricsObserver_WritesSettledOnly(t *testing.T) {
	w := &fakeAttemptWriter{}
	err := &identity.TransportError{Reason: identity.ReasonBadStatus, StatusCode: 503}
	s := newTestSession(t, &stubVerifier{err: err}, &recorder{}, NewMetricsObserver(w))

	if _, err := s.Begin(t.Context(), "S"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if len(w.attempts) != 1 {
		t.Fatalf("attempts written = %d, want 1", len(w.attempts))
	}
	got := w.attempts[0]
	if got.DeviceID != "dev-1" || got.Outcome != "service_error" || got.Reason != "bad_status" || got.Success {
		t.Errorf("attempt = %+v", got)
	}
	if got.Latency != 100*time.Millisecond {
		t.Errorf("Latency = %v, want 100ms", got.Latency)
	}
}
