package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/config"
)

// fakeInflux answers /ping and collects line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu    sync.Mutex
	lines []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()

	f := &fakeInflux{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"), strings.HasSuffix(r.URL.Path, "/health"):
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
			f.mu.Lock()
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

// waitLines polls until n lines have arrived or the deadline passes.
func (f *fakeInflux) waitLines(n int) []string {
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		got := append([]string(nil), f.lines...)
		f.mu.Unlock()
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "attendance-dev-token",
		Org:           "campus",
		Bucket:        "kiosks",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	if _, err := Connect(context.Background(), cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := Connect(ctx, testConfig("http://127.0.0.1:1")); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_HealthCheckAndClose(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !errors.Is(client.HealthCheck(context.Background()), ErrNotConnected) {
		t.Error("HealthCheck() after Close() should report ErrNotConnected")
	}

	// Writes after Close are ignored, Flush is a no-op.
	client.WriteAuthAttempt(AuthAttempt{DeviceID: "kiosk-001", Outcome: "matched"})
	client.Flush()
}

func TestClose_ZeroClient(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
	c.Flush()
}

func TestWrites_ReachServer(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WriteAuthAttempt(AuthAttempt{
		DeviceID: "kiosk-001",
		Outcome:  "service_error",
		Reason:   "timeout",
		Latency:  8 * time.Second,
	})
	client.WriteAuditFailure("kiosk-001", "remote", time.Time{})
	client.Close() //nolint:errcheck // Close flushes

	lines := srv.waitLines(2)
	if len(lines) != 2 {
		t.Fatalf("server received %d lines, want 2: %v", len(lines), lines)
	}

	joined := strings.Join(lines, "\n")
	for _, want := range []string{
		"auth_attempts,device_id=kiosk-001,outcome=service_error,reason=timeout",
		"latency_ms=8000i",
		"success=false",
		"audit_delivery,device_id=kiosk-001,sink=remote failures=1i",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("line protocol missing %q in:\n%s", want, joined)
		}
	}
}

func TestWriteErrors_CountedAndReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/ping") {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":"invalid","message":"bucket not found"}`) //nolint:errcheck // Test server
	}))
	defer srv.Close()

	client, err := Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	reported := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case reported <- err:
		default:
		}
	})

	client.WriteAuditFailure("kiosk-001", "remote", time.Now())
	client.Flush()

	select {
	case err := <-reported:
		if err == nil {
			t.Error("callback received nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error never reported")
	}
	if client.WriteErrors() == 0 {
		t.Error("WriteErrors() = 0 after a rejected batch")
	}
	client.Close() //nolint:errcheck // Test cleanup
}

func TestWriteOptions_Defaults(t *testing.T) {
	opts := writeOptions(config.InfluxDBConfig{})
	if opts.BatchSize() != defaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", opts.BatchSize(), defaultBatchSize)
	}
	if opts.FlushInterval() != 10000 {
		t.Errorf("FlushInterval() = %d ms, want 10000", opts.FlushInterval())
	}

	opts = writeOptions(config.InfluxDBConfig{BatchSize: 5, FlushInterval: 2})
	if opts.BatchSize() != 5 || opts.FlushInterval() != 2000 {
		t.Errorf("options = batch %d flush %d, want 5 and 2000", opts.BatchSize(), opts.FlushInterval())
	}
}

func TestAuthAttemptPoint(t *testing.T) {
	at := time.Date(2026, 10, 19, 8, 15, 0, 0, time.UTC)

	tests := []struct {
		name    string
		attempt AuthAttempt
		want    string
	}{
		{
			name:    "matched has no reason tag",
			attempt: AuthAttempt{DeviceID: "kiosk-001", Outcome: "matched", Success: true, Latency: 120 * time.Millisecond, At: at},
			want:    "auth_attempts,device_id=kiosk-001,outcome=matched latency_ms=120i,success=true",
		},
		{
			name:    "service error tags reason",
			attempt: AuthAttempt{DeviceID: "kiosk-001", Outcome: "service_error", Reason: "bad_status", At: at},
			want:    "auth_attempts,device_id=kiosk-001,outcome=service_error,reason=bad_status latency_ms=0i,success=false",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(authAttemptPoint(tt.attempt), time.Second)
			if !strings.HasPrefix(line, tt.want+" ") {
				t.Errorf("line = %q, want prefix %q", line, tt.want)
			}
		})
	}
}

func TestAuditFailurePoint_DefaultsTimestamp(t *testing.T) {
	before := time.Now()
	p := auditFailurePoint("kiosk-001", "journal", time.Time{})

	if p.Time().Before(before) {
		t.Errorf("Time() = %v, want now", p.Time())
	}
	if p.Name() != measurementAuditDelivery {
		t.Errorf("Name() = %q, want %q", p.Name(), measurementAuditDelivery)
	}
}
