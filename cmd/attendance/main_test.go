package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-attendance/internal/audit"
	"github.com/nerrad567/gray-logic-attendance/internal/capture"
	"github.com/nerrad567/gray-logic-attendance/internal/identity"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-attendance/internal/session"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("ATTENDANCE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config loading error", err)
	}
}

// TestRun_ValidationError verifies run rejects a config that fails validation.
func TestRun_ValidationError(t *testing.T) {
	configPath := writeConfig(t, `
device:
  id: ""
identity:
  base_url: "not a url"
`)
	t.Setenv("ATTENDANCE_CONFIG", configPath)
	t.Setenv("ATTENDANCE_DEVICE_ID", "")

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail validation")
	}
	if !strings.Contains(err.Error(), "device.id is required") {
		t.Errorf("run() error = %v, want device.id validation failure", err)
	}
}

// TestRun_StartsAndStops runs the kiosk with only the journal and the API
// enabled and shuts it down through the context.
func TestRun_StartsAndStops(t *testing.T) {
	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "attendance.db")
	configPath := writeConfig(t, fmt.Sprintf(`
device:
  id: kiosk-test
identity:
  base_url: "http://127.0.0.1:1"
  verify_timeout: 1s
  audit_timeout: 1s
audit:
  queue_size: 8
  journal: true
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
influxdb:
  enabled: false
api:
  host: "127.0.0.1"
  port: %d
  rate_limit:
    enabled: false
logging:
  level: error
  format: text
  output: discard
`, dbPath, port))
	t.Setenv("ATTENDANCE_CONFIG", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(healthURL) //nolint:noctx // Test polling
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("API never became healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// A scan against the unreachable identity service settles as a
	// service error and is still answered with 200.
	resp, err := http.Post( //nolint:noctx // Test request
		fmt.Sprintf("http://127.0.0.1:%d/api/v1/scan", port),
		"application/json",
		strings.NewReader(`{"sample":"tmpl-1"}`),
	)
	if err != nil {
		cancel()
		t.Fatalf("POST /scan error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("POST /scan status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil on clean shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("journal database not created: %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("ATTENDANCE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("ATTENDANCE_CONFIG", "/etc/attendance/config.yaml")
	if got := getConfigPath(); got != "/etc/attendance/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func TestHealthCheck(t *testing.T) {
	ok := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("down") }

	if err := healthCheck(context.Background(), nil); err != nil {
		t.Errorf("healthCheck(no checks) error = %v", err)
	}
	if err := healthCheck(context.Background(), []healthChecker{{"a", ok}, {"b", ok}}); err != nil {
		t.Errorf("healthCheck(all ok) error = %v", err)
	}

	err := healthCheck(context.Background(), []healthChecker{{"a", ok}, {"mqtt", failing}})
	if err == nil || !strings.Contains(err.Error(), "mqtt: down") {
		t.Errorf("healthCheck() error = %v, want mqtt: down", err)
	}
}

func TestNewIdentityClient(t *testing.T) {
	cfg := &config.Config{
		Device: config.DeviceConfig{ID: "kiosk-1"},
		Identity: config.IdentityConfig{
			BaseURL:       "https://api.university.edu",
			VerifyTimeout: time.Second,
			AuditTimeout:  time.Second,
		},
	}
	if _, err := newIdentityClient(cfg); err != nil {
		t.Errorf("newIdentityClient() error = %v", err)
	}

	cfg.Identity.BaseURL = "ftp://nowhere"
	if _, err := newIdentityClient(cfg); !errors.Is(err, identity.ErrInvalidOptions) {
		t.Errorf("newIdentityClient() error = %v, want ErrInvalidOptions", err)
	}
}

type nopPoster struct{}

func (nopPoster) LogAuthentication(context.Context, identity.AuthenticationLog) error { return nil }

func TestNewAuditLogger_RemoteOnly(t *testing.T) {
	cfg := &config.Config{
		Device:   config.DeviceConfig{ID: "kiosk-1"},
		Identity: config.IdentityConfig{AuditTimeout: time.Second},
		Audit:    config.AuditConfig{QueueSize: 4},
	}
	log := logging.New(config.LoggingConfig{Level: "error", Output: "discard"}, "test")

	l := newAuditLogger(cfg, nopPoster{}, nil, nil, nil, log)
	l.Record(audit.Record{ID: audit.NewID(), Outcome: audit.OutcomeNoMatch, DeviceID: "kiosk-1"})
	l.Close()

	if stats := l.Stats(); stats.Delivered != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want one delivery to the remote sink", stats)
	}
}

// recordingRunner records samples passed to Begin.
type recordingRunner struct {
	err     error
	samples chan identity.SampleEncoding
}

func (r *recordingRunner) Begin(_ context.Context, sample identity.SampleEncoding) (session.Outcome, error) {
	r.samples <- sample
	if r.err != nil {
		return session.Outcome{}, r.err
	}
	return session.NoMatch(), nil
}

func TestScanFromCapture(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Output: "discard"}, "test")

	for _, runErr := range []error{nil, session.ErrSessionBusy, errors.New("boom")} {
		runner := &recordingRunner{err: runErr, samples: make(chan identity.SampleEncoding, 1)}
		handle := scanFromCapture(context.Background(), runner, log)

		handle("c2FtcGxl")

		select {
		case got := <-runner.samples:
			if got != "c2FtcGxl" {
				t.Errorf("Begin sample = %q, want %q", got, "c2FtcGxl")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Begin not called (runner error %v)", runErr)
		}
	}
}

// TestRun_WithSensorHelper checks that a helper sample is scanned and
// counted in /metrics.
func TestRun_WithSensorHelper(t *testing.T) {
	port := freePort(t)
	dir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
device:
  id: "kiosk-helper"
identity:
  base_url: "http://127.0.0.1:1"
  verify_timeout: 200ms
  audit_timeout: 200ms
audit:
  journal: true
database:
  path: %q
api:
  host: "127.0.0.1"
  port: %d
capture:
  enabled: true
  command: "/bin/sh"
  args: ["-c", "echo c2FtcGxl; exec sleep 30"]
logging:
  level: "error"
  output: "discard"
`, filepath.Join(dir, "attendance.db"), port))
	t.Setenv("ATTENDANCE_CONFIG", path)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/metrics", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:noctx // Test polling
		if err == nil {
			var body struct {
				Capture *capture.Stats `json:"capture"`
			}
			decodeErr := json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			if decodeErr == nil && body.Capture != nil && body.Capture.Samples == 1 {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("sensor helper sample never reached metrics")
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestNewCaptureSupervisor(t *testing.T) {
	sup := newCaptureSupervisor(config.CaptureConfig{
		Command: "/bin/true",
	}, nil)

	stats := sup.Stats()
	if stats.Name != "sensor-helper" {
		t.Errorf("Stats.Name = %q, want sensor-helper", stats.Name)
	}
	if stats.Status != capture.StatusStopped {
		t.Errorf("Stats.Status = %q, want stopped", stats.Status)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
