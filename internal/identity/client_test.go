package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient creates a Client pointed at an httptest server running handler.
func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL
	client, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	tests := []string{"", "api.university.edu", "/relative", "ftp://host"}

	for _, baseURL := range tests {
		t.Run(baseURL, func(t *testing.T) {
			_, err := NewClient(Options{BaseURL: baseURL})
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("NewClient(%q) error = %v, want ErrInvalidOptions", baseURL, err)
			}
		})
	}
}

func TestVerify_Match(t *testing.T) {
	var gotBody verifyRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/verify-fingerprint" {
			t.Errorf("request = %s %s, want POST /verify-fingerprint", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"42","name":"Ana","studentId":"S-2024-042","department":"Physics"}`) //nolint:errcheck // test server
	}, Options{})

	subject, err := client.Verify(context.Background(), SampleEncoding("S1"))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if subject == nil {
		t.Fatal("Verify() subject = nil, want match")
	}

	want := Subject{ID: "42", DisplayName: "Ana", ExternalStudentID: "S-2024-042", Department: "Physics"}
	if *subject != want {
		t.Errorf("Verify() subject = %+v, want %+v", *subject, want)
	}
	if gotBody.FingerprintData != "S1" {
		t.Errorf("fingerprintData = %q, want %q", gotBody.FingerprintData, "S1")
	}
}

func TestVerify_NegativeIndicators(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "empty body", status: http.StatusOK, body: ""},
		{name: "no content", status: http.StatusNoContent, body: ""},
		{name: "null", status: http.StatusOK, body: "null"},
		{name: "false", status: http.StatusOK, body: "false"},
		{name: "empty object", status: http.StatusOK, body: "{}"},
		{name: "match false", status: http.StatusOK, body: `{"match":false}`},
		{name: "match false with detail", status: http.StatusOK, body: `{"match":false,"message":"not enrolled"}`},
		{name: "whitespace", status: http.StatusOK, body: "  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body) //nolint:errcheck // test server
			}, Options{})

			subject, err := client.Verify(context.Background(), SampleEncoding("S2"))
			if err != nil {
				t.Fatalf("Verify() error = %v, want nil", err)
			}
			if subject != nil {
				t.Errorf("Verify() subject = %+v, want nil", subject)
			}
		})
	}
}

func TestVerify_TransportFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantReason Reason
		wantStatus int
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantReason: ReasonBadStatus,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.NotFound(w, nil)
			},
			wantReason: ReasonBadStatus,
			wantStatus: http.StatusNotFound,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, `{"id":`) //nolint:errcheck // test server
			},
			wantReason: ReasonMalformedResponse,
		},
		{
			name: "subject without id",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, `{"name":"Ana"}`) //nolint:errcheck // test server
			},
			wantReason: ReasonMalformedResponse,
		},
		{
			name: "match true without subject",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, `{"match":true}`) //nolint:errcheck // test server
			},
			wantReason: ReasonMalformedResponse,
		},
		{
			name: "error envelope",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, `{"error":"db down"}`) //nolint:errcheck // test server
			},
			wantReason: ReasonMalformedResponse,
		},
		{
			name: "empty id",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, `{"id":"","name":"Ana"}`) //nolint:errcheck // test server
			},
			wantReason: ReasonMalformedResponse,
		},
		{
			name: "array body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, `[1,2]`) //nolint:errcheck // test server
			},
			wantReason: ReasonMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler, Options{})

			subject, err := client.Verify(context.Background(), SampleEncoding("S"))
			if subject != nil {
				t.Errorf("Verify() subject = %+v, want nil", subject)
			}

			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Verify() error = %v, want *TransportError", err)
			}
			if te.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", te.Reason, tt.wantReason)
			}
			if te.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tt.wantStatus)
			}
			if !errors.Is(err, ErrTransport) {
				t.Error("errors.Is(err, ErrTransport) = false")
			}
		})
	}
}

func TestVerify_TimeoutIsBounded(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Options{VerifyTimeout: 50 * time.Millisecond})
	defer close(release)

	start := time.Now()
	_, err := client.Verify(context.Background(), SampleEncoding("S3"))
	elapsed := time.Since(start)

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Verify() error = %v, want *TransportError", err)
	}
	if te.Reason != ReasonTimeout {
		t.Errorf("Reason = %q, want %q", te.Reason, ReasonTimeout)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Verify() took %v, want bounded by the 50ms timeout", elapsed)
	}
}

func TestVerify_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client, err := NewClient(Options{BaseURL: baseURL, VerifyTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.Verify(context.Background(), SampleEncoding("S"))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Verify() error = %v, want *TransportError", err)
	}
	if te.Reason != ReasonTransport {
		t.Errorf("Reason = %q, want %q", te.Reason, ReasonTransport)
	}
}

func TestVerify_CallerCancellation(t *testing.T) {
	client := newTestClient(t, func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, Options{VerifyTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Verify(ctx, SampleEncoding("S"))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Verify() error = %v, want *TransportError", err)
	}
	if te.Reason != ReasonCanceled {
		t.Errorf("Reason = %q, want %q", te.Reason, ReasonCanceled)
	}
}

func TestVerify_SendsDeviceToken(t *testing.T) {
	const secret = "kiosk-device-secret-at-least-32-chars"
	var authHeader atomic.Value

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}, Options{
		Tokens: NewDeviceTokenSource(DeviceTokenOptions{Secret: secret, DeviceID: "dev-1"}),
	})

	if _, err := client.Verify(context.Background(), SampleEncoding("S")); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	header, _ := authHeader.Load().(string)
	if !strings.HasPrefix(header, "Bearer ") {
		t.Fatalf("Authorization = %q, want Bearer token", header)
	}
	claims, err := parseDeviceToken(strings.TrimPrefix(header, "Bearer "), secret)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if claims.Subject != "dev-1" {
		t.Errorf("token subject = %q, want %q", claims.Subject, "dev-1")
	}
}

func TestVerify_NoTokenSourceSendsNoAuthorization(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); h != "" {
			t.Errorf("Authorization = %q, want empty", h)
		}
		w.WriteHeader(http.StatusNoContent)
	}, Options{Tokens: NewDeviceTokenSource(DeviceTokenOptions{})})

	if _, err := client.Verify(context.Background(), SampleEncoding("S")); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

type failingTokens struct{}

func (failingTokens) Token() (string, error) { return "", errors.New("keystore locked") }

func TestVerify_TokenFailure(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}, Options{Tokens: failingTokens{}})

	_, err := client.Verify(context.Background(), SampleEncoding("S"))
	var te *TransportError
	if !errors.As(err, &te) || te.Reason != ReasonDeviceToken {
		t.Fatalf("Verify() error = %v, want device_token TransportError", err)
	}
	if calls.Load() != 0 {
		t.Errorf("service contacted %d times, want 0", calls.Load())
	}
}

func TestLogAuthentication(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/log-authentication" {
			t.Errorf("path = %q, want /log-authentication", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}, Options{})

	ts := time.Date(2026, 10, 19, 8, 15, 0, 0, time.UTC)
	err := client.LogAuthentication(context.Background(), AuthenticationLog{
		StudentID: nil,
		Success:   false,
		Timestamp: FormatTimestamp(ts),
		DeviceID:  "dev-1",
	})
	if err != nil {
		t.Fatalf("LogAuthentication() error = %v", err)
	}

	if v, ok := got["studentId"]; !ok || v != nil {
		t.Errorf("studentId = %v (present=%v), want JSON null", v, ok)
	}
	if got["success"] != false {
		t.Errorf("success = %v, want false", got["success"])
	}
	if got["timestamp"] != "2026-10-19T08:15:00.000Z" {
		t.Errorf("timestamp = %v, want 2026-10-19T08:15:00.000Z", got["timestamp"])
	}
	if got["deviceId"] != "dev-1" {
		t.Errorf("deviceId = %v, want dev-1", got["deviceId"])
	}
}

func TestLogAuthentication_BadStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Options{})

	err := client.LogAuthentication(context.Background(), AuthenticationLog{DeviceID: "dev-1"})
	var te *TransportError
	if !errors.As(err, &te) || te.Reason != ReasonBadStatus || te.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("LogAuthentication() error = %v, want bad_status 503", err)
	}
}

func TestFormatTimestamp_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	ts := time.Date(2026, 10, 19, 10, 15, 0, 123_000_000, loc)

	if got := FormatTimestamp(ts); got != "2026-10-19T08:15:00.123Z" {
		t.Errorf("FormatTimestamp() = %q, want %q", got, "2026-10-19T08:15:00.123Z")
	}
}
