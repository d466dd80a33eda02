package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoint paths relative to the service base URL.
const (
	verifyPath = "/verify-fingerprint"
	auditPath  = "/log-authentication"
)

// Default timeouts applied when Options leaves them unset.
const (
	defaultVerifyTimeout = 8 * time.Second
	defaultAuditTimeout  = 5 * time.Second
)

// maxResponseSize caps how much of a response body is read (64 KiB).
const maxResponseSize = 64 << 10

// timestampLayout is ISO-8601 with millisecond precision, matching the
// format the service already stores ("2026-10-19T08:15:00.000Z").
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Options configures a Client.
type Options struct {
	// BaseURL is the service root, e.g. "https://api.university.edu".
	BaseURL string

	// VerifyTimeout bounds one verify round trip including reading the body.
	VerifyTimeout time.Duration

	// AuditTimeout bounds one log-authentication round trip.
	AuditTimeout time.Duration

	// HTTPClient is used for all requests. Defaults to a client with no
	// overall timeout; per-call deadlines come from the context.
	HTTPClient *http.Client

	// Tokens supplies the device bearer token (optional).
	Tokens TokenSource

	// UserAgent is sent on every request (optional).
	UserAgent string
}

// Client talks to the remote identity service.
//
// Client holds no per-session state; concurrent calls are independent.
type Client struct {
	baseURL       string
	verifyTimeout time.Duration
	auditTimeout  time.Duration
	httpClient    *http.Client
	tokens        TokenSource
	userAgent     string
}

// NewClient creates an identity service client.
//
// Returns:
//   - *Client: Ready-to-use client
//   - error: ErrInvalidOptions if the base URL is not an absolute http(s) URL
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q", ErrInvalidOptions, opts.BaseURL)
	}

	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = defaultVerifyTimeout
	}
	if opts.AuditTimeout <= 0 {
		opts.AuditTimeout = defaultAuditTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		verifyTimeout: opts.VerifyTimeout,
		auditTimeout:  opts.AuditTimeout,
		httpClient:    opts.HTTPClient,
		tokens:        opts.Tokens,
		userAgent:     opts.UserAgent,
	}, nil
}

// Verify submits a sample encoding for identification.
//
// Returns:
//   - (*Subject, nil): positive match
//   - (nil, nil): the service explicitly reported no match
//   - (nil, *TransportError): network failure, timeout, non-2xx status or
//     an undecodable response
//
// A single attempt is made; the round trip never outlives VerifyTimeout.
func (c *Client) Verify(ctx context.Context, sample SampleEncoding) (*Subject, error) {
	const op = "verify"

	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	payload, err := json.Marshal(verifyRequest{FingerprintData: string(sample)})
	if err != nil {
		return nil, &TransportError{Op: op, Reason: ReasonTransport, Err: err}
	}

	body, err := c.post(ctx, op, verifyPath, payload)
	if err != nil {
		return nil, err
	}

	subject, err := decodeVerifyResponse(body)
	if err != nil {
		return nil, &TransportError{Op: op, Reason: ReasonMalformedResponse, Err: err}
	}
	return subject, nil
}

// LogAuthentication delivers one audit entry. The response body is ignored;
// any non-2xx status is reported as a *TransportError.
func (c *Client) LogAuthentication(ctx context.Context, entry AuthenticationLog) error {
	const op = "log-authentication"

	ctx, cancel := context.WithTimeout(ctx, c.auditTimeout)
	defer cancel()

	payload, err := json.Marshal(entry)
	if err != nil {
		return &TransportError{Op: op, Reason: ReasonTransport, Err: err}
	}

	_, err = c.post(ctx, op, auditPath, payload)
	return err
}

// FormatTimestamp renders t in the service's ISO-8601 form (UTC, millisecond precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// post sends a JSON body and returns the (size-capped) response body of a
// 2xx answer. Every failure is returned as a *TransportError.
func (c *Client) post(ctx context.Context, op, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Op: op, Reason: ReasonTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if c.tokens != nil {
		token, tokenErr := c.tokens.Token()
		if tokenErr != nil {
			return nil, &TransportError{Op: op, Reason: ReasonDeviceToken, Err: tokenErr}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Reason: classify(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		//nolint:errcheck // Drain so the connection can be reused; content is irrelevant
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, &TransportError{Op: op, Reason: ReasonBadStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Op: op, Reason: classify(ctx, err), Err: err}
	}
	return body, nil
}

// classify maps a request error to a Reason. Deadline expiry of either the
// call's own timeout or the caller's context counts as a timeout.
func classify(ctx context.Context, err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	return ReasonTransport
}

// decodeVerifyResponse interprets a 2xx verify body.
//
// Negative indicators: empty body, null, false, {} and an object carrying
// "match": false. Any other object must be a Subject with a non-empty id;
// an object with neither (an error envelope, say) is malformed.
func decodeVerifyResponse(body []byte) (*Subject, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("false")) {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("decoding verify response: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var resp verifyResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("decoding verify response: %w", err)
	}
	if resp.Match != nil && !*resp.Match {
		return nil, nil
	}
	if resp.ID == "" {
		return nil, errors.New("verify response carries neither a subject id nor a negative match")
	}

	subject := resp.Subject
	return &subject, nil
}
