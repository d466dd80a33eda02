package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementAuthAttempts  = "auth_attempts"
	measurementAuditDelivery = "audit_delivery"
)

// AuthAttempt is one settled session as written to auth_attempts.
type AuthAttempt struct {
	DeviceID string
	Outcome  string
	Reason   string // empty unless the outcome is a service error
	Success  bool
	Latency  time.Duration
	At       time.Time // defaults to now
}

// WriteAuthAttempt queues one auth_attempts point. Subject IDs are never
// written; the measurement is for rates and latency, not identities.
func (c *Client) WriteAuthAttempt(a AuthAttempt) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authAttemptPoint(a))
}

// WriteAuditFailure queues one audit_delivery point for a failed or dropped
// delivery to sink.
func (c *Client) WriteAuditFailure(deviceID, sink string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(auditFailurePoint(deviceID, sink, at))
}

func authAttemptPoint(a AuthAttempt) *write.Point {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}

	tags := map[string]string{
		"device_id": a.DeviceID,
		"outcome":   a.Outcome,
	}
	if a.Reason != "" {
		tags["reason"] = a.Reason
	}

	return write.NewPoint(
		measurementAuthAttempts,
		tags,
		map[string]interface{}{
			"success":    a.Success,
			"latency_ms": a.Latency.Milliseconds(),
		},
		at,
	)
}

func auditFailurePoint(deviceID, sink string, at time.Time) *write.Point {
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		measurementAuditDelivery,
		map[string]string{
			"device_id": deviceID,
			"sink":      sink,
		},
		map[string]interface{}{
			"failures": 1,
		},
		at,
	)
}
