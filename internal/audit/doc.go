// Package audit records one entry per authentication attempt.
//
// The Logger accepts records without blocking and delivers each one, on its
// own worker goroutine, to a fixed set of sinks:
//
//   - RemoteSink: POST /log-authentication on the identity service (primary)
//   - JournalSink: the local auth_attempts table in SQLite
//   - PublisherSink: the kiosk audit topic on MQTT
//
// Delivery is best-effort: one attempt per record per sink, bounded by a
// timeout, never retried. Failures are reported to the configured Reporter
// and counted; they never reach the code that produced the record. When the
// queue is full the record is dropped and counted the same way.
package audit
