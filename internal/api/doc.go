// Package api implements the local HTTP API and WebSocket server for the
// attendance kiosk.
//
// This package provides:
//   - POST /api/v1/scan to start an authentication session
//   - GET /api/v1/session for the current session snapshot
//   - Read access to the local attempt journal
//   - A WebSocket hub that pushes session.state_changed events to the panel
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server sits between the kiosk panel UI and the session. A scan is
// submitted either here or over MQTT (attendance/kiosk/{device}/scan); both
// paths call the same Session.Begin, so a second scan while one is pending
// gets 409 session_busy. The hub is registered as a session observer and
// relays every state change to connected panels.
//
// # Graceful Degradation
//
// The server operates without MQTT and without the local journal. Scans and
// WebSocket updates keep working; audit queries answer 503.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
