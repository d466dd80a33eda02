// Package identity is the kiosk's client for the remote identity service.
//
// It covers the two endpoints the kiosk depends on:
//   - POST /verify-fingerprint: submit a sample encoding, receive a Subject
//     on a positive match or a negative indicator
//   - POST /log-authentication: deliver one audit entry per attempt
//
// Every call is a single attempt bounded by a timeout. Failures of any kind
// (network, timeout, non-2xx status, undecodable body) are returned as
// *TransportError and never panic or block indefinitely. Retry policy is the
// caller's concern; the kiosk performs none.
//
// When a device token secret is configured, each request carries an HS256
// device assertion in the Authorization header (see DeviceTokenSource).
//
// Thread Safety: Client and DeviceTokenSource are safe for concurrent use.
package identity
