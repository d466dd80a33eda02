// Package session implements the kiosk's authentication session: one
// capture-to-result cycle guarded by a single-admission gate.
//
// A Session moves strictly Idle -> Scanning -> Settled -> Idle. Begin is the
// only way in. While a cycle is in progress any other Begin call fails at
// once with ErrSessionBusy; nothing is queued.
//
// Each cycle ends in exactly one Outcome:
//   - Matched: the identity service returned a subject
//   - NoMatch: the service explicitly reported no match
//   - ServiceError: the verify call failed (timeout, transport, bad status,
//     malformed response); the reason is kept for diagnostics
//
// and dispatches exactly one audit.Record without waiting for its delivery.
// Observers are told about every state change so the local API, MQTT and
// metrics can follow the kiosk without polling.
package session
