package session

import "errors"

// ErrSessionBusy is returned by Begin when a cycle is already in progress.
// It signals a caller bug (the kiosk should not submit a second scan while
// one is pending) and is never retried internally.
var ErrSessionBusy = errors.New("session: scan already in progress")
