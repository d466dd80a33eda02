package identity

import (
	"errors"
	"fmt"
)

// Reason classifies why a remote call failed.
type Reason string

const (
	// ReasonTimeout means the call did not complete within its deadline.
	ReasonTimeout Reason = "timeout"

	// ReasonCanceled means the caller abandoned the call.
	ReasonCanceled Reason = "cancelled"

	// ReasonTransport covers connection refused, DNS, TLS and similar failures.
	ReasonTransport Reason = "transport"

	// ReasonBadStatus means the service answered with a non-2xx status.
	ReasonBadStatus Reason = "bad_status"

	// ReasonMalformedResponse means a 2xx body could not be understood.
	ReasonMalformedResponse Reason = "malformed_response"

	// ReasonDeviceToken means the device assertion could not be produced.
	ReasonDeviceToken Reason = "device_token"
)

// ErrTransport matches every *TransportError via errors.Is.
var ErrTransport = errors.New("identity: transport failure")

// ErrInvalidOptions is returned by NewClient for unusable options.
var ErrInvalidOptions = errors.New("identity: invalid client options")

// TransportError is returned for every failed call to the identity service.
//
// Use errors.As to inspect the Reason:
//
//	var te *identity.TransportError
//	if errors.As(err, &te) && te.Reason == identity.ReasonTimeout { ... }
type TransportError struct {
	Op         string // "verify" or "log-authentication"
	Reason     Reason
	StatusCode int // set for ReasonBadStatus
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("identity %s: %s (status %d)", e.Op, e.Reason, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("identity %s: %s: %v", e.Op, e.Reason, e.Err)
	default:
		return fmt.Sprintf("identity %s: %s", e.Op, e.Reason)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports ErrTransport as a match so callers can test the category alone.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
