package mqtt

import "errors"

// Sentinel errors. Callers match them with errors.Is; the broker's own
// error, when there is one, is wrapped alongside.
var (
	ErrNotConnected     = errors.New("mqtt: broker link is down")
	ErrConnectionFailed = errors.New("mqtt: cannot reach broker")
	ErrPublishFailed    = errors.New("mqtt: publish not acknowledged")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe not acknowledged")
	ErrInvalidQoS       = errors.New("mqtt: QoS must be 0, 1 or 2")
	ErrInvalidTopic     = errors.New("mqtt: empty topic")
)
