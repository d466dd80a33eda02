package audit

import (
	"time"

	"github.com/google/uuid"
)

// Outcome kinds as stored and published.
const (
	OutcomeMatched      = "matched"
	OutcomeNoMatch      = "no_match"
	OutcomeServiceError = "service_error"
)

// Record is a single authentication attempt.
//
// SubjectID is empty (stored and sent as null) unless the attempt matched.
// Success is true only for matched attempts.
type Record struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id,omitempty"`
	Success   bool      `json:"success"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	DeviceID  string    `json:"device_id"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// NewID returns a fresh record identifier ("att-" + 8 hex chars).
func NewID() string {
	return "att-" + uuid.NewString()[:8]
}

// subjectOrNil returns nil for an empty subject so it encodes as JSON null.
func (r Record) subjectOrNil() *string {
	if r.SubjectID == "" {
		return nil
	}
	id := r.SubjectID
	return &id
}
