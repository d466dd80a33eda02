package identity

// SampleEncoding is the opaque serialised biometric capture produced by the
// sensor. Its internal structure is never inspected by the kiosk.
type SampleEncoding string

// Subject is an enrolled identity returned by the service on a positive match.
// Subjects are only ever decoded from service responses.
type Subject struct {
	ID                string `json:"id"`
	DisplayName       string `json:"name"`
	ExternalStudentID string `json:"studentId"`
	Department        string `json:"department"`
}

// AuthenticationLog is the body of POST /log-authentication.
// StudentID is nil (JSON null) for every attempt that did not match.
type AuthenticationLog struct {
	StudentID *string `json:"studentId"`
	Success   bool    `json:"success"`
	Timestamp string  `json:"timestamp"`
	DeviceID  string  `json:"deviceId"`
}

// verifyRequest is the body of POST /verify-fingerprint.
type verifyRequest struct {
	FingerprintData string `json:"fingerprintData"`
}

// verifyResponse decodes both shapes the service uses: a Subject object for a
// match, and an object carrying "match": false for an explicit negative.
type verifyResponse struct {
	Subject
	Match *bool `json:"match,omitempty"`
}
