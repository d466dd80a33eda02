package session

import (
	"fmt"

	"github.com/nerrad567/gray-logic-attendance/internal/identity"
)

// Kind tags an Outcome.
type Kind string

// Outcome kinds. The values match the audit and metrics vocabulary.
const (
	KindMatched      Kind = "matched"
	KindNoMatch      Kind = "no_match"
	KindServiceError Kind = "service_error"
)

// Outcome is the result of one session: Matched(Subject), NoMatch or
// ServiceError(Reason). Build values with Matched, NoMatch and ServiceError.
type Outcome struct {
	Kind    Kind              `json:"outcome"`
	Subject *identity.Subject `json:"subject,omitempty"`
	Reason  identity.Reason   `json:"reason,omitempty"`
}

// Matched returns a positive outcome carrying subject.
func Matched(subject identity.Subject) Outcome {
	return Outcome{Kind: KindMatched, Subject: &subject}
}

// NoMatch returns the explicit negative outcome.
func NoMatch() Outcome {
	return Outcome{Kind: KindNoMatch}
}

// ServiceError returns a failed-verification outcome with its reason.
func ServiceError(reason identity.Reason) Outcome {
	return Outcome{Kind: KindServiceError, Reason: reason}
}

// Success is true only for Matched.
func (o Outcome) Success() bool {
	return o.Kind == KindMatched
}

// SubjectID returns the matched subject's ID, or "" for other outcomes.
func (o Outcome) SubjectID() string {
	if o.Kind != KindMatched || o.Subject == nil {
		return ""
	}
	return o.Subject.ID
}

// Message is the text shown on the kiosk for this outcome. NoMatch and
// ServiceError read the same; the tag is what tells them apart.
func (o Outcome) Message() string {
	if o.Kind == KindMatched && o.Subject != nil {
		name := o.Subject.DisplayName
		if name == "" {
			name = o.Subject.ID
		}
		return fmt.Sprintf("Welcome, %s!", name)
	}
	return "Not recognised, please try again"
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindMatched:
		return fmt.Sprintf("matched(%s)", o.SubjectID())
	case KindServiceError:
		return fmt.Sprintf("service_error(%s)", o.Reason)
	default:
		return string(o.Kind)
	}
}
