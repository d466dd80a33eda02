package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-attendance/internal/audit"
	"github.com/nerrad567/gray-logic-attendance/internal/identity"
)

// Verifier submits a sample for identification.
// Satisfied by *identity.Client.
type Verifier interface {
	Verify(ctx context.Context, sample identity.SampleEncoding) (*identity.Subject, error)
}

// AuditRecorder accepts one audit record without blocking.
// Satisfied by *audit.Logger.
type AuditRecorder interface {
	Record(rec audit.Record)
}

// Observer is told about every state change, in order, on the goroutine
// running Begin. Implementations must return quickly and must not call Begin.
type Observer interface {
	SessionChanged(state State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(state State)

// SessionChanged implements Observer.
func (f ObserverFunc) SessionChanged(state State) { f(state) }

// Logger is the optional diagnostics sink.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Session.
type Options struct {
	// DeviceID is stamped on every audit record. Required.
	DeviceID string

	// Verifier performs the remote identification. Required.
	Verifier Verifier

	// Audit receives one record per settled session. Required.
	Audit AuditRecorder

	// Observers are notified of every state change (optional).
	Observers []Observer

	// Logger receives outcome diagnostics (optional).
	Logger Logger

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Session is the kiosk's single authentication session.
//
// Thread Safety: All methods are safe for concurrent use. At most one Begin
// is in progress at any time; concurrent calls get ErrSessionBusy.
type Session struct {
	deviceID  string
	verifier  Verifier
	audit     AuditRecorder
	observers []Observer
	logger    Logger
	now       func() time.Time

	mu    sync.RWMutex
	state State

	// notifyMu keeps observer notifications in transition order.
	notifyMu sync.Mutex
}

// New creates an idle Session.
func New(opts Options) (*Session, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("session: device ID is required")
	}
	if opts.Verifier == nil {
		return nil, fmt.Errorf("session: verifier is required")
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("session: audit recorder is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Session{
		deviceID:  opts.DeviceID,
		verifier:  opts.Verifier,
		audit:     opts.Audit,
		observers: opts.Observers,
		logger:    opts.Logger,
		now:       opts.Now,
		state: State{
			DeviceID: opts.DeviceID,
			Phase:    PhaseIdle,
			Since:    opts.Now().UTC(),
		},
	}, nil
}

// State returns a snapshot of the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Begin runs one authentication cycle for sample.
//
// If a cycle is already in progress it returns ErrSessionBusy at once
// without contacting the verifier. Otherwise it always returns a nil error:
// every verifier failure becomes a ServiceError outcome. Before returning,
// exactly one audit record has been handed to the recorder and the session
// has passed through Settled back to Idle.
//
// ctx bounds the verify call only; the audit record is dispatched even if
// ctx is cancelled.
func (s *Session) Begin(ctx context.Context, sample identity.SampleEncoding) (Outcome, error) {
	s.mu.Lock()
	if s.state.Phase != PhaseIdle {
		s.mu.Unlock()
		return Outcome{}, ErrSessionBusy
	}
	started := s.now()
	scanning := s.transitionLocked(PhaseScanning, nil, 0, started)
	s.mu.Unlock()

	s.notify(scanning)

	outcome := s.verify(ctx, sample)
	settledAt := s.now()
	latency := settledAt.Sub(started)

	s.audit.Record(audit.Record{
		ID:        audit.NewID(),
		SubjectID: outcome.SubjectID(),
		Success:   outcome.Success(),
		Outcome:   string(outcome.Kind),
		Reason:    string(outcome.Reason),
		DeviceID:  s.deviceID,
		LatencyMS: latency.Milliseconds(),
		Timestamp: settledAt.UTC(),
	})

	s.logOutcome(scanning.Attempt, outcome, latency)

	s.mu.Lock()
	settled := s.transitionLocked(PhaseSettled, &outcome, latency, settledAt)
	s.mu.Unlock()
	s.notify(settled)

	// Holding notifyMu while reopening the gate keeps the Idle notification
	// ahead of the next cycle's Scanning notification.
	s.notifyMu.Lock()
	s.mu.Lock()
	idle := s.transitionLocked(PhaseIdle, &outcome, latency, s.now())
	s.mu.Unlock()
	s.notifyLocked(idle)
	s.notifyMu.Unlock()

	return outcome, nil
}

// transitionLocked moves to phase and returns the new snapshot. A nil last
// keeps the previous outcome and latency. Caller must hold s.mu.
func (s *Session) transitionLocked(phase Phase, last *Outcome, latency time.Duration, at time.Time) State {
	next := State{
		DeviceID:  s.deviceID,
		Phase:     phase,
		Attempt:   s.state.Attempt,
		Last:      s.state.Last,
		LatencyMS: s.state.LatencyMS,
		Since:     at.UTC(),
	}
	if phase == PhaseScanning {
		next.Attempt++
	}
	if last != nil {
		o := *last
		next.Last = &o
		next.LatencyMS = latency.Milliseconds()
	}
	next.Message = next.message()

	s.state = next
	return next
}

// verify calls the verifier and maps its result to an Outcome. A panicking
// verifier is treated as a transport failure.
func (s *Session) verify(ctx context.Context, sample identity.SampleEncoding) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("verifier panic recovered", "device_id", s.deviceID, "panic", r)
			outcome = ServiceError(identity.ReasonTransport)
		}
	}()

	subject, err := s.verifier.Verify(ctx, sample)
	switch {
	case err != nil:
		return ServiceError(reasonOf(err))
	case subject == nil:
		return NoMatch()
	case subject.ID == "":
		// The client never returns this; guard against other Verifiers.
		return ServiceError(identity.ReasonMalformedResponse)
	default:
		return Matched(*subject)
	}
}

// reasonOf extracts the failure reason from a verifier error.
func reasonOf(err error) identity.Reason {
	var te *identity.TransportError
	if errors.As(err, &te) && te.Reason != "" {
		return te.Reason
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return identity.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return identity.ReasonCanceled
	default:
		return identity.ReasonTransport
	}
}

func (s *Session) notify(state State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notifyLocked(state)
}

// notifyLocked delivers state to every observer. Caller must hold s.notifyMu.
func (s *Session) notifyLocked(state State) {
	for _, obs := range s.observers {
		s.safeNotify(obs, state)
	}
}

func (s *Session) safeNotify(obs Observer, state State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session observer panic recovered", "phase", state.Phase, "panic", r)
		}
	}()
	obs.SessionChanged(state)
}

func (s *Session) logOutcome(attempt uint64, outcome Outcome, latency time.Duration) {
	args := []any{
		"device_id", s.deviceID,
		"attempt", attempt,
		"outcome", outcome.Kind,
		"latency_ms", latency.Milliseconds(),
	}
	switch outcome.Kind {
	case KindMatched:
		s.logger.Info("authentication matched", append(args, "subject_id", outcome.SubjectID())...)
	case KindNoMatch:
		s.logger.Info("authentication not matched", args...)
	default:
		s.logger.Warn("authentication service error", append(args, "reason", outcome.Reason)...)
	}
}
