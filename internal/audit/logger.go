package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defaults.
const (
	defaultQueueSize       = 64
	defaultDeliveryTimeout = 5 * time.Second
)

// Sink receives delivered records. Deliver is called at most once per record
// with a context carrying the delivery deadline, and should return once that
// context is done. The Logger stops waiting at the deadline either way.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, rec Record) error
}

// Reporter is the observability sink for delivery failures.
// Compatible with logging.Logger and slog.Logger.
type Reporter interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopReporter discards everything.
type noopReporter struct{}

func (noopReporter) Debug(string, ...any) {}
func (noopReporter) Warn(string, ...any)  {}

// Options configures a Logger.
type Options struct {
	// QueueSize is the number of records buffered for delivery.
	QueueSize int

	// Timeout bounds one delivery attempt to one sink.
	Timeout time.Duration

	// Reporter receives delivery failures (optional).
	Reporter Reporter

	// OnFailure is called for every failed or dropped delivery (optional).
	// sink is "queue" for records dropped before delivery.
	OnFailure func(sink string, rec Record, err error)
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Accepted  uint64 `json:"accepted"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Logger dispatches audit records asynchronously to its sinks.
//
// Record never blocks. A single worker delivers records in order, fanning
// each out to every sink concurrently, and waits for all sinks before taking
// the next record so the number of in-flight deliveries stays bounded.
//
// Thread Safety: All methods are safe for concurrent use.
type Logger struct {
	opts  Options
	sinks []Sink
	ch    chan Record
	done  chan struct{}
	wg    sync.WaitGroup

	// mu orders Record sends against Close so nothing is enqueued after the
	// worker's final drain.
	mu     sync.RWMutex
	closed bool

	accepted  atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewLogger creates a Logger and starts its delivery worker.
// Call Close to stop it.
func NewLogger(opts Options, sinks ...Sink) *Logger {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDeliveryTimeout
	}
	if opts.Reporter == nil {
		opts.Reporter = noopReporter{}
	}

	l := &Logger{
		opts:  opts,
		sinks: sinks,
		ch:    make(chan Record, opts.QueueSize),
		done:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run()

	return l
}

// Record enqueues rec for delivery and returns immediately.
// If the queue is full or the Logger is closed the record is dropped.
func (l *Logger) Record(rec Record) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.drop(rec, "audit logger closed")
		return
	}

	select {
	case l.ch <- rec:
		l.accepted.Add(1)
	default:
		l.drop(rec, "audit queue full")
	}
}

// Close stops accepting records and waits for queued records to be delivered.
// Each queued record still gets exactly one attempt per sink. Every call
// waits for the drain to finish.
func (l *Logger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	l.mu.Unlock()

	l.wg.Wait()
}

// Stats returns the current delivery counters.
func (l *Logger) Stats() Stats {
	return Stats{
		Accepted:  l.accepted.Load(),
		Delivered: l.delivered.Load(),
		Failed:    l.failed.Load(),
		Dropped:   l.dropped.Load(),
	}
}

// run delivers records until Close, then drains what is left.
func (l *Logger) run() {
	defer l.wg.Done()

	for {
		select {
		case rec := <-l.ch:
			l.deliver(rec)
		case <-l.done:
			for {
				select {
				case rec := <-l.ch:
					l.deliver(rec)
				default:
					return
				}
			}
		}
	}
}

// deliver sends rec to every sink concurrently, one attempt each.
func (l *Logger) deliver(rec Record) {
	var wg sync.WaitGroup
	for _, sink := range l.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			if err := l.attempt(sink, rec); err != nil {
				l.failed.Add(1)
				l.opts.Reporter.Warn("audit delivery failed",
					"sink", sink.Name(),
					"record_id", rec.ID,
					"outcome", rec.Outcome,
					"error", err,
				)
				if l.opts.OnFailure != nil {
					l.opts.OnFailure(sink.Name(), rec, err)
				}
				return
			}
			l.delivered.Add(1)
			l.opts.Reporter.Debug("audit record delivered", "sink", sink.Name(), "record_id", rec.ID)
		}(sink)
	}
	wg.Wait()
}

// attempt runs a single bounded delivery, converting a sink panic into an
// error. A sink that ignores its context is abandoned at the deadline; its
// goroutine finishes in the background and the result is discarded.
func (l *Logger) attempt(sink Sink, rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.Timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("sink panic: %v", r)
			}
		}()
		result <- sink.Deliver(ctx, rec)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("sink %s abandoned: %w", sink.Name(), ctx.Err())
	}
}

// drop counts and reports a record that will never be delivered.
func (l *Logger) drop(rec Record, reason string) {
	l.dropped.Add(1)
	l.opts.Reporter.Warn(reason+", dropping record",
		"record_id", rec.ID,
		"outcome", rec.Outcome,
	)
	if l.opts.OnFailure != nil {
		l.opts.OnFailure("queue", rec, fmt.Errorf("%w: %s", ErrDropped, reason))
	}
}
