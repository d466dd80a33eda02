package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-attendance/internal/infrastructure/influxdb"
)

// RetainedPublisher publishes a retained message.
// Satisfied by *mqtt.Client.
type RetainedPublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// StatePublisher mirrors session state to a retained MQTT topic.
//
// Publishing happens on its own goroutine so a slow broker never holds up
// Begin. Only the newest pending state is kept: if the broker falls behind,
// intermediate states are skipped and the retained value converges on the
// current one.
type StatePublisher struct {
	pub    RetainedPublisher
	topic  string
	logger Logger

	pending chan State
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewStatePublisher starts a publisher for topic. Call Close to stop it.
func NewStatePublisher(pub RetainedPublisher, topic string, logger Logger) *StatePublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	p := &StatePublisher{
		pub:     pub,
		topic:   topic,
		logger:  logger,
		pending: make(chan State, 1),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// SessionChanged implements Observer. It never blocks.
func (p *StatePublisher) SessionChanged(state State) {
	for {
		select {
		case p.pending <- state:
			return
		default:
		}
		// Replace the stale pending state.
		select {
		case <-p.pending:
		default:
		}
	}
}

// Close publishes any pending state and stops the goroutine.
func (p *StatePublisher) Close() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *StatePublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case state := <-p.pending:
			p.publish(state)
		case <-p.done:
			select {
			case state := <-p.pending:
				p.publish(state)
			default:
			}
			return
		}
	}
}

func (p *StatePublisher) publish(state State) {
	payload, err := json.Marshal(state)
	if err != nil {
		p.logger.Error("encoding session state", "error", err)
		return
	}
	if err := p.pub.PublishRetained(p.topic, payload); err != nil {
		p.logger.Warn("publishing session state failed", "topic", p.topic, "phase", state.Phase, "error", err)
	}
}

// AttemptWriter records one settled session as a metric.
// Satisfied by *influxdb.Client.
type AttemptWriter interface {
	WriteAuthAttempt(a influxdb.AuthAttempt)
}

// MetricsObserver writes an auth_attempts point for every Settled state.
type MetricsObserver struct {
	w AttemptWriter
}

// NewMetricsObserver creates an observer backed by w.
func NewMetricsObserver(w AttemptWriter) *MetricsObserver {
	return &MetricsObserver{w: w}
}

// SessionChanged implements Observer.
func (m *MetricsObserver) SessionChanged(state State) {
	if state.Phase != PhaseSettled || state.Last == nil {
		return
	}
	m.w.WriteAuthAttempt(influxdb.AuthAttempt{
		DeviceID: state.DeviceID,
		Outcome:  string(state.Last.Kind),
		Reason:   string(state.Last.Reason),
		Success:  state.Last.Success(),
		Latency:  time.Duration(state.LatencyMS) * time.Millisecond,
		At:       state.Since,
	})
}
