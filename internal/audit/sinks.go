package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-attendance/internal/identity"
)

// AuthenticationPoster is the identity service call used by RemoteSink.
type AuthenticationPoster interface {
	LogAuthentication(ctx context.Context, entry identity.AuthenticationLog) error
}

// RemoteSink delivers records to the identity service's audit endpoint.
type RemoteSink struct {
	poster AuthenticationPoster
}

// NewRemoteSink creates a sink backed by the identity service.
func NewRemoteSink(poster AuthenticationPoster) *RemoteSink {
	return &RemoteSink{poster: poster}
}

// Name implements Sink.
func (s *RemoteSink) Name() string { return "remote" }

// Deliver implements Sink.
func (s *RemoteSink) Deliver(ctx context.Context, rec Record) error {
	return s.poster.LogAuthentication(ctx, identity.AuthenticationLog{
		StudentID: rec.subjectOrNil(),
		Success:   rec.Success,
		Timestamp: identity.FormatTimestamp(rec.Timestamp),
		DeviceID:  rec.DeviceID,
	})
}

// JournalSink writes records to the local audit repository.
type JournalSink struct {
	repo Repository
}

// NewJournalSink creates a sink backed by repo.
func NewJournalSink(repo Repository) *JournalSink {
	return &JournalSink{repo: repo}
}

// Name implements Sink.
func (s *JournalSink) Name() string { return "journal" }

// Deliver implements Sink.
func (s *JournalSink) Deliver(ctx context.Context, rec Record) error {
	return s.repo.Create(ctx, &rec)
}

// Publisher publishes a payload to a message topic.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// PublisherSink mirrors records as JSON events on a message topic.
type PublisherSink struct {
	pub   Publisher
	topic string
	qos   byte
}

// NewPublisherSink creates a sink that publishes each record to topic.
func NewPublisherSink(pub Publisher, topic string, qos byte) *PublisherSink {
	return &PublisherSink{pub: pub, topic: topic, qos: qos}
}

// Name implements Sink.
func (s *PublisherSink) Name() string { return "mqtt" }

// Deliver implements Sink. The publisher enforces its own timeout; ctx is
// checked first so an expired delivery is not started.
func (s *PublisherSink) Deliver(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling audit record: %w", err)
	}
	return s.pub.Publish(s.topic, payload, s.qos, false)
}
