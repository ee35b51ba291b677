// Package natstore publishes mutation calls to a NATS JetStream stream.
package natstore

import (
	"context"
	"fmt"
	"log/slog"

	uuid "github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	jetstream "github.com/nats-io/nats.go/jetstream"

	mutation "github.com/hanpama/mutagraph/internal/mutation"
	sink "github.com/hanpama/mutagraph/internal/sink"
)

const (
	defaultStreamName    = "MUTAGRAPH"
	defaultSubjectPrefix = "mutation"
)

// Sink publishes every recorded call as one JetStream message on the
// subject <prefix>.<fieldName>. The logical stream and event type ride
// along as headers. Failed publishes are not retried.
type Sink struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	stream  string
	subject string
}

var _ sink.Sink = (*Sink)(nil)

type Option func(*Sink)

// WithStreamName overrides the JetStream stream ensured at dial time.
func WithStreamName(name string) Option { return func(s *Sink) { s.stream = name } }

// WithSubjectPrefix overrides the subject prefix, default "mutation".
func WithSubjectPrefix(prefix string) Option { return func(s *Sink) { s.subject = prefix } }

// Dial connects to the NATS server at url and ensures the stream exists,
// capturing every subject under the configured prefix.
func Dial(ctx context.Context, url string, logger *slog.Logger, opts ...Option) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		logger:  logger.With("component", "sink.nats"),
		stream:  defaultStreamName,
		subject: defaultSubjectPrefix,
	}
	for _, o := range opts {
		o(s)
	}

	conn, err := nats.Connect(url, nats.Name("mutagraph"))
	if err != nil {
		return nil, fmt.Errorf("natstore: connect: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("natstore: jetstream: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     s.stream,
		Subjects: []string{s.subject + ".>"},
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("natstore: ensure stream %s: %w", s.stream, err)
	}

	s.conn = conn
	s.js = js
	return s, nil
}

func (s *Sink) Record(ctx context.Context, c mutation.Call) error {
	body, err := c.Body()
	if err != nil {
		return &sink.SerializationError{FieldName: c.FieldName, Err: err}
	}
	id := uuid.NewString()
	msg := nats.NewMsg(s.subject + "." + c.FieldName)
	msg.Header.Set("Mutagraph-Stream", c.Stream)
	msg.Header.Set("Mutagraph-Event-Type", c.EventType)
	msg.Header.Set("Mutagraph-Event-Id", id)
	msg.Data = body

	ack, err := s.js.PublishMsg(ctx, msg, jetstream.WithMsgID(id))
	if err != nil {
		return &sink.TransportError{Stream: c.Stream, EventType: c.EventType, Err: err}
	}
	s.logger.InfoContext(ctx, "event published",
		"stream", c.Stream, "eventType", c.EventType, "eventId", id,
		"subject", msg.Subject, "sequence", ack.Sequence)
	return nil
}

// Close drains the connection, flushing pending publishes.
func (s *Sink) Close() error {
	return s.conn.Drain()
}
