// Package eventstore appends mutation calls to EventStoreDB.
package eventstore

import (
	"context"
	"fmt"
	"log/slog"

	esdb "github.com/EventStore/EventStore-Client-Go/v4/esdb"
	uuid "github.com/google/uuid"

	mutation "github.com/hanpama/mutagraph/internal/mutation"
	sink "github.com/hanpama/mutagraph/internal/sink"
)

// Sink appends every recorded call as one event on the call's stream.
// Failed appends are not retried.
type Sink struct {
	client *esdb.Client
	logger *slog.Logger
}

var _ sink.Sink = (*Sink)(nil)

// Dial connects to the cluster described by an esdb connection string,
// such as "esdb://localhost:2113?tls=false".
func Dial(connString string, logger *slog.Logger) (*Sink, error) {
	cfg, err := esdb.ParseConnectionString(connString)
	if err != nil {
		return nil, fmt.Errorf("eventstore: parse connection string: %w", err)
	}
	client, err := esdb.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("eventstore: connect: %w", err)
	}
	return NewSink(client, logger), nil
}

// NewSink wraps an existing client. Close releases it.
func NewSink(client *esdb.Client, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{client: client, logger: logger.With("component", "sink.eventstore")}
}

func (s *Sink) Record(ctx context.Context, c mutation.Call) error {
	body, err := c.Body()
	if err != nil {
		return &sink.SerializationError{FieldName: c.FieldName, Err: err}
	}
	id := uuid.Must(uuid.NewRandom())
	data := esdb.EventData{
		EventID:     id,
		EventType:   c.EventType,
		ContentType: esdb.ContentTypeJson,
		Data:        body,
	}
	if _, err := s.client.AppendToStream(ctx, c.Stream, esdb.AppendToStreamOptions{}, data); err != nil {
		return &sink.TransportError{Stream: c.Stream, EventType: c.EventType, Err: err}
	}
	s.logger.InfoContext(ctx, "event appended",
		"stream", c.Stream, "eventType", c.EventType, "eventId", id.String())
	return nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}
