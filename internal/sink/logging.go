package sink

import (
	"context"
	"log/slog"

	mutation "github.com/hanpama/mutagraph/internal/mutation"
)

// Logging records calls by writing their canonical body to the log. Useful
// as a backend for local runs without a store.
type Logging struct {
	logger *slog.Logger
}

var _ Sink = (*Logging)(nil)

func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger.With("component", "sink.log")}
}

func (l *Logging) Record(ctx context.Context, c mutation.Call) error {
	body, err := c.Body()
	if err != nil {
		return &SerializationError{FieldName: c.FieldName, Err: err}
	}
	l.logger.InfoContext(ctx, "mutation recorded",
		"stream", c.Stream,
		"eventType", c.EventType,
		"body", string(body))
	return nil
}
