// v0
// internal/sink/sink.go
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nrgchamp/telemetry/internal/broadcast"
	"nrgchamp/telemetry/internal/circuitbreaker"
)

// Stream names used to derive topics and channels.
const (
	StreamReadings   = "readings"
	StreamStatistics = "statistics"
	StreamAnomalies  = "anomalies"
)

var (
	errSinkNilLogger  = errors.New("sink requires a logger")
	errSinkNotStarted = errors.New("sink not started")
	errSinkStopped    = errors.New("sink stopped")
	errQueueFull      = errors.New("sink queue full")
)

// Sink is an external broadcaster with a background lifecycle.
type Sink interface {
	broadcast.Broadcaster
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// message is the JSON frame published on pub/sub transports.
type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encode(stream string, payload any) ([]byte, error) {
	b, err := json.Marshal(message{Type: stream, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", stream, err)
	}
	return b, nil
}

// guard runs op through the breaker when one is configured.
func guard(ctx context.Context, b *circuitbreaker.Breaker, op func(context.Context) error) error {
	if b == nil {
		return op(ctx)
	}
	return b.Execute(ctx, op)
}
