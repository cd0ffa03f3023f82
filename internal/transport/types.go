package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
)

// Message is a single inbound publication.
type Message struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

// Handler consumes an inbound message. Handlers may be invoked concurrently.
type Handler func(ctx context.Context, m Message)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Subscriber interface {
	Subscribe(topic string, h Handler) error
	Unsubscribe(topic string) error
}

// Bus is the pub/sub surface the orchestrator needs from a broker.
type Bus interface {
	Publisher
	Subscriber
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
}
