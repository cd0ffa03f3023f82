package transport

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Loopback is an in-process Bus. Publish delivers synchronously to every
// matching subscription; it is used for local runs (broker "loopback://")
// and in tests.
type Loopback struct {
	mu     sync.RWMutex
	subs   map[string]Handler
	closed bool

	// Published records every publication in order.
	pmu       sync.Mutex
	published []Message
}

func NewLoopback() *Loopback {
	return &Loopback{subs: map[string]Handler{}}
}

func (l *Loopback) Connect(ctx context.Context) error { return nil }

func (l *Loopback) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.subs = map[string]Handler{}
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Subscribe(topic string, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.subs[topic] = h
	return nil
}

func (l *Loopback) Unsubscribe(topic string) error {
	l.mu.Lock()
	delete(l.subs, topic)
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Publish(ctx context.Context, topic string, payload []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	hs := make([]Handler, 0, 1)
	for filter, h := range l.subs {
		if TopicMatches(filter, topic) {
			hs = append(hs, h)
		}
	}
	l.mu.RUnlock()

	m := Message{Topic: topic, Payload: append([]byte(nil), payload...), Received: time.Now()}
	l.pmu.Lock()
	l.published = append(l.published, m)
	l.pmu.Unlock()

	for _, h := range hs {
		h(ctx, m)
	}
	return nil
}

// Published returns a copy of all publications on topic (all topics if empty).
func (l *Loopback) Published(topic string) []Message {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	out := make([]Message, 0, len(l.published))
	for _, m := range l.published {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// TopicMatches reports whether topic matches an MQTT subscription filter
// ("+" matches one level, a trailing "#" matches the rest).
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return i == len(fp)-1
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
