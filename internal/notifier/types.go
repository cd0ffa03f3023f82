package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Workers         int
	QueueSize       int
	RatePerSec      float64
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int
}

// Notification is one fired reminder.
type Notification struct {
	ReminderID string
	Concept    int
	FiredAt    time.Time
}

// Sink delivers a notification somewhere. Deliver must honor ctx.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

type HistoryItem struct {
	At         time.Time
	Sink       string
	ReminderID string
	Concept    int
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Sink       string    `json:"sink,omitempty"`
	ReminderID string    `json:"reminder_id"`
	Concept    int       `json:"concept"`
	Key        string    `json:"key"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}
