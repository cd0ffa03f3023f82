package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"homeorch/internal/reminder"
	"homeorch/internal/transport"
	logx "homeorch/pkg/logx"
)

// Proactive wakes the voice assistant by faking a hotword detection.
type Proactive struct {
	pub   transport.Publisher
	topic string
}

func NewProactive(pub transport.Publisher, hotwordTopic string) *Proactive {
	return &Proactive{pub: pub, topic: hotwordTopic}
}

type hotword struct {
	SiteID  string `json:"siteId"`
	ModelID string `json:"modelId"`
}

func (p *Proactive) Wake(ctx context.Context, _ *Request) error {
	b, err := json.Marshal(hotword{SiteID: "default", ModelID: "hey_snips"})
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, p.topic, b)
}

// MediaCenter is the media-center surface the TV services need.
type MediaCenter interface {
	PlayPause(ctx context.Context) (bool, error)
	Stop(ctx context.Context) (bool, error)
	PlayChannel(ctx context.Context, name string) (bool, error)
	NextBroadcast(ctx context.Context, label string) (time.Time, bool, error)
}

// ReminderAdder creates reminders for upcoming broadcasts.
type ReminderAdder interface {
	Add(hour, minute, weekday, concept int) (string, error)
}

// TV forwards playback commands to the media center and turns broadcast
// names into reminders.
type TV struct {
	media     MediaCenter
	reminders ReminderAdder
	concept   int
}

func NewTV(media MediaCenter, reminders ReminderAdder, broadcastConcept int) *TV {
	return &TV{media: media, reminders: reminders, concept: broadcastConcept}
}

func (t *TV) PlayPause(ctx context.Context, req *Request) error {
	ok, err := t.media.PlayPause(ctx)
	if err != nil {
		return err
	}
	req.Logger.Debug("play/pause", logx.Bool("ok", ok))
	return nil
}

func (t *TV) Stop(ctx context.Context, req *Request) error {
	ok, err := t.media.Stop(ctx)
	if err != nil {
		return err
	}
	req.Logger.Debug("stop", logx.Bool("stopped", ok))
	return nil
}

func (t *TV) Channel(ctx context.Context, req *Request) error {
	name := strings.TrimSpace(string(req.Payload))
	if name == "" {
		return fmt.Errorf("%w: empty channel name", errInvalidMessage)
	}
	ok, err := t.media.PlayChannel(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		req.Logger.Warn("channel not found", logx.String("channel", name))
	}
	return nil
}

// Broadcast schedules a reminder at the next start of the named programme.
func (t *TV) Broadcast(ctx context.Context, req *Request) error {
	label := strings.TrimSpace(string(req.Payload))
	if label == "" {
		return fmt.Errorf("%w: empty programme name", errInvalidMessage)
	}
	at, ok, err := t.media.NextBroadcast(ctx, label)
	if err != nil {
		return err
	}
	if !ok {
		req.Logger.Warn("broadcast not found", logx.String("programme", label))
		return nil
	}
	hour, weekday := at.Hour(), reminder.ISOWeekday(at.Weekday())
	if hour == 0 {
		// reminder hours run 1..24: midnight is hour 24 of the previous day
		hour, weekday = 24, reminder.ISOWeekday(at.AddDate(0, 0, -1).Weekday())
	}
	id, err := t.reminders.Add(hour, at.Minute(), weekday, t.concept)
	if err != nil {
		return err
	}
	req.Logger.Info("broadcast reminder added", logx.String("programme", label), logx.String("id", id), logx.Time("at", at))
	return nil
}
