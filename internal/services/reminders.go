package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"homeorch/internal/transport"
	logx "homeorch/pkg/logx"
)

// ReminderStore is the store surface the reminder services use.
type ReminderStore interface {
	Add(hour, minute, weekday, concept int) (string, error)
	Remove(id string) bool
	LegacyView(now time.Time) ([]byte, bool, error)
	IDView() ([]byte, error)
}

// ReminderTopics are the reply topics of the reminder services.
type ReminderTopics struct {
	ManagementIDs string
	IDResponses   string
	Responses     string
}

// Reminders serves reminder management and the two list queries.
type Reminders struct {
	store  ReminderStore
	pub    transport.Publisher
	topics ReminderTopics
	now    func() time.Time
	schema *validator
}

// NewReminders renders list views with the wall clock of loc, the zone the
// scheduler arms timers in. A nil loc means local time.
func NewReminders(store ReminderStore, pub transport.Publisher, topics ReminderTopics, loc *time.Location) (*Reminders, error) {
	v, err := newValidator(managementSchema)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	now := func() time.Time { return time.Now().In(loc) }
	return &Reminders{store: store, pub: pub, topics: topics, now: now, schema: v}, nil
}

// flexInt decodes a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if uq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(uq)
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(s, "+")); err == nil {
		*f = flexInt(n)
		return nil
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(int(fl))
	return nil
}

type managementRequest struct {
	Action  string  `json:"action"`
	ID      string  `json:"id"`
	Hour    flexInt `json:"hour"`
	Minute  flexInt `json:"minute"`
	Weekday flexInt `json:"weekday"`
	Concept flexInt `json:"concept"`
}

// Management adds (action "ADD") or removes (any other action, by id) a
// reminder. After an add, the new id and then the refreshed legacy view are
// published. Invalid messages get no reply.
func (s *Reminders) Management(ctx context.Context, req *Request) error {
	if err := s.schema.validate(req.Payload); err != nil {
		return err
	}
	var m managementRequest
	if err := json.NewDecoder(bytes.NewReader(req.Payload)).Decode(&m); err != nil {
		return fmt.Errorf("%w: %w", errInvalidMessage, err)
	}

	if m.Action != "ADD" {
		if !s.store.Remove(m.ID) {
			req.Logger.Debug("remove ignored; unknown id", logx.String("id", m.ID))
			return nil
		}
		req.Logger.Info("reminder removed", logx.String("id", m.ID))
		return nil
	}

	id, err := s.store.Add(int(m.Hour), int(m.Minute), int(m.Weekday), int(m.Concept))
	if err != nil {
		return err
	}
	req.Logger.Info("reminder added", logx.String("id", id),
		logx.Int("hour", int(m.Hour)), logx.Int("minute", int(m.Minute)),
		logx.Int("weekday", int(m.Weekday)), logx.Int("concept", int(m.Concept)))

	if err := s.pub.Publish(ctx, s.topics.ManagementIDs, []byte(id)); err != nil {
		return fmt.Errorf("publish id: %w", err)
	}
	return s.publishLegacy(ctx)
}

// IDQuery publishes the id view for any inbound message.
func (s *Reminders) IDQuery(ctx context.Context, _ *Request) error {
	b, err := s.store.IDView()
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, s.topics.IDResponses, b)
}

// LegacyQuery publishes the legacy view; nothing is sent when there are no
// reminders.
func (s *Reminders) LegacyQuery(ctx context.Context, _ *Request) error {
	return s.publishLegacy(ctx)
}

func (s *Reminders) publishLegacy(ctx context.Context) error {
	b, ok, err := s.store.LegacyView(s.now())
	if err != nil || !ok {
		return err
	}
	return s.pub.Publish(ctx, s.topics.Responses, b)
}
