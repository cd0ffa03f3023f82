// Package scheduler arms one timer per reminder and publishes a notification
// when it fires.
//
// The scheduler listens to store mutations. Every (re-)arm bumps a version;
// a timer callback whose version no longer matches is ignored, so a reminder
// removed or re-armed while its timer is already running never fires twice.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"homeorch/internal/eventbus"
	"homeorch/internal/notifier"
	"homeorch/internal/reminder"
	logx "homeorch/pkg/logx"
)

// Store is the part of the reminder store the scheduler uses.
type Store interface {
	Get(id string) (reminder.Reminder, bool)
	List() []reminder.Reminder
	Repeat(id string) bool
	Register(l reminder.Listener) reminder.Registration
	Deregister(r reminder.Registration)
}

// Publisher receives fired reminders.
type Publisher interface {
	Publish(ctx context.Context, n notifier.Notification) error
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

type Options struct {
	Store     Store
	Publisher Publisher

	// Now defaults to time.Now.
	Now func() time.Time
	// Location is the zone reminder times are expressed in. Defaults to time.Local.
	Location *time.Location
	// Grace is waited after a fire before the reminder is re-armed, so the
	// re-arm lands in the next minute. Zero disables the wait.
	Grace time.Duration
	// PublishTimeout bounds a single Publish. Defaults to 5s.
	PublishTimeout time.Duration

	// AfterFunc defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer

	Log    logx.Logger
	Events eventbus.Bus
}

type state int

const (
	armed state = iota + 1
	fired
)

func (s state) String() string {
	switch s {
	case armed:
		return "armed"
	case fired:
		return "fired"
	default:
		return "unarmed"
	}
}

type entry struct {
	timer Timer
	ver   uint64
	state state
	due   time.Time
}

// Scheduler implements reminder.Listener.
type Scheduler struct {
	store     Store
	pub       Publisher
	now       func() time.Time
	loc       *time.Location
	grace     time.Duration
	pubTO     time.Duration
	afterFunc func(time.Duration, func()) Timer
	log       logx.Logger
	events    eventbus.Bus

	mu       sync.Mutex
	entries  map[string]*entry
	seq      uint64
	started  bool
	stopped  bool
	reg      reminder.Registration
	baseCtx  context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
}

func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("scheduler: store is nil")
	}
	if opts.Publisher == nil {
		return nil, errors.New("scheduler: publisher is nil")
	}
	s := &Scheduler{
		store:     opts.Store,
		pub:       opts.Publisher,
		now:       opts.Now,
		loc:       opts.Location,
		grace:     max(opts.Grace, 0),
		pubTO:     opts.PublishTimeout,
		afterFunc: opts.AfterFunc,
		log:       opts.Log.With(logx.String("comp", "scheduler")),
		events:    opts.Events,
		entries:   map[string]*entry{},
		done:      make(chan struct{}),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.pubTO <= 0 {
		s.pubTO = 5 * time.Second
	}
	if s.afterFunc == nil {
		s.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if s.events == nil {
		s.events = eventbus.Nop{}
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start registers with the store and arms every stored reminder.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New("scheduler: stopped")
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.reg = s.store.Register(s)
	s.mu.Unlock()

	items := s.store.List()
	for _, r := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.OnAdded(r.ID)
	}
	s.log.Info("scheduler started", logx.Int("armed", len(items)))
	return nil
}

// Stop deregisters from the store, cancels every timer, interrupts grace
// waits and waits for running fires until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started, reg := s.started, s.reg
	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
	close(s.done)
	s.mu.Unlock()

	if started {
		s.store.Deregister(reg)
	}

	wait := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(wait)
	}()
	defer s.cancel()
	select {
	case <-wait:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with fires in flight", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// OnAdded arms (or re-arms) the timer for id.
func (s *Scheduler) OnAdded(id string) {
	r, ok := s.store.Get(id)
	if !ok {
		s.log.Warn("arm: reminder not found", logx.String("id", id))
		return
	}
	now := s.now().In(s.loc)
	delay := reminder.DelayUntil(r.Time, r.Weekday, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	e := s.entries[id]
	if e == nil {
		e = &entry{}
		s.entries[id] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	s.seq++
	ver := s.seq
	e.ver = ver
	e.state = armed
	e.due = now.Add(delay)
	e.timer = s.afterFunc(delay, func() { s.fire(id, ver) })

	s.log.Debug("armed", logx.String("id", id), logx.Duration("in", delay), logx.Time("due", e.due))
}

// OnRemoved cancels the timer for id.
func (s *Scheduler) OnRemoved(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug("disarm: no timer", logx.String("id", id))
		return
	}
	s.log.Debug("disarmed", logx.String("id", id))
}

func (s *Scheduler) fire(id string, ver uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if s.stopped || !ok || e.ver != ver {
		s.mu.Unlock()
		return
	}
	e.state = fired
	e.timer = nil
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	firedAt := s.now()
	if r, ok := s.store.Get(id); ok {
		ctx, cancel := context.WithTimeout(s.baseCtx, s.pubTO)
		err := s.pub.Publish(ctx, notifier.Notification{ReminderID: id, Concept: r.Concept, FiredAt: firedAt})
		cancel()
		if err != nil {
			s.log.Warn("publish failed", logx.String("id", id), logx.Err(err))
		} else {
			s.log.Info("reminder fired", logx.String("id", id), logx.Int("concept", r.Concept))
		}
		s.events.Publish(eventbus.Event{Type: eventbus.ReminderFired, Time: firedAt, Data: r})
	} else {
		s.log.Warn("fire: reminder not found", logx.String("id", id))
	}

	if s.grace > 0 {
		t := time.NewTimer(s.grace)
		select {
		case <-t.C:
		case <-s.done:
			t.Stop()
			return
		}
	}

	if !s.store.Repeat(id) {
		s.mu.Lock()
		if e, ok := s.entries[id]; ok && e.ver == ver {
			delete(s.entries, id)
		}
		s.mu.Unlock()
	}
}

// Next returns when id is due to fire, if it is armed.
func (s *Scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.state != armed {
		return time.Time{}, false
	}
	return e.due, true
}

// State reports "armed", "fired" or "unarmed" for id.
func (s *Scheduler) State(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.state.String()
	}
	return state(0).String()
}

// Armed returns the number of armed timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.state == armed {
			n++
		}
	}
	return n
}
