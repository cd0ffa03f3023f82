package reminder

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"homeorch/internal/eventbus"
	"homeorch/internal/storage"
	logx "homeorch/pkg/logx"
)

// Options configures a Store. Zero values get defaults.
type Options struct {
	Backend storage.Backend

	// NonRepeating lists concepts that fire once. Defaults to [7].
	NonRepeating []int

	// SaveTimeout bounds a single Save. Defaults to 10s.
	SaveTimeout time.Duration

	Events eventbus.Bus
	Log    logx.Logger

	// NewID generates reminder ids. Defaults to UUIDv4.
	NewID func() string
}

type observer struct {
	id string
	fn func(id string)
}

// Store is the in-memory reminder collection. The id index and the sorted
// list are always mutated together under mu.
type Store struct {
	backend      storage.Backend
	nonRepeating []int
	saveTimeout  time.Duration
	events       eventbus.Bus
	log          logx.Logger
	newID        func() string

	mu      sync.RWMutex
	byID    map[string]Reminder
	ordered []Reminder

	obsMu    sync.Mutex
	onAdd    []observer
	onRemove []observer

	autoMu     sync.Mutex
	autosave   *cron.Cron
	autoCancel context.CancelFunc
}

func NewStore(opts Options) *Store {
	s := &Store{
		backend:      opts.Backend,
		nonRepeating: slices.Clone(opts.NonRepeating),
		saveTimeout:  opts.SaveTimeout,
		events:       opts.Events,
		log:          opts.Log.With(logx.String("comp", "reminders")),
		newID:        opts.NewID,
		byID:         map[string]Reminder{},
	}
	if opts.NonRepeating == nil {
		s.nonRepeating = []int{7}
	}
	if s.saveTimeout <= 0 {
		s.saveTimeout = 10 * time.Second
	}
	if s.events == nil {
		s.events = eventbus.Nop{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// IsRepeating reports whether reminders with this concept re-arm after firing.
func (s *Store) IsRepeating(concept int) bool {
	return !slices.Contains(s.nonRepeating, concept)
}

// Add validates and inserts a reminder and notifies add observers.
func (s *Store) Add(hour, minute, weekday, concept int) (string, error) {
	if err := Validate(hour, minute, weekday); err != nil {
		s.log.Warn("reminder rejected", logx.Err(err))
		return "", err
	}
	r := Reminder{
		ID:      s.newID(),
		Time:    TimeOfDay{Hour: hour, Minute: minute},
		Weekday: weekday,
		Concept: concept,
	}

	s.mu.Lock()
	if _, dup := s.byID[r.ID]; dup {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: duplicate id %s", ErrInvalidReminder, r.ID)
	}
	s.byID[r.ID] = r
	s.ordered = append(s.ordered, r)
	s.sortLocked()
	s.mu.Unlock()

	s.log.Debug("reminder added",
		logx.String("id", r.ID), logx.String("time", r.Time.String()),
		logx.Int("weekday", r.Weekday), logx.Int("concept", r.Concept))
	s.events.Publish(eventbus.Event{Type: eventbus.ReminderAdded, Data: r})
	s.notify(s.snapshot(&s.onAdd), r.ID, "add")
	return r.ID, nil
}

// Remove deletes id and notifies remove observers. It returns false for
// unknown ids.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	r, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		s.log.Warn("remove ignored", logx.String("id", id), logx.Err(ErrNotFound))
		return false
	}
	delete(s.byID, id)
	if i := slices.IndexFunc(s.ordered, func(x Reminder) bool { return x.ID == id }); i >= 0 {
		s.ordered = slices.Delete(s.ordered, i, i+1)
	}
	s.mu.Unlock()

	s.log.Debug("reminder removed", logx.String("id", id))
	s.events.Publish(eventbus.Event{Type: eventbus.ReminderRemoved, Data: r})
	s.notify(s.snapshot(&s.onRemove), id, "remove")
	return true
}

func (s *Store) Get(id string) (Reminder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

// List returns a copy of all reminders in list order.
func (s *Store) List() []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ordered)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

// Repeat re-announces id to add observers so it gets re-armed. Non-repeating
// reminders are acknowledged without notification.
func (s *Store) Repeat(id string) bool {
	r, ok := s.Get(id)
	if !ok {
		s.log.Warn("repeat ignored", logx.String("id", id), logx.Err(ErrNotFound))
		return false
	}
	if !s.IsRepeating(r.Concept) {
		s.log.Debug("non-repeating reminder; not re-arming", logx.String("id", id), logx.Int("concept", r.Concept))
		return true
	}
	s.events.Publish(eventbus.Event{Type: eventbus.ReminderRepeated, Data: r})
	s.notify(s.snapshot(&s.onAdd), id, "add")
	return true
}

// sortLocked orders by the weekday+time key, descending and stable.
func (s *Store) sortLocked() {
	sort.SliceStable(s.ordered, func(i, j int) bool {
		return s.ordered[i].sortKey() > s.ordered[j].sortKey()
	})
}

// ---- observers ----

func (s *Store) RegisterAddObserver(fn func(id string)) string {
	return s.register(&s.onAdd, fn)
}

func (s *Store) DeregisterAddObserver(id string) bool {
	return s.deregister(&s.onAdd, id)
}

func (s *Store) RegisterRemoveObserver(fn func(id string)) string {
	return s.register(&s.onRemove, fn)
}

func (s *Store) DeregisterRemoveObserver(id string) bool {
	return s.deregister(&s.onRemove, id)
}

// Register subscribes l to both add and remove notifications.
func (s *Store) Register(l Listener) Registration {
	return Registration{
		add:    s.RegisterAddObserver(l.OnAdded),
		remove: s.RegisterRemoveObserver(l.OnRemoved),
	}
}

func (s *Store) Deregister(r Registration) {
	s.DeregisterAddObserver(r.add)
	s.DeregisterRemoveObserver(r.remove)
}

func (s *Store) register(list *[]observer, fn func(string)) string {
	id := uuid.NewString()
	s.obsMu.Lock()
	*list = append(*list, observer{id: id, fn: fn})
	s.obsMu.Unlock()
	return id
}

func (s *Store) deregister(list *[]observer, id string) bool {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	i := slices.IndexFunc(*list, func(o observer) bool { return o.id == id })
	if i < 0 {
		s.log.Warn("observer not found", logx.String("observer", id))
		return false
	}
	*list = slices.Delete(*list, i, i+1)
	return true
}

func (s *Store) snapshot(list *[]observer) []observer {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	return slices.Clone(*list)
}

// notify calls every observer; a panicking observer does not stop the rest.
func (s *Store) notify(obs []observer, id, kind string) {
	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("observer panicked",
						logx.String("kind", kind), logx.String("observer", o.id), logx.String("id", id),
						logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			o.fn(id)
		}()
	}
}

// ---- persistence ----

// Save writes a snapshot to the backend. Failures are logged, not returned.
func (s *Store) Save(ctx context.Context) {
	if err := s.persist(ctx); err != nil {
		s.log.Error("save failed", logx.Err(err))
		s.events.Publish(eventbus.Event{Type: eventbus.ReminderSaveFail, Data: err.Error()})
	}
}

func (s *Store) persist(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.mu.RLock()
	recs := make(map[string]storage.Record, len(s.byID))
	for id, r := range s.byID {
		recs[id] = storage.Record{ID: id, Hour: r.Time.Hour, Minute: r.Time.Minute, Weekday: r.Weekday, Concept: r.Concept}
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()
	start := time.Now()
	if err := s.backend.Save(ctx, recs); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.log.Debug("saved", logx.Int("count", len(recs)), logx.Duration("took", time.Since(start)))
	s.events.Publish(eventbus.Event{Type: eventbus.ReminderSaved, Data: len(recs)})
	return nil
}

// Load replaces the store contents with the backend snapshot. Observers are
// not notified. On any error the store is left empty.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	s.byID = map[string]Reminder{}
	s.ordered = nil
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()
	recs, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	byID := make(map[string]Reminder, len(recs))
	ordered := make([]Reminder, 0, len(recs))
	for id, rec := range recs {
		if err := Validate(rec.Hour, rec.Minute, rec.Weekday); err != nil {
			return fmt.Errorf("%w: stored reminder %s: %w", ErrPersistence, id, err)
		}
		r := Reminder{ID: id, Time: TimeOfDay{Hour: rec.Hour, Minute: rec.Minute}, Weekday: rec.Weekday, Concept: rec.Concept}
		byID[id] = r
		ordered = append(ordered, r)
	}
	// map order is random; fix ties before the stable sort
	slices.SortFunc(ordered, func(a, b Reminder) int { return strings.Compare(a.ID, b.ID) })

	s.mu.Lock()
	s.byID = byID
	s.ordered = ordered
	s.sortLocked()
	s.mu.Unlock()

	s.log.Info("loaded", logx.Int("count", len(byID)))
	return nil
}
