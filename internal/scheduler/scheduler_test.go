package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeorch/internal/notifier"
	"homeorch/internal/reminder"
	logx "homeorch/pkg/logx"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeClock records armed timers; tests fire them by hand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []notifier.Notification
	ch  chan notifier.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n notifier.Notification) error {
	p.mu.Lock()
	p.got = append(p.got, n)
	p.mu.Unlock()
	if p.ch != nil {
		p.ch <- n
	}
	return nil
}

func (p *recordingPublisher) published() []notifier.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notifier.Notification(nil), p.got...)
}

type fixture struct {
	store *reminder.Store
	clock *fakeClock
	pub   *recordingPublisher
	sched *Scheduler
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("r%d", n)
	}
}

// newFixture starts a scheduler on Monday 2024-01-01 10:00 UTC.
func newFixture(t *testing.T, grace time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store: reminder.NewStore(reminder.Options{Log: logx.Nop(), NewID: seqIDs()}),
		clock: &fakeClock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		pub:   &recordingPublisher{},
	}
	s, err := New(Options{
		Store:     f.store,
		Publisher: f.pub,
		Now:       f.clock.Now,
		Location:  time.UTC,
		Grace:     grace,
		AfterFunc: f.clock.AfterFunc,
		Log:       logx.Nop(),
	})
	require.NoError(t, err)
	f.sched = s
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sched.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.sched.Stop(ctx)
	})
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{Publisher: &recordingPublisher{}})
	assert.Error(t, err)
	_, err = New(Options{Store: reminder.NewStore(reminder.Options{})})
	assert.Error(t, err)
}

func TestStartArmsStoredReminders(t *testing.T) {
	f := newFixture(t, 0)
	id, err := f.store.Add(9, 0, 3, 1)
	require.NoError(t, err)
	require.Equal(t, 0, f.clock.count())

	f.start(t)
	require.Equal(t, 1, f.clock.count())
	assert.Equal(t, 169200*time.Second, f.clock.last().d)
	assert.Equal(t, "armed", f.sched.State(id))

	due, ok := f.sched.Next(id)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), due)
}

func TestAddArmsAfterStart(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)

	_, err := f.store.Add(10, 0, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 1, f.clock.count())
	// same minute as now rolls a full week
	assert.Equal(t, 7*24*time.Hour, f.clock.last().d)
	assert.Equal(t, 1, f.sched.Armed())
}

func TestFirePublishesAndRearms(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)
	id, err := f.store.Add(10, 30, 1, 4)
	require.NoError(t, err)

	first := f.clock.last()
	assert.Equal(t, 30*time.Minute, first.d)
	first.f()

	got := f.pub.published()
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ReminderID)
	assert.Equal(t, 4, got[0].Concept)

	require.Equal(t, 2, f.clock.count(), "repeat re-arms")
	assert.Equal(t, "armed", f.sched.State(id))
}

func TestNonRepeatingFiresOnce(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)
	id, err := f.store.Add(10, 30, 1, 7)
	require.NoError(t, err)

	f.clock.last().f()
	require.Len(t, f.pub.published(), 1)
	assert.Equal(t, 1, f.clock.count())
	assert.Equal(t, "fired", f.sched.State(id))
	assert.Equal(t, 0, f.sched.Armed())
}

func TestRemoveCancelsTimer(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)
	id, err := f.store.Add(11, 0, 1, 1)
	require.NoError(t, err)
	tm := f.clock.last()

	require.True(t, f.store.Remove(id))
	assert.True(t, tm.stopped)
	assert.Equal(t, "unarmed", f.sched.State(id))

	// a timer that was already running when Remove landed
	tm.f()
	assert.Empty(t, f.pub.published())
}

func TestRearmIgnoresStaleTimer(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)
	id, err := f.store.Add(11, 0, 1, 1)
	require.NoError(t, err)
	old := f.clock.last()

	f.sched.OnAdded(id)
	require.Equal(t, 2, f.clock.count())
	assert.True(t, old.stopped)

	old.f()
	assert.Empty(t, f.pub.published())

	f.clock.last().f()
	assert.Len(t, f.pub.published(), 1)
}

func TestRemoveOfUnknownIsHarmless(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)
	f.sched.OnRemoved("nope")
	assert.Equal(t, 0, f.sched.Armed())
}

func TestFireAfterStoreMissSkipsPublish(t *testing.T) {
	f := newFixture(t, 0)
	f.start(t)
	id, err := f.store.Add(11, 0, 1, 1)
	require.NoError(t, err)
	tm := f.clock.last()

	// drop the entry from the store without telling the scheduler
	reg := f.store.Register(nopListener{})
	f.store.Deregister(f.sched.reg)
	require.True(t, f.store.Remove(id))
	f.store.Deregister(reg)

	tm.f()
	assert.Empty(t, f.pub.published())
	assert.Equal(t, "unarmed", f.sched.State(id))
}

type nopListener struct{}

func (nopListener) OnAdded(string)   {}
func (nopListener) OnRemoved(string) {}

func TestStopInterruptsGrace(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.pub.ch = make(chan notifier.Notification, 1)
	require.NoError(t, f.sched.Start(context.Background()))
	_, err := f.store.Add(10, 30, 1, 1)
	require.NoError(t, err)

	go f.clock.last().f()
	select {
	case <-f.pub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("not fired")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.sched.Stop(ctx))
	assert.Equal(t, 1, f.clock.count(), "no re-arm after stop")

	// store mutations after Stop no longer reach the scheduler
	_, err = f.store.Add(12, 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.clock.count())
}

func TestStopCancelsTimers(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.sched.Start(context.Background()))
	_, err := f.store.Add(11, 0, 1, 1)
	require.NoError(t, err)
	tm := f.clock.last()

	require.NoError(t, f.sched.Stop(context.Background()))
	assert.True(t, tm.stopped)
	tm.f()
	assert.Empty(t, f.pub.published())
	assert.Error(t, f.sched.Start(context.Background()))
}

func TestConcurrentStartStopLeavesNoObserver(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, 0)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.sched.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = f.sched.Stop(context.Background())
		}()
		wg.Wait()

		before := f.clock.count()
		_, err := f.store.Add(11, 0, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, before, f.clock.count(), "stopped scheduler must not arm new reminders")
	}
}
