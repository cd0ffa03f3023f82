package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"homeorch/internal/eventbus"
	"homeorch/internal/transport"
	logx "homeorch/pkg/logx"
)

type fakeSink struct {
	name string

	mu       sync.Mutex
	failures int // fail this many calls first
	calls    int
	got      []Notification
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("boom")
	}
	f.got = append(f.got, n)
	return nil
}

func (f *fakeSink) delivered() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.got...)
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() Config {
	return Config{
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
		HistorySize:   10,
	}
}

func startService(t *testing.T, cfg Config, sinks ...Sink) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus, sinks...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func TestPublishDeliversToEverySink(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	s, _ := startService(t, testConfig(), a, b)

	n := Notification{ReminderID: "r1", Concept: 3, FiredAt: time.Now()}
	require.NoError(t, s.Publish(context.Background(), n))

	require.Eventually(t, func() bool {
		return len(a.delivered()) == 1 && len(b.delivered()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, a.delivered()[0].Concept)
	assert.Equal(t, []string{"a", "b"}, s.Sinks())
}

func TestPublishRetriesFailedDelivery(t *testing.T) {
	sink := &fakeSink{name: "flaky", failures: 2}
	s, _ := startService(t, testConfig(), sink)

	require.NoError(t, s.Publish(context.Background(), Notification{ReminderID: "r1", Concept: 1}))
	require.Eventually(t, func() bool { return len(sink.delivered()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, sink.callCount())

	require.Eventually(t, func() bool { return len(s.History()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "flaky", s.History()[0].Sink)
}

func TestPublishGivesUpAfterRetries(t *testing.T) {
	sink := &fakeSink{name: "dead", failures: 100}
	s, bus := startService(t, testConfig(), sink)
	events, unsub := bus.Subscribe(16, eventbus.NotifierFailed)
	defer unsub()

	require.NoError(t, s.Publish(context.Background(), Notification{ReminderID: "r1", Concept: 1}))

	select {
	case ev := <-events:
		ne, ok := ev.Data.(NotificationEvent)
		require.True(t, ok)
		assert.Equal(t, "dead", ne.Sink)
		assert.Equal(t, "boom", ne.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("no failure event")
	}
	assert.Equal(t, 3, sink.callCount())
	assert.Empty(t, s.History())
}

func TestPublishDedupsSameMinute(t *testing.T) {
	sink := &fakeSink{name: "a"}
	s, bus := startService(t, testConfig(), sink)
	deduped, unsub := bus.Subscribe(4, eventbus.NotifierDeduped)
	defer unsub()

	at := time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC)
	require.NoError(t, s.Publish(context.Background(), Notification{ReminderID: "r1", Concept: 1, FiredAt: at}))
	require.NoError(t, s.Publish(context.Background(), Notification{ReminderID: "r1", Concept: 1, FiredAt: at.Add(30 * time.Second)}))
	// another reminder in the same minute is not a duplicate
	require.NoError(t, s.Publish(context.Background(), Notification{ReminderID: "r2", Concept: 1, FiredAt: at}))

	require.Eventually(t, func() bool { return len(sink.delivered()) == 2 }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-deduped:
	case <-time.After(time.Second):
		t.Fatal("no dedup event")
	}
}

func TestPublishAfterStop(t *testing.T) {
	s := New(testConfig(), logx.Nop(), nil, &fakeSink{name: "a"})
	assert.ErrorIs(t, s.Publish(context.Background(), Notification{ReminderID: "r1"}), ErrStopped)

	s.Start(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Publish(context.Background(), Notification{ReminderID: "r1"}), ErrStopped)
}

type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Name() string { return "slow" }

func (b *blockingSink) Deliver(ctx context.Context, _ Notification) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPublishQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.DedupWindow = 0
	sink := &blockingSink{release: make(chan struct{})}
	defer close(sink.release)
	s, _ := startService(t, cfg, sink)

	var full bool
	for i := 0; i < 10 && !full; i++ {
		err := s.Publish(context.Background(), Notification{ReminderID: "r1", FiredAt: time.Now()})
		full = errors.Is(err, ErrQueueFull)
	}
	assert.True(t, full)
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.GreaterOrEqual(t, d, 70*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestBusSinkPublishesConcept(t *testing.T) {
	lb := transport.NewLoopback()
	sink := NewBusSink(lb, "hermes/external/notifications")

	require.NoError(t, sink.Deliver(context.Background(), Notification{ReminderID: "r1", Concept: 7}))
	msgs := lb.Published("hermes/external/notifications")
	require.Len(t, msgs, 1)
	assert.Equal(t, "7", string(msgs[0].Payload))
}

type fakeBot struct {
	to   tele.Recipient
	text string
	opts []interface{}
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.to = to
	f.text, _ = what.(string)
	f.opts = opts
	return &tele.Message{ID: 1}, nil
}

func TestTelegramSinkSendsToChat(t *testing.T) {
	bot := &fakeBot{}
	sink := &TelegramSink{bot: bot, chatID: 42, threadID: 5}

	at := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, sink.Deliver(context.Background(), Notification{ReminderID: "r1", Concept: 2, FiredAt: at}))
	assert.Equal(t, "42", bot.to.Recipient())
	assert.Equal(t, "Recordatorio 2 (Mon 09:30)", bot.text)
	require.Len(t, bot.opts, 1)
	assert.Equal(t, 5, bot.opts[0].(*tele.SendOptions).ThreadID)
}

func TestNewTelegramSinkRequiresToken(t *testing.T) {
	_, err := NewTelegramSink(TelegramConfig{ChatID: 1})
	assert.Error(t, err)
	_, err = NewTelegramSink(TelegramConfig{Token: "x"})
	assert.Error(t, err)
}
