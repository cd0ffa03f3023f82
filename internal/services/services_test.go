package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeorch/internal/eventbus"
	"homeorch/internal/reminder"
	"homeorch/internal/transport"
	logx "homeorch/pkg/logx"
)

const (
	topicManagement = "/dsh/damaso/reminders/management"
	topicIDs        = "/dsh/damaso/reminders/management/ids"
	topicRequests   = "/dsh/damaso/reminders/requests"
	topicIDResp     = "/dsh/damaso/reminders/IDresponses"
	topicLegacy     = "/"
	topicResponses  = "/dsh/damaso/reminders/responses"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("r%d", n)
	}
}

type harness struct {
	bus   *transport.Loopback
	store *reminder.Store
	rt    *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:   transport.NewLoopback(),
		store: reminder.NewStore(reminder.Options{Log: logx.Nop(), NewID: seqIDs()}),
	}
	svc, err := NewReminders(h.store, h.bus, ReminderTopics{
		ManagementIDs: topicIDs,
		IDResponses:   topicIDResp,
		Responses:     topicResponses,
	}, time.Local)
	require.NoError(t, err)
	// Monday 10:00
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.Local) }

	h.rt = NewRouter(h.bus, RouterOptions{Log: logx.Nop()})
	require.NoError(t, h.rt.Handle(Service{Name: "management", Topic: topicManagement, Handle: svc.Management}))
	require.NoError(t, h.rt.Handle(Service{Name: "id_query", Topic: topicRequests, Handle: svc.IDQuery}))
	require.NoError(t, h.rt.Handle(Service{Name: "legacy_query", Topic: topicLegacy, Handle: svc.LegacyQuery}))
	require.NoError(t, h.rt.Start(context.Background()))
	t.Cleanup(h.rt.Stop)
	return h
}

func (h *harness) send(t *testing.T, topic, payload string) {
	t.Helper()
	require.NoError(t, h.bus.Publish(context.Background(), topic, []byte(payload)))
}

func payloads(ms []transport.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, string(m.Payload))
	}
	return out
}

func TestManagementAdd(t *testing.T) {
	h := newHarness(t)
	h.send(t, topicManagement, `{"action":"ADD","hour":9,"minute":0,"weekday":3,"concept":1}`)

	assert.Equal(t, []string{"r1"}, payloads(h.bus.Published(topicIDs)))
	assert.Equal(t,
		[]string{`{"recordatorios":[{"tiempo":169200000,"sonido":1}]}`},
		payloads(h.bus.Published(topicResponses)))

	// the id reply goes out before the list refresh
	all := h.bus.Published("")
	require.Len(t, all, 3)
	assert.Equal(t, topicIDs, all[1].Topic)
	assert.Equal(t, topicResponses, all[2].Topic)
}

func TestManagementAcceptsNumericStrings(t *testing.T) {
	h := newHarness(t)
	h.send(t, topicManagement, `{"action":"ADD","hour":"9","minute":"30","weekday":"3","concept":"2"}`)

	r, ok := h.store.Get("r1")
	require.True(t, ok)
	assert.Equal(t, reminder.TimeOfDay{Hour: 9, Minute: 30}, r.Time)
	assert.Equal(t, 3, r.Weekday)
	assert.Equal(t, 2, r.Concept)
}

func TestManagementRejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `hello`,
		"no action":         `{"hour":9}`,
		"add missing":       `{"action":"ADD","hour":9,"minute":0,"weekday":3}`,
		"non numeric":       `{"action":"ADD","hour":"nine","minute":0,"weekday":3,"concept":1}`,
		"out of range":      `{"action":"ADD","hour":25,"minute":0,"weekday":3,"concept":1}`,
		"remove without id": `{"action":"DEL"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.send(t, topicManagement, payload)
			assert.Equal(t, 0, h.store.Len())
			assert.Empty(t, h.bus.Published(topicIDs))
			assert.Empty(t, h.bus.Published(topicResponses))
		})
	}
}

func TestManagementRemove(t *testing.T) {
	h := newHarness(t)
	id, err := h.store.Add(9, 0, 3, 1)
	require.NoError(t, err)

	h.send(t, topicManagement, `{"action":"DEL","id":"`+id+`"}`)
	assert.Equal(t, 0, h.store.Len())
	assert.Empty(t, h.bus.Published(topicIDs))

	// unknown ids are ignored
	h.send(t, topicManagement, `{"action":"DEL","id":"nope"}`)
	assert.Equal(t, 0, h.store.Len())
}

func TestQueries(t *testing.T) {
	h := newHarness(t)

	h.send(t, topicLegacy, "")
	assert.Empty(t, h.bus.Published(topicResponses), "empty legacy view publishes nothing")

	h.send(t, topicRequests, "")
	assert.Equal(t, []string{`{"recordatorios":[]}`}, payloads(h.bus.Published(topicIDResp)))

	_, err := h.store.Add(9, 0, 3, 1)
	require.NoError(t, err)
	h.send(t, topicRequests, "anything")
	h.send(t, topicLegacy, "anything")

	ids := h.bus.Published(topicIDResp)
	require.Len(t, ids, 2)
	assert.JSONEq(t, `{"recordatorios":[{"tiempo":32400000,"dia":3,"sonido":1,"id":"r1"}]}`, string(ids[1].Payload))
	assert.Equal(t, []string{`{"recordatorios":[{"tiempo":169200000,"sonido":1}]}`}, payloads(h.bus.Published(topicResponses)))
}

func TestRouterRateLimit(t *testing.T) {
	bus := transport.NewLoopback()
	events := eventbus.New()
	dropped, unsub := events.Subscribe(4, eventbus.ServiceDropped)
	defer unsub()

	calls := 0
	rt := NewRouter(bus, RouterOptions{RatePerSec: 0.001, Burst: 1, Log: logx.Nop(), Events: events})
	require.NoError(t, rt.Handle(Service{Name: "x", Topic: "t", Handle: func(context.Context, *Request) error {
		calls++
		return nil
	}}))
	require.NoError(t, rt.Start(context.Background()))
	defer rt.Stop()

	for range 3 {
		require.NoError(t, bus.Publish(context.Background(), "t", nil))
	}
	assert.Equal(t, 1, calls)
	handled, drops := rt.Stats("x")
	assert.Equal(t, uint64(1), handled)
	assert.Equal(t, uint64(2), drops)
	select {
	case <-dropped:
	default:
		t.Fatal("no drop event")
	}
}

func TestRouterRecoversPanics(t *testing.T) {
	bus := transport.NewLoopback()
	rt := NewRouter(bus, RouterOptions{Log: logx.Nop()})
	require.NoError(t, rt.Handle(Service{Name: "boom", Topic: "t", Handle: func(context.Context, *Request) error {
		panic("boom")
	}}))
	require.NoError(t, rt.Start(context.Background()))
	defer rt.Stop()

	assert.NotPanics(t, func() {
		_ = bus.Publish(context.Background(), "t", nil)
	})
}

func TestRouterHandleValidation(t *testing.T) {
	rt := NewRouter(transport.NewLoopback(), RouterOptions{})
	noop := func(context.Context, *Request) error { return nil }

	assert.Error(t, rt.Handle(Service{Name: "a", Handle: noop}))
	require.NoError(t, rt.Handle(Service{Name: "a", Topic: "t", Handle: noop}))
	assert.Error(t, rt.Handle(Service{Name: "a", Topic: "u", Handle: noop}), "duplicate")

	require.NoError(t, rt.Start(context.Background()))
	assert.Error(t, rt.Handle(Service{Name: "b", Topic: "u", Handle: noop}), "after start")
	assert.Equal(t, []string{"a"}, rt.Services())

	rt.Stop()
	rt.Stop()
}

type subscribeErr struct{ *transport.Loopback }

func (subscribeErr) Subscribe(string, transport.Handler) error { return errors.New("nope") }

func TestRouterStartFailure(t *testing.T) {
	rt := NewRouter(subscribeErr{transport.NewLoopback()}, RouterOptions{})
	require.NoError(t, rt.Handle(Service{Name: "a", Topic: "t", Handle: func(context.Context, *Request) error { return nil }}))
	assert.ErrorContains(t, rt.Start(context.Background()), "subscribe a")
}

func TestProactive(t *testing.T) {
	bus := transport.NewLoopback()
	p := NewProactive(bus, "hermes/hotword/hey_snips/detected")
	require.NoError(t, p.Wake(context.Background(), &Request{}))

	msgs := bus.Published("hermes/hotword/hey_snips/detected")
	require.Len(t, msgs, 1)
	var got map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, map[string]string{"siteId": "default", "modelId": "hey_snips"}, got)
}

type fakeMedia struct {
	playPause int
	stops     int
	channel   string
	known     map[string]bool
	next      time.Time
	found     bool
	err       error
}

func (f *fakeMedia) PlayPause(context.Context) (bool, error) {
	f.playPause++
	return true, f.err
}

func (f *fakeMedia) Stop(context.Context) (bool, error) {
	f.stops++
	return true, f.err
}

func (f *fakeMedia) PlayChannel(_ context.Context, name string) (bool, error) {
	f.channel = name
	return f.known[name], f.err
}

func (f *fakeMedia) NextBroadcast(context.Context, string) (time.Time, bool, error) {
	return f.next, f.found, f.err
}

type addCall struct{ hour, minute, weekday, concept int }

type fakeAdder struct{ calls []addCall }

func (f *fakeAdder) Add(hour, minute, weekday, concept int) (string, error) {
	f.calls = append(f.calls, addCall{hour, minute, weekday, concept})
	return "id", nil
}

func TestTVCommands(t *testing.T) {
	media := &fakeMedia{known: map[string]bool{"La 1": true}}
	tv := NewTV(media, &fakeAdder{}, 9)
	req := &Request{Logger: logx.Nop()}
	ctx := context.Background()

	require.NoError(t, tv.PlayPause(ctx, req))
	require.NoError(t, tv.Stop(ctx, req))
	req.Payload = []byte(" La 1 \n")
	require.NoError(t, tv.Channel(ctx, req))
	assert.Equal(t, 1, media.playPause)
	assert.Equal(t, 1, media.stops)
	assert.Equal(t, "La 1", media.channel)

	req.Payload = nil
	assert.Error(t, tv.Channel(ctx, req))

	media.err = errors.New("down")
	assert.Error(t, tv.PlayPause(ctx, req))
}

func TestTVBroadcastAddsReminder(t *testing.T) {
	// Wednesday 2024-01-03 21:30
	media := &fakeMedia{next: time.Date(2024, 1, 3, 21, 30, 0, 0, time.Local), found: true}
	adder := &fakeAdder{}
	tv := NewTV(media, adder, 9)
	req := &Request{Logger: logx.Nop(), Payload: []byte("Saber y ganar")}

	require.NoError(t, tv.Broadcast(context.Background(), req))
	assert.Equal(t, []addCall{{21, 30, 3, 9}}, adder.calls)

	// midnight belongs to the previous day as hour 24
	media.next = time.Date(2024, 1, 4, 0, 15, 0, 0, time.Local)
	require.NoError(t, tv.Broadcast(context.Background(), req))
	assert.Equal(t, addCall{24, 15, 3, 9}, adder.calls[1])

	media.found = false
	require.NoError(t, tv.Broadcast(context.Background(), req))
	assert.Len(t, adder.calls, 2)
}
