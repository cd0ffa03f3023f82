package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeorch/internal/transport"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeZonedConfig(t, dir, "")
}

func writeZonedConfig(t *testing.T, dir, tz string) string {
	t.Helper()
	body := `
logging:
  level: error
  console: false
mqtt:
  broker: "loopback://"
reminders:
  storage:
    driver: file
    path: ` + filepath.Join(dir, "reminders.json") + `
  autosave_interval: 1h
  timezone: "` + tz + `"
kodi:
  enabled: false
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func startApp(t *testing.T, cfgPath string) (*App, *transport.Loopback) {
	t.Helper()
	a, err := NewApp(cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	lb, ok := a.Bus().(*transport.Loopback)
	require.True(t, ok, "loopback broker selects the in-process bus")
	return a, lb
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopContextDone))
}

func TestAppManagementRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	a, bus := startApp(t, cfgPath)
	cfg := a.Config()

	require.NoError(t, bus.Publish(context.Background(), cfg.Topics.Management,
		[]byte(`{"action":"ADD","hour":9,"minute":0,"weekday":3,"concept":1}`)))

	ids := bus.Published(cfg.Topics.ManagementIDs)
	require.Len(t, ids, 1)
	id := string(ids[0].Payload)
	assert.NotEmpty(t, id)
	assert.Len(t, bus.Published(cfg.Topics.Responses), 1)

	_, armed := a.Scheduler().Next(id)
	assert.True(t, armed, "new reminder is armed")

	st, ok := a.Status().(status)
	require.True(t, ok)
	require.Len(t, st.Reminders, 1)
	assert.Equal(t, "armed", st.Reminders[0].State)
	assert.Equal(t, "09:00", st.Reminders[0].Time)
	assert.NotNil(t, st.Reminders[0].Next)
	assert.Nil(t, st.Playing, "kodi disabled")

	stopApp(t, a)

	b, err := os.ReadFile(filepath.Join(dir, "reminders.json"))
	require.NoError(t, err)
	assert.Contains(t, string(b), id)

	// a fresh process restores the saved reminder and re-arms it
	a2, _ := startApp(t, cfgPath)
	defer stopApp(t, a2)
	r, ok := a2.Store().Get(id)
	require.True(t, ok)
	assert.Equal(t, 3, r.Weekday)
	assert.Equal(t, 1, a2.Scheduler().Armed())
}

func TestAppIgnoresInvalidManagement(t *testing.T) {
	a, bus := startApp(t, writeTestConfig(t, t.TempDir()))
	defer stopApp(t, a)
	cfg := a.Config()

	require.NoError(t, bus.Publish(context.Background(), cfg.Topics.Management, []byte(`{"action":"ADD","hour":99}`)))
	assert.Empty(t, bus.Published(cfg.Topics.ManagementIDs))
	assert.Equal(t, 0, a.Store().Len())
}

func TestAppStopBeforeStart(t *testing.T) {
	a, err := NewApp(writeTestConfig(t, t.TempDir()))
	require.NoError(t, err)
	assert.NoError(t, a.Stop(context.Background(), StopUnknown))
	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed for an app that never started")
	}
}

func TestNewAppRejectsBadTimezone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mqtt:\n  broker: \"loopback://\"\nreminders:\n  timezone: Mars/Olympus\n"), 0o644))
	_, err := NewApp(path)
	assert.Error(t, err)
}

func TestLegacyViewMatchesTimerInConfiguredZone(t *testing.T) {
	const tz = "Pacific/Kiritimati"
	loc, err := time.LoadLocation(tz)
	require.NoError(t, err)

	a, bus := startApp(t, writeZonedConfig(t, t.TempDir(), tz))
	defer stopApp(t, a)
	cfg := a.Config()

	require.NoError(t, bus.Publish(context.Background(), cfg.Topics.Management,
		[]byte(`{"action":"ADD","hour":9,"minute":0,"weekday":3,"concept":1}`)))
	ids := bus.Published(cfg.Topics.ManagementIDs)
	require.Len(t, ids, 1)

	due, ok := a.Scheduler().Next(string(ids[0].Payload))
	require.True(t, ok)
	target := due.Truncate(time.Minute).In(loc)
	assert.Equal(t, time.Wednesday, target.Weekday())
	assert.Equal(t, 9, target.Hour())
	assert.Equal(t, 0, target.Minute())

	resp := bus.Published(cfg.Topics.Responses)
	require.Len(t, resp, 1)
	var view struct {
		Recordatorios []struct {
			Tiempo int64 `json:"tiempo"`
		} `json:"recordatorios"`
	}
	require.NoError(t, json.Unmarshal(resp[0].Payload, &view))
	require.Len(t, view.Recordatorios, 1)

	want := target.Sub(time.Now().Truncate(time.Minute)).Milliseconds()
	assert.InDelta(t, want, view.Recordatorios[0].Tiempo, float64(time.Minute.Milliseconds()))
}
