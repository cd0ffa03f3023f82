package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeorch/internal/transport"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))
	log.Debug("hidden")
	log.Info("hello", Int("n", 3), Err(errors.New("bad")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "hello", rec["message"])
	assert.Equal(t, "test", rec["comp"])
	assert.Equal(t, float64(3), rec["n"])
	assert.Equal(t, "bad", rec["err"])
	assert.Contains(t, rec["caller"], "logging_test.go:")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	assert.NotPanics(t, func() { l.Error("nothing") })
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel(" debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud", zerolog.InfoLevel))
}

func TestFormatLine(t *testing.T) {
	got := formatLine([]byte(`{"level":"warn","message":"slow","time":"x","b":2,"a":"one"}`))
	assert.Equal(t, "[WARN] slow a=one b=2", got)
	assert.Equal(t, "not json", formatLine([]byte("not json\n")))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestBusSinkForwardsWarnings(t *testing.T) {
	bus := transport.NewLoopback()
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: false},
		Bus:   BusConfig{Enabled: true, Topic: "logs", MinLevel: "warn", RatePerSec: 100},
	}, bus)
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	require.Eventually(t, func() bool { return len(bus.Published("logs")) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := string(bus.Published("logs")[0].Payload)
	assert.True(t, strings.HasPrefix(msg, "[WARN] loud"), msg)
	assert.Contains(t, msg, "k=v")
}
