package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks the whole document and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := c.Durations(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Bus.Enabled && strings.TrimSpace(c.Logging.Bus.Topic) == "" {
		add("logging.bus.topic: required when logging.bus.enabled")
	}

	broker := strings.TrimSpace(c.MQTT.Broker)
	switch {
	case broker == "":
		add("mqtt.broker: required")
	case broker == LoopbackBroker:
	default:
		u, err := url.Parse(broker)
		if err != nil || u.Host == "" {
			add("mqtt.broker: invalid broker url %q", broker)
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos: must be 0, 1 or 2")
	}

	switch c.Reminders.Storage.Driver {
	case "file", "sqlite":
	default:
		add("reminders.storage.driver: unknown driver %q (want file or sqlite)", c.Reminders.Storage.Driver)
	}
	if strings.TrimSpace(c.Reminders.Storage.Path) == "" {
		add("reminders.storage.path: required")
	}
	if tz := strings.TrimSpace(c.Reminders.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("reminders.timezone: %v", err)
		}
	}

	t := c.Topics
	need := func(enabled bool, path, v string) {
		if enabled && strings.TrimSpace(v) == "" {
			add("%s: required", path)
		}
	}
	need(true, "topics.notifications", t.Notifications)
	need(c.Services.Management, "topics.management", t.Management)
	need(c.Services.Management, "topics.management_ids", t.ManagementIDs)
	need(c.Services.Management || c.Services.LegacyQuery, "topics.responses", t.Responses)
	need(c.Services.IDQuery, "topics.requests", t.Requests)
	need(c.Services.IDQuery, "topics.id_responses", t.IDResponses)
	need(c.Services.LegacyQuery, "topics.legacy_query", t.LegacyQuery)
	need(c.Services.Proactive, "topics.proactive", t.Proactive)
	need(c.Services.Proactive, "topics.hotword", t.Hotword)
	tv := c.Services.TV && c.Kodi.Enabled
	need(tv, "topics.playing", t.Playing)
	need(tv, "topics.stop", t.Stop)
	need(tv, "topics.channel", t.Channel)
	need(tv, "topics.broadcast", t.Broadcast)

	if c.Services.RatePerSec < 0 {
		add("services.rate_per_sec: must be >= 0")
	}
	if c.Notifier.Workers < 0 || c.Notifier.QueueSize < 0 || c.Notifier.RetryMax < 0 {
		add("notifier: workers, queue_size and retry_max must be >= 0")
	}

	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			add("telegram.token: required when telegram.enabled")
		}
		if c.Telegram.ChatID == 0 {
			add("telegram.chat_id: required when telegram.enabled")
		}
	}

	if c.Kodi.Enabled {
		if u, err := url.Parse(strings.TrimSpace(c.Kodi.URL)); err != nil || u.Host == "" {
			add("kodi.url: invalid url %q", c.Kodi.URL)
		}
	}
	if c.Debug.Pprof.Enabled && strings.TrimSpace(c.Debug.Pprof.Address) == "" {
		add("debug.pprof.address: required when debug.pprof.enabled")
	}
	return errors.Join(errs...)
}
