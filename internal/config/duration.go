package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations holds every duration of a Config, parsed and defaulted.
type Durations struct {
	MQTTConnect   time.Duration
	MQTTPublish   time.Duration
	MQTTKeepAlive time.Duration

	Autosave    time.Duration
	SaveTimeout time.Duration
	FireGrace   time.Duration
	BusyTimeout time.Duration

	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration

	TelegramPoll time.Duration
	KodiTimeout  time.Duration
}

// Durations parses all duration strings. Errors for every bad field are
// joined so a single validation run reports all of them.
func (c *Config) Durations() (Durations, error) {
	var (
		d    Durations
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		v, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	parse(&d.MQTTConnect, "mqtt.connect_timeout", c.MQTT.ConnectTimeout, 10*time.Second)
	parse(&d.MQTTPublish, "mqtt.publish_timeout", c.MQTT.PublishTimeout, 5*time.Second)
	parse(&d.MQTTKeepAlive, "mqtt.keep_alive", c.MQTT.KeepAlive, 30*time.Second)
	parse(&d.Autosave, "reminders.autosave_interval", c.Reminders.AutosaveInterval, 10*time.Minute)
	parse(&d.SaveTimeout, "reminders.save_timeout", c.Reminders.SaveTimeout, 10*time.Second)
	parse(&d.BusyTimeout, "reminders.storage.busy_timeout", c.Reminders.Storage.BusyTimeout, 5*time.Second)
	parse(&d.RetryBase, "notifier.retry_base", c.Notifier.RetryBase, 500*time.Millisecond)
	parse(&d.RetryMaxDelay, "notifier.retry_max_delay", c.Notifier.RetryMaxDelay, 10*time.Second)
	parse(&d.DedupWindow, "notifier.dedup_window", c.Notifier.DedupWindow, 2*time.Minute)
	parse(&d.TelegramPoll, "telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	parse(&d.KodiTimeout, "kodi.timeout", c.Kodi.Timeout, 5*time.Second)

	// "0s" is a valid grace (re-arm immediately), so no default substitution.
	if g, err := ParseDurationField("reminders.fire_grace", c.Reminders.FireGrace); err != nil {
		errs = append(errs, err)
	} else {
		d.FireGrace = g
	}
	return d, errors.Join(errs...)
}
