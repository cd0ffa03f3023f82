package config

import (
	"slices"
	"strings"

	logx "homeorch/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging (never secrets), plus whether any changed
// section needs a restart to take effect. Logging, notifier and debug
// settings are applied live; everything else is read once at start-up.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.bus_enabled", newCfg.Logging.Bus.Enabled),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.workers", newCfg.Notifier.Workers),
			logx.Float64("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
			logx.String("notifier.dedup_window", newCfg.Notifier.DedupWindow),
		)
	}

	// MQTT (never log the password)
	o, n := oldCfg.MQTT, newCfg.MQTT
	if o.Broker != n.Broker || o.ClientID != n.ClientID || o.Username != n.Username ||
		o.Password != n.Password ||
		o.QoS != n.QoS || o.ConnectTimeout != n.ConnectTimeout ||
		o.PublishTimeout != n.PublishTimeout || o.KeepAlive != n.KeepAlive {
		changed = append(changed, "mqtt")
		restart = true
		attrs = append(attrs,
			logx.String("mqtt.broker", n.Broker),
			logx.Int("mqtt.qos", n.QoS),
			logx.Bool("mqtt.password_set", strings.TrimSpace(n.Password) != ""),
		)
	}

	or, nr := oldCfg.Reminders, newCfg.Reminders
	if or.Storage != nr.Storage || or.AutosaveInterval != nr.AutosaveInterval ||
		or.SaveTimeout != nr.SaveTimeout || or.FireGrace != nr.FireGrace ||
		or.Timezone != nr.Timezone || !slices.Equal(or.NonRepeatingConcepts, nr.NonRepeatingConcepts) {
		changed = append(changed, "reminders")
		restart = true
		attrs = append(attrs,
			logx.String("reminders.storage_driver", nr.Storage.Driver),
			logx.String("reminders.autosave_interval", nr.AutosaveInterval),
			logx.Any("reminders.non_repeating_concepts", nr.NonRepeatingConcepts),
		)
	}

	if oldCfg.Topics != newCfg.Topics {
		changed = append(changed, "topics")
		restart = true
	}
	if oldCfg.Services != newCfg.Services {
		changed = append(changed, "services")
		restart = true
	}

	// Telegram (never log the token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled || ot.Token != nt.Token || ot.ChatID != nt.ChatID ||
		ot.ThreadID != nt.ThreadID || ot.PollTimeout != nt.PollTimeout {
		changed = append(changed, "telegram")
		restart = true
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
		)
	}

	if oldCfg.Kodi != newCfg.Kodi {
		changed = append(changed, "kodi")
		restart = true
		attrs = append(attrs,
			logx.Bool("kodi.enabled", newCfg.Kodi.Enabled),
			logx.String("kodi.url", newCfg.Kodi.URL),
		)
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.pprof_enabled", newCfg.Debug.Pprof.Enabled),
			logx.String("debug.pprof_address", newCfg.Debug.Pprof.Address),
		)
	}
	return changed, attrs, restart
}
