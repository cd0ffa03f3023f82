package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

// EnvPrefix is the prefix of environment overrides. Sections are separated
// by a double underscore: HOMEORCH_MQTT__BROKER sets mqtt.broker.
const EnvPrefix = "HOMEORCH_"

const LoopbackBroker = "loopback://"

// Defaults returns the flat key/value defaults loaded before the file.
func Defaults() map[string]any {
	return map[string]any{
		"logging.level":                    "info",
		"logging.console":                  true,
		"logging.file.enabled":             false,
		"logging.file.path":                "./homeorch.log",
		"logging.bus.enabled":              false,
		"logging.bus.topic":                "/dsh/damaso/logs",
		"logging.bus.min_level":            "warn",
		"logging.bus.rate_per_sec":         2,
		"mqtt.broker":                      "tcp://localhost:1883",
		"mqtt.client_id":                   "homeorch",
		"mqtt.qos":                         1,
		"mqtt.connect_timeout":             "10s",
		"mqtt.publish_timeout":             "5s",
		"mqtt.keep_alive":                  "30s",
		"reminders.storage.driver":         "file",
		"reminders.storage.path":           "./reminders.json",
		"reminders.storage.busy_timeout":   "5s",
		"reminders.autosave_interval":      "10m",
		"reminders.save_timeout":           "10s",
		"reminders.non_repeating_concepts": []int{7},
		"reminders.fire_grace":             "1s",
		"reminders.timezone":               "",
		"topics.management":                "/dsh/damaso/reminders/management",
		"topics.management_ids":            "/dsh/damaso/reminders/management/ids",
		"topics.requests":                  "/dsh/damaso/reminders/requests",
		"topics.id_responses":              "/dsh/damaso/reminders/IDresponses",
		"topics.legacy_query":              "/",
		"topics.responses":                 "/dsh/damaso/reminders/responses",
		"topics.notifications":             "/dsh/damaso/reminders/notifications",
		"topics.proactive":                 "/dsh/damaso/proactive",
		"topics.hotword":                   "hermes/hotword/hey_snips/detected",
		"topics.playing":                   "/dsh/damaso/playing",
		"topics.stop":                      "/dsh/damaso/stop",
		"topics.channel":                   "/dsh/damaso/channel",
		"topics.broadcast":                 "/dsh/damaso/reminders/broadcast",
		"services.management":              true,
		"services.id_query":                true,
		"services.legacy_query":            true,
		"services.proactive":               true,
		"services.tv":                      true,
		"services.rate_per_sec":            20.0,
		"services.burst":                   40,
		"notifier.workers":                 2,
		"notifier.queue_size":              256,
		"notifier.rate_per_sec":            10.0,
		"notifier.retry_max":               3,
		"notifier.retry_base":              "500ms",
		"notifier.retry_max_delay":         "10s",
		"notifier.dedup_window":            "2m",
		"notifier.history_size":            100,
		"telegram.enabled":                 false,
		"telegram.poll_timeout":            "10s",
		"kodi.enabled":                     true,
		"kodi.url":                         "http://localhost:8080/jsonrpc",
		"kodi.timeout":                     "5s",
		"kodi.broadcast_concept":           9,
		"debug.pprof.enabled":              false,
		"debug.pprof.address":              "127.0.0.1:6060",
	}
}

func defaultProvider() *confmap.Confmap {
	return confmap.Provider(Defaults(), ".")
}
