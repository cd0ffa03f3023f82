package config

// Config is the root configuration document.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "10m").
type Config struct {
	Logging   LoggingConfig   `koanf:"logging" yaml:"logging"`
	MQTT      MQTTConfig      `koanf:"mqtt" yaml:"mqtt"`
	Reminders RemindersConfig `koanf:"reminders" yaml:"reminders"`
	Topics    TopicsConfig    `koanf:"topics" yaml:"topics"`
	Services  ServicesConfig  `koanf:"services" yaml:"services"`
	Notifier  NotifierConfig  `koanf:"notifier" yaml:"notifier"`
	Telegram  TelegramConfig  `koanf:"telegram" yaml:"telegram"`
	Kodi      KodiConfig      `koanf:"kodi" yaml:"kodi"`
	Debug     DebugConfig     `koanf:"debug" yaml:"debug"`
}

type LoggingConfig struct {
	Level   string            `koanf:"level" yaml:"level"`
	Console bool              `koanf:"console" yaml:"console"`
	File    LoggingFileConfig `koanf:"file" yaml:"file"`
	Bus     LoggingBusConfig  `koanf:"bus" yaml:"bus"`
}

type LoggingFileConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Path    string `koanf:"path" yaml:"path"`
}

// LoggingBusConfig forwards log lines at or above MinLevel to an MQTT topic.
type LoggingBusConfig struct {
	Enabled    bool   `koanf:"enabled" yaml:"enabled"`
	Topic      string `koanf:"topic" yaml:"topic"`
	MinLevel   string `koanf:"min_level" yaml:"min_level"`
	RatePerSec int    `koanf:"rate_per_sec" yaml:"rate_per_sec"`
}

// MQTTConfig configures the broker connection. Broker "loopback://" selects
// the in-process bus (no broker needed).
type MQTTConfig struct {
	Broker         string `koanf:"broker" yaml:"broker"`
	ClientID       string `koanf:"client_id" yaml:"client_id"`
	Username       string `koanf:"username" yaml:"username"`
	Password       string `koanf:"password" yaml:"password"`
	QoS            int    `koanf:"qos" yaml:"qos"`
	ConnectTimeout string `koanf:"connect_timeout" yaml:"connect_timeout"`
	PublishTimeout string `koanf:"publish_timeout" yaml:"publish_timeout"`
	KeepAlive      string `koanf:"keep_alive" yaml:"keep_alive"`
}

type RemindersConfig struct {
	Storage StorageConfig `koanf:"storage" yaml:"storage"`

	AutosaveInterval string `koanf:"autosave_interval" yaml:"autosave_interval"`
	SaveTimeout      string `koanf:"save_timeout" yaml:"save_timeout"`

	// NonRepeatingConcepts lists concepts that fire once and are not re-armed.
	NonRepeatingConcepts []int `koanf:"non_repeating_concepts" yaml:"non_repeating_concepts"`

	// FireGrace is the pause between publishing a notification and re-arming.
	FireGrace string `koanf:"fire_grace" yaml:"fire_grace"`

	// Timezone used for wall-clock math (IANA name). Empty means local time.
	Timezone string `koanf:"timezone" yaml:"timezone"`
}

// StorageConfig selects the persistence backend.
//
// Drivers:
//   - file:   atomic JSON snapshot at Path
//   - sqlite: SQLite database at Path (modernc.org/sqlite)
type StorageConfig struct {
	Driver      string `koanf:"driver" yaml:"driver"`
	Path        string `koanf:"path" yaml:"path"`
	BusyTimeout string `koanf:"busy_timeout" yaml:"busy_timeout"`
}

type TopicsConfig struct {
	Management    string `koanf:"management" yaml:"management"`
	ManagementIDs string `koanf:"management_ids" yaml:"management_ids"`
	Requests      string `koanf:"requests" yaml:"requests"`
	IDResponses   string `koanf:"id_responses" yaml:"id_responses"`
	LegacyQuery   string `koanf:"legacy_query" yaml:"legacy_query"`
	Responses     string `koanf:"responses" yaml:"responses"`
	Notifications string `koanf:"notifications" yaml:"notifications"`
	Proactive     string `koanf:"proactive" yaml:"proactive"`
	Hotword       string `koanf:"hotword" yaml:"hotword"`
	Playing       string `koanf:"playing" yaml:"playing"`
	Stop          string `koanf:"stop" yaml:"stop"`
	Channel       string `koanf:"channel" yaml:"channel"`
	Broadcast     string `koanf:"broadcast" yaml:"broadcast"`
}

type ServicesConfig struct {
	Management  bool `koanf:"management" yaml:"management"`
	IDQuery     bool `koanf:"id_query" yaml:"id_query"`
	LegacyQuery bool `koanf:"legacy_query" yaml:"legacy_query"`
	Proactive   bool `koanf:"proactive" yaml:"proactive"`
	TV          bool `koanf:"tv" yaml:"tv"`

	// Inbound token bucket per service.
	RatePerSec float64 `koanf:"rate_per_sec" yaml:"rate_per_sec"`
	Burst      int     `koanf:"burst" yaml:"burst"`
}

// NotifierConfig controls delivery of fired reminders to sinks.
type NotifierConfig struct {
	Workers       int     `koanf:"workers" yaml:"workers"`
	QueueSize     int     `koanf:"queue_size" yaml:"queue_size"`
	RatePerSec    float64 `koanf:"rate_per_sec" yaml:"rate_per_sec"`
	RetryMax      int     `koanf:"retry_max" yaml:"retry_max"`
	RetryBase     string  `koanf:"retry_base" yaml:"retry_base"`
	RetryMaxDelay string  `koanf:"retry_max_delay" yaml:"retry_max_delay"`
	DedupWindow   string  `koanf:"dedup_window" yaml:"dedup_window"`
	HistorySize   int     `koanf:"history_size" yaml:"history_size"`
}

// TelegramConfig enables the optional Telegram sink for fired reminders.
type TelegramConfig struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	Token       string `koanf:"token" yaml:"token"`
	ChatID      int64  `koanf:"chat_id" yaml:"chat_id"`
	ThreadID    int    `koanf:"thread_id" yaml:"thread_id"`
	PollTimeout string `koanf:"poll_timeout" yaml:"poll_timeout"`
}

type KodiConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	URL     string `koanf:"url" yaml:"url"`
	Timeout string `koanf:"timeout" yaml:"timeout"`

	// BroadcastConcept is the concept used for reminders created from a
	// programme lookup.
	BroadcastConcept int `koanf:"broadcast_concept" yaml:"broadcast_concept"`
}

type DebugConfig struct {
	Pprof PprofConfig `koanf:"pprof" yaml:"pprof"`
}

// PprofConfig controls the optional debug HTTP listener (pprof plus a JSON
// status page). Keep it on loopback.
type PprofConfig struct {
	Enabled              bool   `koanf:"enabled" yaml:"enabled"`
	Address              string `koanf:"address" yaml:"address"`
	BlockProfileRate     int    `koanf:"block_profile_rate" yaml:"block_profile_rate"`
	MutexProfileFraction int    `koanf:"mutex_profile_fraction" yaml:"mutex_profile_fraction"`
}
