package app

import (
	"strings"
	"time"

	"homeorch/internal/config"
	"homeorch/internal/media/kodi"
	"homeorch/internal/notifier"
	"homeorch/internal/services"
	"homeorch/internal/storage"
	"homeorch/internal/transport"
	"homeorch/internal/transport/mqtt"
	logx "homeorch/pkg/logx"
)

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown     StopReason = "unknown"
	StopSIGINT      StopReason = "sigint"
	StopSIGTERM     StopReason = "sigterm"
	StopFatalError  StopReason = "fatal_error"
	StopContextDone StopReason = "context_done"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Bus: logx.BusConfig{
			Enabled:    cfg.Logging.Bus.Enabled,
			Topic:      cfg.Logging.Bus.Topic,
			MinLevel:   cfg.Logging.Bus.MinLevel,
			RatePerSec: cfg.Logging.Bus.RatePerSec,
		},
	}
}

func mapNotifierConfig(cfg *config.Config, d config.Durations) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     d.RetryBase,
		RetryMaxDelay: d.RetryMaxDelay,
		DedupWindow:   d.DedupWindow,
		HistorySize:   n.HistorySize,
	}
}

func mapStorageConfig(cfg *config.Config, d config.Durations) storage.Config {
	sc := cfg.Reminders.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: d.BusyTimeout,
	}
}

// newBus returns the in-process loopback bus for "loopback://" and an MQTT
// client otherwise.
func newBus(cfg *config.Config, d config.Durations, log logx.Logger) transport.Bus {
	if strings.TrimSpace(cfg.MQTT.Broker) == config.LoopbackBroker {
		log.Info("using in-process loopback bus")
		return transport.NewLoopback()
	}
	return mqtt.New(mqtt.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ConnectTimeout: d.MQTTConnect,
		PublishTimeout: d.MQTTPublish,
		QoS:            byte(cfg.MQTT.QoS),
		KeepAlive:      d.MQTTKeepAlive,
	}, log)
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

type serviceDeps struct {
	reminders *services.Reminders
	proactive *services.Proactive
	tv        *services.TV
}

// serviceTable lists the bus services enabled by cfg.
func serviceTable(cfg *config.Config, deps serviceDeps) []services.Service {
	t := cfg.Topics
	var out []services.Service
	add := func(enabled bool, name, topic string, h services.HandlerFunc) {
		if enabled && h != nil {
			out = append(out, services.Service{Name: name, Topic: topic, Handle: h})
		}
	}
	s := cfg.Services
	add(s.Management, "management", t.Management, deps.reminders.Management)
	add(s.IDQuery, "id_query", t.Requests, deps.reminders.IDQuery)
	add(s.LegacyQuery, "legacy_query", t.LegacyQuery, deps.reminders.LegacyQuery)
	add(s.Proactive, "proactive", t.Proactive, deps.proactive.Wake)
	if deps.tv != nil {
		add(s.TV, "tv.playpause", t.Playing, deps.tv.PlayPause)
		add(s.TV, "tv.stop", t.Stop, deps.tv.Stop)
		add(s.TV, "tv.channel", t.Channel, deps.tv.Channel)
		add(s.TV, "tv.broadcast", t.Broadcast, deps.tv.Broadcast)
	}
	return out
}

// newKodi reads EPG start times in loc so broadcast reminders land on the
// same wall clock the scheduler uses.
func newKodi(cfg *config.Config, d config.Durations, loc *time.Location, log logx.Logger) *kodi.Client {
	if !cfg.Kodi.Enabled {
		return nil
	}
	return kodi.New(kodi.Config{URL: cfg.Kodi.URL, Timeout: d.KodiTimeout, Location: loc}, log)
}
