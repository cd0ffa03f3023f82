package config

import (
	"fmt"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

const redacted = "<redacted>"

// Redacted returns a copy of cfg with secrets masked.
func (c *Config) Redacted() Config {
	cp := *c
	if strings.TrimSpace(cp.MQTT.Password) != "" {
		cp.MQTT.Password = redacted
	}
	if strings.TrimSpace(cp.Telegram.Token) != "" {
		cp.Telegram.Token = redacted
	}
	cp.Reminders.NonRepeatingConcepts = append([]int(nil), c.Reminders.NonRepeatingConcepts...)
	return cp
}

// Dump renders the effective configuration as YAML with secrets masked.
func Dump(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dump: nil config")
	}
	r := cfg.Redacted()
	b, err := yaml.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("dump: %w", err)
	}
	return b, nil
}
