package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can use values like "3s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	User    UserConfig    `yaml:"user" json:"user"`
	Channel ChannelConfig `yaml:"channel" json:"channel"`
	Notify  NotifyConfig  `yaml:"notify" json:"notify"`
	Badges  BadgesConfig  `yaml:"badges" json:"badges"`
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`
}

type ServerConfig struct {
	APIBaseURL string     `yaml:"apiBaseURL" json:"apiBaseURL"` // remote case API, e.g. https://api.casetrack.example
	ChannelURL string     `yaml:"channelURL" json:"channelURL"` // persistent channel endpoint, e.g. wss://api.casetrack.example/ws
	Auth       AuthConfig `yaml:"auth" json:"auth"`
}

type AuthConfig struct {
	Token string `yaml:"token" json:"token"`
}

// UserConfig identifies the operator this daemon acts as. Empty id means the
// daemon runs as an unauthenticated share-link viewer (read-only).
type UserConfig struct {
	ID          string `yaml:"id" json:"id"`
	DisplayName string `yaml:"displayName" json:"displayName"`
}

type ChannelConfig struct {
	MaxRetries int      `yaml:"maxRetries" json:"maxRetries"` // reconnect attempt ceiling
	RetryDelay Duration `yaml:"retryDelay" json:"retryDelay"` // fixed inter-attempt delay
}

type NotifyConfig struct {
	// OversightUserID always receives fan-out alerts, assigned or not.
	OversightUserID string `yaml:"oversightUserID" json:"oversightUserID"`
	Icon            string `yaml:"icon" json:"icon"`
}

type BadgesConfig struct {
	// RefreshSchedule is a cron expression (seconds granularity) for the
	// remark refresh that keeps unread badges current.
	RefreshSchedule string `yaml:"refreshSchedule" json:"refreshSchedule"`
}

type GatewayConfig struct {
	Port int        `yaml:"port" json:"port"`
	Auth AuthConfig `yaml:"auth" json:"auth"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIBaseURL: "http://localhost:8080",
			ChannelURL: "ws://localhost:8080/ws",
		},
		Channel: ChannelConfig{
			MaxRetries: 5,
			RetryDelay: Duration(3 * time.Second),
		},
		Badges: BadgesConfig{
			RefreshSchedule: "*/30 * * * * *",
		},
		Gateway: GatewayConfig{
			Port: 19310,
		},
	}
}
