// Package config loads the unifi-events CLI configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML file,
// UNIFI_EVENTS_* environment variables and command-line flags (applied by the
// caller). Load validates the merged result.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/lexfrei/go-unifi-events/api/events"
	"github.com/lexfrei/go-unifi-events/observability"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "UNIFI_EVENTS"

// Config is the root configuration structure.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Stream     StreamConfig     `yaml:"stream"`
	Logging    LoggingConfig    `yaml:"logging"`
	Forward    ForwardConfig    `yaml:"forward"`
}

// ControllerConfig identifies the controller and the site to follow.
type ControllerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Site     string `yaml:"site"`
	Insecure bool   `yaml:"insecure"`
	// Flavor is auto, legacy or unifios.
	Flavor string `yaml:"flavor"`
}

// StreamConfig tunes the event stream. Durations use Go syntax ("5s").
type StreamConfig struct {
	ReconnectInterval  time.Duration `yaml:"reconnect_interval"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	MaxMalformedFrames int           `yaml:"max_malformed_frames"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotation settings for output "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ForwardConfig selects which events are forwarded and where.
type ForwardConfig struct {
	// Events lists subscription patterns, e.g. "connected" or "wu.*".
	Events []string    `yaml:"events"`
	Slack  SlackConfig `yaml:"slack"`
	MQTT   MQTTConfig  `yaml:"mqtt"`
}

// SlackConfig configures the incoming-webhook sink. An empty URL disables it.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Username   string `yaml:"username"`
	Channel    string `yaml:"channel"`
}

// MQTTConfig configures the MQTT sink. An empty broker disables it.
type MQTTConfig struct {
	// Broker is a URL such as tcp://localhost:1883 or ssl://broker:8883.
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Retained    bool   `yaml:"retained"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{
			Port:     events.DefaultPort,
			Site:     events.DefaultSite,
			Insecure: true,
			Flavor:   "auto",
		},
		Stream: StreamConfig{
			ReconnectInterval:  events.DefaultReconnectInterval,
			KeepaliveInterval:  events.DefaultKeepaliveInterval,
			IdleTimeout:        events.DefaultIdleTimeout,
			MaxMalformedFrames: events.DefaultMaxMalformedFrames,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Output: "stderr",
			File: FileLoggingConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Forward: ForwardConfig{
			Events: []string{events.NameConnected, events.NameDisconnected},
			Slack: SlackConfig{
				Username: "UniFi Notify",
			},
			MQTT: MQTTConfig{
				ClientID:    "unifi-events",
				TopicPrefix: "unifi/events",
				QoS:         1,
			},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	return cfg, nil
}

// Read is Load without validation, for callers that overlay more sources first.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config file")
		}

		err = yaml.Unmarshal(data, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "parsing config file")
		}
	}

	err := applyEnvOverrides(cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides overlays UNIFI_EVENTS_* variables.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"HOST":          &cfg.Controller.Host,
		"USERNAME":      &cfg.Controller.Username,
		"PASSWORD":      &cfg.Controller.Password,
		"SITE":          &cfg.Controller.Site,
		"FLAVOR":        &cfg.Controller.Flavor,
		"LOG_LEVEL":     &cfg.Logging.Level,
		"LOG_FORMAT":    &cfg.Logging.Format,
		"LOG_OUTPUT":    &cfg.Logging.Output,
		"LOG_FILE":      &cfg.Logging.File.Path,
		"SLACK_WEBHOOK": &cfg.Forward.Slack.WebhookURL,
		"MQTT_BROKER":   &cfg.Forward.MQTT.Broker,
		"MQTT_USERNAME": &cfg.Forward.MQTT.Username,
		"MQTT_PASSWORD": &cfg.Forward.MQTT.Password,
	}
	for name, dst := range strs {
		if v, ok := lookupEnv(name); ok {
			*dst = v
		}
	}

	if v, ok := lookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s_PORT", EnvPrefix)
		}
		cfg.Controller.Port = port
	}

	if v, ok := lookupEnv("INSECURE"); ok {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%s_INSECURE", EnvPrefix)
		}
		cfg.Controller.Insecure = insecure
	}

	if v, ok := lookupEnv("EVENTS"); ok {
		cfg.Forward.Events = SplitList(v)
	}

	return nil
}

func lookupEnv(name string) (string, bool) {
	v := os.Getenv(EnvPrefix + "_" + name)
	return v, v != ""
}

// SplitList splits a comma-separated list and drops empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Controller.Host == "" {
		errs = append(errs, "controller.host is required")
	}
	if c.Controller.Username == "" {
		errs = append(errs, "controller.username is required")
	}
	if c.Controller.Password == "" {
		errs = append(errs, "controller.password is required (set "+EnvPrefix+"_PASSWORD)")
	}
	if c.Controller.Port < 1 || c.Controller.Port > 65535 {
		errs = append(errs, "controller.port must be between 1 and 65535")
	}
	if _, err := events.ParseFlavor(c.Controller.Flavor); err != nil {
		errs = append(errs, "controller.flavor must be auto, legacy or unifios")
	}
	if c.Stream.ReconnectInterval < 0 || c.Stream.KeepaliveInterval < 0 || c.Stream.IdleTimeout < 0 {
		errs = append(errs, "stream intervals must not be negative")
	}
	if len(c.Forward.Events) == 0 {
		errs = append(errs, "forward.events must name at least one pattern")
	}
	if c.Forward.MQTT.QoS < 0 || c.Forward.MQTT.QoS > 2 {
		errs = append(errs, "forward.mqtt.qos must be 0, 1, or 2")
	}
	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return errors.Newf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ClientConfig maps the controller and stream sections onto an events.ClientConfig.
func (c *Config) ClientConfig(logger observability.Logger, metrics observability.MetricsRecorder) (*events.ClientConfig, error) {
	flavor, err := events.ParseFlavor(c.Controller.Flavor)
	if err != nil {
		return nil, err
	}

	return &events.ClientConfig{
		Host:               c.Controller.Host,
		Port:               c.Controller.Port,
		Username:           c.Controller.Username,
		Password:           c.Controller.Password,
		Site:               c.Controller.Site,
		InsecureSkipVerify: c.Controller.Insecure,
		Flavor:             flavor,
		ReconnectInterval:  c.Stream.ReconnectInterval,
		KeepaliveInterval:  c.Stream.KeepaliveInterval,
		IdleTimeout:        c.Stream.IdleTimeout,
		MaxMalformedFrames: c.Stream.MaxMalformedFrames,
		Logger:             logger,
		Metrics:            metrics,
	}, nil
}
