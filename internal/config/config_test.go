package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexfrei/go-unifi-events/api/events"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
controller:
  host: "unifi.local"
  username: "admin"
  password: "secret"
  site: "office"
  insecure: false
  flavor: "unifios"
stream:
  reconnect_interval: 10s
  keepalive_interval: 20s
forward:
  events: ["connected", "wu.*"]
  slack:
    webhook_url: "https://hooks.slack.com/services/T000/B000/XXXX"
  mqtt:
    broker: "tcp://localhost:1883"
    qos: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "unifi.local", cfg.Controller.Host)
	assert.Equal(t, "office", cfg.Controller.Site)
	assert.False(t, cfg.Controller.Insecure)
	assert.Equal(t, events.DefaultPort, cfg.Controller.Port, "unset fields keep their defaults")
	assert.Equal(t, 10*time.Second, cfg.Stream.ReconnectInterval)
	assert.Equal(t, 20*time.Second, cfg.Stream.KeepaliveInterval)
	assert.Equal(t, events.DefaultIdleTimeout, cfg.Stream.IdleTimeout)
	assert.Equal(t, []string{"connected", "wu.*"}, cfg.Forward.Events)
	assert.Equal(t, "UniFi Notify", cfg.Forward.Slack.Username)
	assert.Equal(t, "tcp://localhost:1883", cfg.Forward.MQTT.Broker)
	assert.Zero(t, cfg.Forward.MQTT.QoS)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "controller: [host: content")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadValidationFailure(t *testing.T) {
	path := writeConfig(t, `
controller:
  host: "unifi.local"
  port: 70000
  flavor: "cloudkey"
`)

	_, err := Load(path)
	require.Error(t, err)

	for _, want := range []string{
		"controller.username is required",
		"controller.password is required",
		"controller.port must be between 1 and 65535",
		"controller.flavor must be auto, legacy or unifios",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
controller:
  host: "unifi.local"
  username: "admin"
  password: "from-file"
`)

	t.Setenv("UNIFI_EVENTS_PASSWORD", "from-env")
	t.Setenv("UNIFI_EVENTS_PORT", "443")
	t.Setenv("UNIFI_EVENTS_INSECURE", "false")
	t.Setenv("UNIFI_EVENTS_EVENTS", "connected, ,disconnected,lu.*")
	t.Setenv("UNIFI_EVENTS_MQTT_BROKER", "tcp://broker:1883")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Controller.Password)
	assert.Equal(t, 443, cfg.Controller.Port)
	assert.False(t, cfg.Controller.Insecure)
	assert.Equal(t, []string{"connected", "disconnected", "lu.*"}, cfg.Forward.Events)
	assert.Equal(t, "tcp://broker:1883", cfg.Forward.MQTT.Broker)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("UNIFI_EVENTS_HOST", "10.0.0.1")
	t.Setenv("UNIFI_EVENTS_USERNAME", "admin")
	t.Setenv("UNIFI_EVENTS_PASSWORD", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.Controller.Host)
	assert.Equal(t, []string{events.NameConnected, events.NameDisconnected}, cfg.Forward.Events)
}

func TestLoadBadEnvValue(t *testing.T) {
	t.Setenv("UNIFI_EVENTS_PORT", "https")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIFI_EVENTS_PORT")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := Default()
		cfg.Controller.Host = "unifi.local"
		cfg.Controller.Username = "admin"
		cfg.Controller.Password = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with credentials", mutate: func(*Config) {}},
		{
			name:    "no forwarded events",
			mutate:  func(c *Config) { c.Forward.Events = nil },
			wantErr: "forward.events",
		},
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.Forward.MQTT.QoS = 3 },
			wantErr: "forward.mqtt.qos",
		},
		{
			name:    "file output without path",
			mutate:  func(c *Config) { c.Logging.Output = "file" },
			wantErr: "logging.file.path",
		},
		{
			name:    "negative interval",
			mutate:  func(c *Config) { c.Stream.ReconnectInterval = -time.Second },
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClientConfig(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Controller.Host = "unifi.local"
	cfg.Controller.Username = "admin"
	cfg.Controller.Password = "secret"
	cfg.Controller.Flavor = "legacy"
	cfg.Stream.MaxMalformedFrames = -1

	clientCfg, err := cfg.ClientConfig(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "unifi.local", clientCfg.Host)
	assert.Equal(t, events.FlavorLegacy, clientCfg.Flavor)
	assert.True(t, clientCfg.InsecureSkipVerify)
	assert.Equal(t, -1, clientCfg.MaxMalformedFrames)

	_, err = events.NewWithConfig(clientCfg)
	require.NoError(t, err)
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , "))
	assert.Equal(t, []string{"a", "b.*"}, SplitList("a, b.*"))
}

func TestReadSkipsValidation(t *testing.T) {
	path := writeConfig(t, `
controller:
  site: "lab"
`)

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "lab", cfg.Controller.Site)
	require.Error(t, cfg.Validate())
}
