package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/lexfrei/go-unifi-events/api/events"
	"github.com/lexfrei/go-unifi-events/internal/config"
	"github.com/lexfrei/go-unifi-events/internal/forward"
	"github.com/lexfrei/go-unifi-events/internal/logging"
	"github.com/lexfrei/go-unifi-events/observability"
)

// envFiles are loaded before flags are read; existing variables win.
var envFiles = []string{".env.local", ".env"}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "unifi-events",
		Short: "Forward UniFi controller events",
		Long: `unifi-events keeps a session and an event stream open to a UniFi
controller, reconnecting after restarts and network loss, and forwards the
selected events to a Slack incoming webhook, an MQTT broker or the log.

Settings come from a YAML file (--config), UNIFI_EVENTS_* environment
variables, .env files in the working directory and flags, in increasing
order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loadEnvFiles()
			return bindFlags(cmd, v)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("host", "", "controller host name or address")
	flags.Int("port", events.DefaultPort, "controller HTTPS port")
	flags.String("username", "", "controller username")
	flags.String("password", "", "controller password")
	flags.String("site", events.DefaultSite, "site to follow")
	flags.Bool("insecure", true, "skip TLS certificate verification")
	flags.String("flavor", "auto", "controller flavor: auto, legacy or unifios")
	flags.StringSlice("events", nil, "event patterns to forward (default connected,disconnected)")
	flags.String("slack-webhook", "", "Slack incoming webhook URL")
	flags.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "auto", "log format: json, console or auto")

	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "unifi-events", Version)
		},
	}
}

func loadEnvFiles() {
	for _, file := range envFiles {
		_ = godotenv.Load(file)
	}
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	err := v.BindPFlags(cmd.Flags())
	if err != nil {
		return errors.Wrap(err, "binding flags")
	}
	return nil
}

// loadConfig reads the file and environment, then overlays flags the user set.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Read(v.GetString("config"))
	if err != nil {
		return nil, err
	}

	overlayFlags(cfg, v)

	err = cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

func overlayFlags(cfg *config.Config, v *viper.Viper) {
	strs := map[string]*string{
		"host":          &cfg.Controller.Host,
		"username":      &cfg.Controller.Username,
		"password":      &cfg.Controller.Password,
		"site":          &cfg.Controller.Site,
		"flavor":        &cfg.Controller.Flavor,
		"slack-webhook": &cfg.Forward.Slack.WebhookURL,
		"mqtt-broker":   &cfg.Forward.MQTT.Broker,
		"log-level":     &cfg.Logging.Level,
		"log-format":    &cfg.Logging.Format,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	if v.IsSet("port") {
		cfg.Controller.Port = v.GetInt("port")
	}
	if v.IsSet("insecure") {
		cfg.Controller.Insecure = v.GetBool("insecure")
	}
	if v.IsSet("events") {
		// The environment form is a single comma-separated string.
		patterns := config.SplitList(strings.Join(v.GetStringSlice("events"), ","))
		if len(patterns) > 0 {
			cfg.Forward.Events = patterns
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	zl, closer := logging.New(cfg.Logging)
	defer closer.Close()
	logger := observability.NewZerologLogger(zl)

	clientCfg, err := cfg.ClientConfig(logger, nil)
	if err != nil {
		return err
	}

	client, err := events.NewWithConfig(clientCfg)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}

	sinks, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}

	fwd := forward.New(logger, forward.DefaultQueueSize, sinks...)
	err = fwd.Subscribe(client, cfg.Forward.Events...)
	if err != nil {
		return err
	}

	client.OnStatus(func(st events.Status) {
		logStatus(logger, st)
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return fwd.Run(ctx)
	})
	group.Go(func() error {
		err := connect(ctx, client, clientCfg.ReconnectInterval, logger)
		if err != nil {
			return err
		}
		<-ctx.Done()
		return client.Close()
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("stopped")
	return nil
}

func buildSinks(cfg *config.Config, logger observability.Logger) ([]forward.Sink, error) {
	var sinks []forward.Sink

	if cfg.Forward.Slack.WebhookURL != "" {
		slack, err := forward.NewSlackSink(cfg.Forward.Slack, logger, nil)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, slack)
	}

	if cfg.Forward.MQTT.Broker != "" {
		mqtt, err := forward.NewMQTTSink(cfg.Forward.MQTT)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, mqtt)
	}

	if len(sinks) == 0 {
		sinks = append(sinks, forward.NewLogSink(logger))
	}

	return sinks, nil
}

// connect retries the initial login until it succeeds, the credentials are
// rejected or ctx ends. Once connected the client reconnects on its own.
func connect(ctx context.Context, client *events.Client, wait time.Duration, logger observability.Logger) error {
	for {
		err := client.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, events.ErrInvalidCredentials) {
			return errors.Wrap(err, "controller rejected the credentials")
		}

		logger.Warn("initial login failed, retrying",
			observability.F("wait", wait),
			observability.Err(err),
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func logStatus(logger observability.Logger, st events.Status) {
	fields := []observability.Field{
		observability.F("status", st.Kind.String()),
		observability.F("state", st.State.String()),
	}
	if st.Attempt > 0 {
		fields = append(fields, observability.F("attempt", st.Attempt))
	}
	if st.Detail != "" {
		fields = append(fields, observability.F("detail", st.Detail))
	}

	switch st.Kind {
	case events.StatusError:
		logger.Warn("stream error", append(fields, observability.Err(st.Err))...)
	case events.StatusDisconnected:
		logger.Warn("stream disconnected", append(fields, observability.Err(st.Err))...)
	default:
		logger.Info("stream "+st.Kind.String(), fields...)
	}
}
