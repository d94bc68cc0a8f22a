package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/go-unifi-events/api/events"
	"github.com/lexfrei/go-unifi-events/internal/config"
	"github.com/lexfrei/go-unifi-events/internal/httpclient"
	"github.com/lexfrei/go-unifi-events/internal/middleware"
	"github.com/lexfrei/go-unifi-events/observability"
)

const slackTimeout = 10 * time.Second

// SlackSink posts events to a Slack incoming webhook.
type SlackSink struct {
	url      string
	username string
	channel  string
	http     *httpclient.Client
}

type slackMessage struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// NewSlackSink creates a sink for cfg.WebhookURL. Requests are retried on 5xx
// and 429 with the same middleware the controller client uses.
func NewSlackSink(cfg config.SlackConfig, logger observability.Logger, metrics observability.MetricsRecorder) (*SlackSink, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	return &SlackSink{
		url:      cfg.WebhookURL,
		username: cfg.Username,
		channel:  cfg.Channel,
		http: httpclient.New(
			httpclient.WithTimeout(slackTimeout),
			httpclient.WithMiddleware(
				middleware.Observability(logger, metrics),
				middleware.Retry(middleware.RetryConfig{
					MaxRetries:  2,
					InitialWait: 500 * time.Millisecond,
					MaxWait:     5 * time.Second,
					Logger:      logger,
					Metrics:     metrics,
				}),
			),
		),
	}, nil
}

// Name implements Sink.
func (s *SlackSink) Name() string { return "slack" }

// Send implements Sink.
func (s *SlackSink) Send(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(slackMessage{
		Text:     FormatText(ev),
		Username: s.username,
		Channel:  s.channel,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode slack message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "slack webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("slack webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	return nil
}

// Close implements Sink.
func (s *SlackSink) Close() error { return nil }

// FormatText renders a one-line human summary of ev using Slack markup.
func FormatText(ev events.Event) string {
	device := deviceName(ev.Raw)
	ssid := ev.Raw.String("ssid")

	switch ev.Name {
	case events.NameConnected:
		text := fmt.Sprintf("Device *%s* has Connected to *%s*", device, ssid)
		if channel, ok := ev.Raw["channel"]; ok {
			text += fmt.Sprintf(" on channel %v", channel)
		}
		return text + "."
	case events.NameDisconnected:
		return fmt.Sprintf("Device *%s* has Disconnected from *%s*", device, ssid)
	}

	if msg := ev.Raw.String("msg"); msg != "" {
		return fmt.Sprintf("*%s*: %s", ev.Name, msg)
	}
	return fmt.Sprintf("*%s* (%s)", ev.Name, ev.Key)
}

// deviceName prefers the host name a client reported, then the controller's
// alias, then the MAC address.
func deviceName(raw events.RawEvent) string {
	for _, field := range []string{"hostname", "name", "user", "guest"} {
		if v := raw.String(field); v != "" {
			return v
		}
	}
	return "unknown"
}
