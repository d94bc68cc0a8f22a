// Command unifi-events follows a UniFi controller's event stream and forwards
// client connect and disconnect notifications to Slack, MQTT or the log.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := newRootCommand().ExecuteContext(ctx)
	if err != nil {
		cancel()
		os.Exit(1)
	}
}
