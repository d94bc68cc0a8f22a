package events

import (
	"context"
	"encoding/json"
)

// EventsAPIClient defines the interface of the events client.
// This interface enables consumers to create mock implementations for testing.
//
// All methods mirror the corresponding methods in Client.
//
//nolint:revive // EventsAPIClient is intentionally explicit to avoid confusion with Client struct
type EventsAPIClient interface { //nolint:interfacebloat // Mirrors the full client surface
	// Connect logs in and starts the event stream
	Connect(ctx context.Context) error
	// Close stops the event stream
	Close() error
	// State returns the current stream state
	State() StreamState

	// On subscribes a listener to an event name pattern
	On(pattern string, fn Listener) (Subscription, error)
	// Off removes one subscription
	Off(sub Subscription) bool
	// OffPattern removes every listener on a pattern
	OffPattern(pattern string) int
	// OnStatus subscribes to status notifications
	OnStatus(fn StatusListener) Subscription

	// Get, Post, Put and Delete call site-scoped or absolute API paths
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error

	// ListClients returns the site's active clients
	ListClients(ctx context.Context) ([]json.RawMessage, error)
	// ListSites returns the sites visible to the user
	ListSites(ctx context.Context) ([]json.RawMessage, error)
	// GetDevice returns one device by MAC address
	GetDevice(ctx context.Context, mac string) (json.RawMessage, error)
}

// Ensure Client implements EventsAPIClient.
var _ EventsAPIClient = (*Client)(nil)
