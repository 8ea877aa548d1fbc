// Package server runs the long-lived parts of the bot (HTTP API, Telegram
// poller, broadcaster) under one start/stop lifecycle.
package server

import "context"

// Lifecycle defines the lifecycle interface for servers.
type Lifecycle interface {
	// Start starts the component. It must not block.
	Start(ctx context.Context) error
	// Stop stops the component gracefully.
	Stop(ctx context.Context) error
}

// Runnable represents a component that can be started and stopped.
type Runnable interface {
	Lifecycle
	// Name returns the server name for identification.
	Name() string
}
