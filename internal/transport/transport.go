// Package transport defines the interface for the daemon's network surfaces.
//
// Each transport (HTTP, gRPC) is built with the services it exposes and
// started by main under one errgroup. Transports only translate requests;
// playback decisions stay in the session manager.
package transport

import "context"

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http").
	Name() string

	// Listen starts serving. It blocks until the context is cancelled.
	Listen(ctx context.Context) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
