// Package remote runs OCR in a separate daemon over gRPC.
package remote

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	HealthCheckTimeout = 2 * time.Second

	// Largest encoded image accepted by the daemon
	MaxImageBytes = 32 << 20
)
