// Package server provides the HTTP control API and WebSocket report feed
package server

import "time"

// Server configuration constants
const (
	// Largest accepted JSON request body
	MaxRequestBody = 64 << 10

	// Report text is truncated to this many bytes in feed messages
	TextPreviewLimit = 500

	// Sent reports kept for GET /api/reports
	HistorySize = 500

	// Per-connection write deadline for feed messages
	WriteTimeout = 5 * time.Second
)
