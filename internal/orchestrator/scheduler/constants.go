package scheduler

import "time"

// Scheduler defaults
const (
	// Wait after a full scan finds no eligible source
	DefaultIdleBackoff = 200 * time.Millisecond

	// How long an admitted source may stay silent before losing its turn
	DefaultFrameTimeout = 3 * time.Second

	// Per-cycle bound on preprocessing and OCR
	DefaultCycleTimeout = 30 * time.Second
)
