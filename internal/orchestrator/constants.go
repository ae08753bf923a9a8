package orchestrator

import "time"

// Manager defaults
const (
	// Window poll interval for minimized state and restarted clients
	DefaultPollInterval = 5 * time.Second

	// Bound on a single window listing
	ListTimeout = 2 * time.Second
)
