// Package screen models watched windows and their frame streams.
package screen

import (
	"context"
	"time"
)

// Margins crop a frame, in source pixels, from each edge.
type Margins struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// RawFrame is what a Stream delivers: 4 bytes per pixel in RGBA order.
type RawFrame struct {
	Pix    []byte
	Stride int
	Width  int
	Height int
}

// Frame is a RawFrame copied into its source's buffer and stamped for the pipeline.
type Frame struct {
	Key     string
	Pix     []byte // tightly packed, stride Width*4
	Width   int
	Height  int
	Arrived time.Time
}

// Stream is a live per-window capture session.
type Stream interface {
	// Start begins delivering frames to deliver from the capture goroutine.
	Start(deliver func(RawFrame)) error
	// SetPaused stops or resumes pixel grabbing without closing the session.
	SetPaused(paused bool)
	// Alive reports whether the capture session is still usable.
	Alive() bool
	Close() error
}

// Window is one top-level window as reported by the window system.
type Window struct {
	ID        uint32 `json:"id"`
	Title     string `json:"title"`
	PID       uint32 `json:"pid"`
	Minimized bool   `json:"minimized"`
}

// WindowLister enumerates candidate windows. Results may be stale.
type WindowLister interface {
	List(ctx context.Context) ([]Window, error)
}

// StreamFactory opens a frame stream for a window.
type StreamFactory interface {
	Open(w Window) (Stream, error)
}
