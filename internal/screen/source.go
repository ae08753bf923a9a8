package screen

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	apperrors "github.com/gridscout/platform/internal/errors"
)

// State is the admission state of a Source.
type State int

const (
	// AwaitingFrame sources forward the next frame they receive.
	AwaitingFrame State = iota
	// Capturing sources have forwarded a frame that is being processed.
	Capturing
	// Paused sources drop every frame.
	Paused
	// Stopped sources have released their stream.
	Stopped
)

func (s State) String() string {
	return [...]string{"awaiting_frame", "capturing", "paused", "stopped"}[s]
}

// FrameHandler receives forwarded frames and reports whether it took the frame.
// It must not block.
type FrameHandler func(Frame) bool

// Status is a point-in-time view of a Source for display.
type Status struct {
	Key     string  `json:"key"`
	Label   string  `json:"label"`
	State   string  `json:"state"`
	Margins Margins `json:"margins"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Frames  uint64  `json:"frames"`
	Dropped uint64  `json:"dropped"`
	Resizes uint64  `json:"resizes"`
	Digest  string  `json:"digest,omitempty"`
}

// Source wraps one window's frame stream. Pause and Resume gate which frames
// reach the handler; the underlying stream stays open until Stop.
type Source struct {
	key     string
	label   string
	stream  Stream
	handler FrameHandler
	now     func() time.Time

	mu      sync.Mutex
	state   State
	margins Margins
	width   int
	height  int
	buf     []byte
	frames  uint64
	dropped uint64
	resizes uint64
	digest  string
}

// NewSource creates a source keyed by the window title. The label is the
// title without prefix.
func NewSource(title, prefix string, stream Stream, margins Margins, handler FrameHandler) *Source {
	return &Source{
		key:     title,
		label:   strings.TrimPrefix(title, prefix),
		stream:  stream,
		handler: handler,
		now:     time.Now,
		state:   Paused,
		margins: margins,
	}
}

// Key returns the stable identity of the source.
func (s *Source) Key() string { return s.key }

// Label returns the display name sent with reports.
func (s *Source) Label() string { return s.label }

// Start begins the frame stream and waits for the first frame.
func (s *Source) Start() error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return apperrors.Newf(apperrors.CaptureStream, "source %q already stopped", s.key)
	}
	s.state = AwaitingFrame
	s.mu.Unlock()

	if err := s.stream.Start(s.OnFrame); err != nil {
		return apperrors.Wrapf(err, apperrors.CaptureStream, "start stream for %q", s.key)
	}
	return nil
}

// OnFrame is the stream callback. Only one frame is forwarded per resume;
// every other frame is dropped rather than queued.
func (s *Source) OnFrame(raw RawFrame) {
	s.mu.Lock()
	if s.state != AwaitingFrame {
		s.dropped++
		s.mu.Unlock()
		return
	}
	if err := validate(raw); err != nil {
		s.mu.Unlock()
		slog.Warn("skipping unreadable frame", "source", s.key, "error", err)
		return
	}

	if raw.Width != s.width || raw.Height != s.height {
		if s.width != 0 {
			s.resizes++
			slog.Debug("frame size changed", "source", s.key,
				"from", [2]int{s.width, s.height}, "to", [2]int{raw.Width, raw.Height})
		}
		s.width, s.height = raw.Width, raw.Height
		s.buf = make([]byte, raw.Width*raw.Height*4)
	}
	row := raw.Width * 4
	for y := 0; y < raw.Height; y++ {
		copy(s.buf[y*row:(y+1)*row], raw.Pix[y*raw.Stride:y*raw.Stride+row])
	}
	s.frames++
	s.state = Capturing
	frame := Frame{Key: s.key, Pix: s.buf, Width: raw.Width, Height: raw.Height, Arrived: s.now()}
	s.mu.Unlock()

	if !s.handler(frame) {
		s.mu.Lock()
		if s.state == Capturing {
			s.state = Paused
		}
		s.mu.Unlock()
	}
}

func validate(raw RawFrame) error {
	if raw.Width <= 0 || raw.Height <= 0 || len(raw.Pix) == 0 {
		return apperrors.New(apperrors.CaptureStream, "empty frame")
	}
	if raw.Stride < raw.Width*4 || len(raw.Pix) < raw.Stride*(raw.Height-1)+raw.Width*4 {
		return apperrors.Newf(apperrors.CaptureStream, "short frame: %d bytes for %dx%d stride %d",
			len(raw.Pix), raw.Width, raw.Height, raw.Stride)
	}
	return nil
}

// Pause drops frames until the next Resume.
func (s *Source) Pause() {
	if s.setState(Paused) {
		s.stream.SetPaused(true)
	}
}

// Resume admits the next frame.
func (s *Source) Resume() {
	if s.setState(AwaitingFrame) {
		s.stream.SetPaused(false)
	}
}

func (s *Source) setState(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return false
	}
	s.state = to
	return true
}

// Stop releases the stream and buffers. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopped
	s.buf = nil
	s.mu.Unlock()
	return s.stream.Close()
}

// Stopped reports whether Stop has been called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Stopped
}

// Alive reports whether the source can still produce frames.
func (s *Source) Alive() bool {
	return !s.Stopped() && s.stream.Alive()
}

// State returns the current admission state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Margins returns the crop margins.
func (s *Source) Margins() Margins {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.margins
}

// SetMargins replaces the crop margins; the next cycle uses them.
func (s *Source) SetMargins(m Margins) {
	s.mu.Lock()
	s.margins = m
	s.mu.Unlock()
}

// SetDigest records the digest of the last image the pipeline used.
func (s *Source) SetDigest(d string) {
	s.mu.Lock()
	s.digest = d
	s.mu.Unlock()
}

// Status returns a snapshot for display.
func (s *Source) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Key:     s.key,
		Label:   s.label,
		State:   s.state.String(),
		Margins: s.margins,
		Width:   s.width,
		Height:  s.height,
		Frames:  s.frames,
		Dropped: s.dropped,
		Resizes: s.resizes,
		Digest:  s.digest,
	}
}
