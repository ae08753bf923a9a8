// Package scheduler shares the single OCR slot between watched windows in
// round-robin order.
package scheduler

import (
	"context"
	"slices"
	"sync"
	"time"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/orchestrator/change"
	"github.com/gridscout/platform/internal/orchestrator/preprocess"
	"github.com/gridscout/platform/internal/orchestrator/report"
	"github.com/gridscout/platform/internal/screen"
	"github.com/gridscout/platform/internal/syncx"
	"github.com/gridscout/platform/internal/trace"
)

// Recognizer turns a processed image into text.
type Recognizer interface {
	Recognize(ctx context.Context, img *preprocess.Image) (string, error)
}

// Reporter decides whether a candidate report goes out.
type Reporter interface {
	MaybeReport(ctx context.Context, key string, candidate report.Payload) bool
	Forget(key string)
}

// Config holds the scheduler settings.
type Config struct {
	Params            preprocess.Params
	IdleBackoff       time.Duration
	FrameTimeout      time.Duration
	CycleTimeout      time.Duration
	DisconnectPhrases []string
	Version           string
}

func (c Config) withDefaults() Config {
	if c.Params == (preprocess.Params{}) {
		c.Params = preprocess.DefaultParams()
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = DefaultIdleBackoff
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = DefaultFrameTimeout
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = DefaultCycleTimeout
	}
	return c
}

// SourceStatus is a registry entry for display.
type SourceStatus struct {
	screen.Status
	System    string `json:"system,omitempty"`
	Minimized bool   `json:"minimized"`
}

type entry struct {
	src    *screen.Source
	system string
	last   *report.Payload // last recognized candidate, resubmitted on unchanged cycles
}

// Scheduler owns the registry of sources and runs one cycle at a time.
// Only the source holding the turn is resumed; all others stay paused.
type Scheduler struct {
	cfg       Config
	detector  *change.Detector
	ocr       Recognizer
	reports   Reporter
	observer  Observer
	minimized *syncx.FlagSet[string]

	mu       sync.Mutex
	order    []string
	entries  map[string]*entry
	cursor   int    // index of the last source given the turn
	current  string // source holding the turn
	admitted bool   // current has submitted its frame

	frames chan screen.Frame
	skip   chan struct{}
}

// New creates a scheduler. A nil observer is allowed.
func New(cfg Config, detector *change.Detector, ocr Recognizer, reports Reporter, observer Observer) *Scheduler {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		detector:  detector,
		ocr:       ocr,
		reports:   reports,
		observer:  observer,
		minimized: syncx.NewFlagSet[string](),
		entries:   make(map[string]*entry),
		cursor:    -1,
		frames:    make(chan screen.Frame, 1),
		skip:      make(chan struct{}, 1),
	}
}

// Add registers src at the end of the round-robin order. The source should
// be created with Submit as its frame handler and stays paused until it gets
// the turn.
func (s *Scheduler) Add(src *screen.Source) error {
	key := src.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return apperrors.Newf(apperrors.InvalidArgument, "source %q already registered", key)
	}
	s.entries[key] = &entry{src: src}
	s.order = append(s.order, key)
	return nil
}

// Remove unregisters and stops the source. A cycle running for it is
// discarded.
func (s *Scheduler) Remove(key string) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, key)
	idx := slices.Index(s.order, key)
	s.order = slices.Delete(s.order, idx, idx+1)
	if idx <= s.cursor {
		s.cursor--
	}
	signal := false
	if s.current == key {
		s.current = ""
		signal = !s.admitted
	}
	s.mu.Unlock()

	if signal {
		select {
		case s.skip <- struct{}{}:
		default:
		}
	}
	if err := e.src.Stop(); err != nil {
		trace.Logger(context.Background()).Warn("failed to stop source", "source", key, "error", err)
	}
	s.minimized.Delete(key)
	s.detector.Forget(key)
	s.reports.Forget(key)
	return true
}

// Get returns the registered source for key.
func (s *Scheduler) Get(key string) (*screen.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.src, true
}

// Keys returns the registered keys in round-robin order.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Snapshot returns the status of every source in round-robin order.
func (s *Scheduler) Snapshot() []SourceStatus {
	s.mu.Lock()
	entries := make([]entry, 0, len(s.order))
	for _, k := range s.order {
		entries = append(entries, *s.entries[k])
	}
	s.mu.Unlock()

	out := make([]SourceStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, SourceStatus{
			Status:    e.src.Status(),
			System:    e.system,
			Minimized: s.minimized.Get(e.src.Key()),
		})
	}
	return out
}

// SetSystem sets the solar system label reported for key.
func (s *Scheduler) SetSystem(key, system string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.system = system
	if e.last != nil {
		p := *e.last
		p.System = system
		e.last = &p
	}
	return true
}

// SetMinimized records the window's minimized state. Minimized sources are
// skipped until the flag clears.
func (s *Scheduler) SetMinimized(key string, minimized bool) {
	if s.minimized.Set(key, minimized) {
		trace.Logger(context.Background()).Debug("minimized state changed", "source", key, "minimized", minimized)
	}
}

// Submit is the sources' frame handler. It admits exactly one frame from the
// source holding the turn and never blocks.
func (s *Scheduler) Submit(f screen.Frame) bool {
	s.mu.Lock()
	ok := f.Key == s.current && !s.admitted
	if ok {
		s.admitted = true
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// Run passes the turn around until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	log := trace.Logger(ctx)
	log.Info("scheduler started", "idle_backoff", s.cfg.IdleBackoff, "frame_timeout", s.cfg.FrameTimeout)
	defer log.Info("scheduler stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-s.skip:
		default:
		}
		src, ok := s.next()
		if !ok {
			log.Debug("no eligible source, backing off", "sources", len(s.Keys()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.IdleBackoff):
			}
			continue
		}
		if err := s.turn(ctx, src); err != nil {
			return err
		}
	}
}

// turn resumes src and runs its cycle, or gives the turn up when no frame
// arrives in time.
func (s *Scheduler) turn(ctx context.Context, src *screen.Source) error {
	key := src.Key()
	src.Resume()
	s.observer.Resumed(key)

	timer := time.NewTimer(s.cfg.FrameTimeout)
	defer timer.Stop()

	var frame screen.Frame
	select {
	case <-ctx.Done():
		s.release()
		src.Pause()
		return ctx.Err()
	case frame = <-s.frames:
	case <-timer.C:
		if s.revoke() {
			trace.Logger(ctx).Debug("source silent, passing turn", "source", key, "timeout", s.cfg.FrameTimeout)
			src.Pause()
			return nil
		}
		frame = <-s.frames
	case <-s.skip:
		if s.revoke() {
			return nil
		}
		frame = <-s.frames
	}

	s.cycle(ctx, frame)
	src.Pause()
	s.release()
	return nil
}

// next selects the first eligible source strictly after the cursor and
// gives it the turn.
func (s *Scheduler) next() (*screen.Source, bool) {
	s.mu.Lock()
	n := len(s.order)
	start := s.cursor + 1
	candidates := make([]*screen.Source, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, s.entries[s.order[(start+i)%n]].src)
	}
	s.mu.Unlock()

	for _, src := range candidates {
		if !s.eligible(src) {
			continue
		}
		s.mu.Lock()
		idx := slices.Index(s.order, src.Key())
		if idx < 0 {
			s.mu.Unlock()
			continue
		}
		s.cursor = idx
		s.current = src.Key()
		s.admitted = false
		s.mu.Unlock()
		return src, true
	}
	return nil, false
}

func (s *Scheduler) eligible(src *screen.Source) bool {
	return !src.Stopped() && src.Alive() && !s.minimized.Get(src.Key())
}

// revoke takes the turn back unless a frame was already admitted for it.
func (s *Scheduler) revoke() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admitted {
		return false
	}
	s.current = ""
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.current = ""
	s.admitted = false
	s.mu.Unlock()
}
