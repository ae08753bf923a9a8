// Package orchestrator ties watched windows to the capture scheduler and
// keeps them in sync with the window system.
package orchestrator

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/orchestrator/scheduler"
	"github.com/gridscout/platform/internal/screen"
	"github.com/gridscout/platform/internal/store"
	"github.com/gridscout/platform/internal/syncx"
	"github.com/gridscout/platform/internal/trace"
)

// ScoutStore persists per-scout settings.
type ScoutStore interface {
	Get(key string) (store.ScoutRecord, bool, error)
	SaveMargins(key string, m screen.Margins) error
	SaveWindow(key string, w screen.Window) error
	SaveSystem(key, system string) error
	Delete(key string) error
}

// Options configures a Manager.
type Options struct {
	TitlePrefix  string
	PollInterval time.Duration
}

// Manager watches windows by title and keeps their sources registered with
// the scheduler.
type Manager struct {
	opts    Options
	lister  screen.WindowLister
	streams screen.StreamFactory
	sched   *scheduler.Scheduler
	store   ScoutStore

	mu      sync.Mutex // serializes watch, unwatch and poll
	windows *syncx.RWGuard[map[string]screen.Window]
}

// New creates a manager.
func New(opts Options, lister screen.WindowLister, streams screen.StreamFactory, sched *scheduler.Scheduler, st ScoutStore) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Manager{
		opts:    opts,
		lister:  lister,
		streams: streams,
		sched:   sched,
		store:   st,
		windows: syncx.NewGuard(map[string]screen.Window{}),
	}
}

// Watch starts scouting the window with the given title. Margins and the
// system label come from the store when present.
func (m *Manager) Watch(ctx context.Context, title string) (scheduler.SourceStatus, error) {
	ctx, span := trace.StartSpan(ctx, "watch")
	defer span.End()
	span.SetAttr("title", title)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sched.Get(title); ok {
		return scheduler.SourceStatus{}, apperrors.Newf(apperrors.InvalidArgument, "%q is already watched", title)
	}
	wins, err := m.list(ctx)
	if err != nil {
		return scheduler.SourceStatus{}, err
	}
	w, ok := findTitle(wins, title)
	if !ok {
		return scheduler.SourceStatus{}, apperrors.Newf(apperrors.NotFound, "no window titled %q", title)
	}

	rec, _, err := m.store.Get(title)
	if err != nil {
		trace.Logger(ctx).Warn("failed to load scout settings", "title", title, "error", err)
	}
	if err := m.open(ctx, w, rec.Margins(), rec.System); err != nil {
		return scheduler.SourceStatus{}, err
	}
	return m.status(title), nil
}

// open starts a source for w and registers it. Caller holds m.mu.
func (m *Manager) open(ctx context.Context, w screen.Window, margins screen.Margins, system string) error {
	log := trace.Logger(ctx)
	stream, err := m.streams.Open(w)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CaptureStream, "open capture for %q", w.Title)
	}
	src := screen.NewSource(w.Title, m.opts.TitlePrefix, stream, margins, m.sched.Submit)
	if err := src.Start(); err != nil {
		_ = src.Stop()
		return err
	}
	src.Pause()
	if err := m.sched.Add(src); err != nil {
		_ = src.Stop()
		return err
	}
	if system != "" {
		m.sched.SetSystem(w.Title, system)
	}
	m.sched.SetMinimized(w.Title, w.Minimized)

	m.windows.Write(func(cur *map[string]screen.Window) {
		next := maps.Clone(*cur)
		next[w.Title] = w
		*cur = next
	})
	if err := m.store.SaveWindow(w.Title, w); err != nil {
		log.Warn("failed to save window identity", "title", w.Title, "error", err)
	}
	log.Info("watching window", "title", w.Title, "window_id", w.ID, "pid", w.PID, "margins", margins)
	return nil
}

// Unwatch stops scouting key. With purge the stored settings are deleted too.
func (m *Manager) Unwatch(key string, purge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sched.Remove(key) {
		return apperrors.Newf(apperrors.NotFound, "%q is not watched", key)
	}
	m.forgetWindow(key)
	if purge {
		if err := m.store.Delete(key); err != nil {
			return apperrors.Wrap(err, apperrors.StoreFailed, "delete scout settings")
		}
	}
	trace.Logger(context.Background()).Info("stopped watching window", "title", key, "purged", purge)
	return nil
}

// SetMargins changes the crop margins of key and persists them.
func (m *Manager) SetMargins(key string, margins screen.Margins) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sched.Get(key)
	if !ok {
		return apperrors.Newf(apperrors.NotFound, "%q is not watched", key)
	}
	src.SetMargins(margins)
	if err := m.store.SaveMargins(key, margins); err != nil {
		return apperrors.Wrap(err, apperrors.StoreFailed, "save margins")
	}
	return nil
}

// SetSystem changes the system label of key and persists it.
func (m *Manager) SetSystem(key, system string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sched.SetSystem(key, system) {
		return apperrors.Newf(apperrors.NotFound, "%q is not watched", key)
	}
	if err := m.store.SaveSystem(key, system); err != nil {
		return apperrors.Wrap(err, apperrors.StoreFailed, "save system")
	}
	return nil
}

// Windows lists candidate windows whose title has the configured prefix.
func (m *Manager) Windows(ctx context.Context) ([]screen.Window, error) {
	return m.list(ctx)
}

// Scouts returns the watched sources in scheduling order.
func (m *Manager) Scouts() []scheduler.SourceStatus {
	return m.sched.Snapshot()
}

// Run polls the window system until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		m.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll reconciles watched sources with the current window list: minimized
// flags are refreshed, a title now owned by a different window (client
// restarted) gets a new stream, and closed windows are dropped.
func (m *Manager) Poll(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "window_poll")
	defer span.End()
	log := trace.Logger(ctx)

	wins, err := m.list(ctx)
	if err != nil {
		log.Warn("window poll failed", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	known := m.windows.Get()
	restarted := 0
	for _, key := range m.sched.Keys() {
		w, ok := findTitle(wins, key)
		if !ok {
			log.Info("window closed, stopping scout", "title", key)
			m.sched.Remove(key)
			m.forgetWindow(key)
			continue
		}
		src, ok := m.sched.Get(key)
		if !ok {
			continue
		}
		if prev, ok := known[key]; ok && prev.ID == w.ID && src.Alive() {
			m.sched.SetMinimized(key, w.Minimized)
			continue
		}

		log.Info("window changed, restarting capture", "title", key, "window_id", w.ID)
		margins, system := src.Margins(), m.status(key).System
		m.sched.Remove(key)
		m.forgetWindow(key)
		if err := m.open(ctx, w, margins, system); err != nil {
			log.Error("failed to restart capture", "title", key, "error", err)
			continue
		}
		restarted++
	}
	span.SetAttr("windows", len(wins))
	span.SetAttr("restarted", restarted)
}

func (m *Manager) list(ctx context.Context) ([]screen.Window, error) {
	ctx, cancel := context.WithTimeout(ctx, ListTimeout)
	defer cancel()
	wins, err := m.lister.List(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "list windows")
	}
	out := wins[:0:0]
	for _, w := range wins {
		if strings.HasPrefix(w.Title, m.opts.TitlePrefix) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *Manager) forgetWindow(key string) {
	m.windows.Write(func(cur *map[string]screen.Window) {
		next := maps.Clone(*cur)
		delete(next, key)
		*cur = next
	})
}

func (m *Manager) status(key string) scheduler.SourceStatus {
	for _, st := range m.sched.Snapshot() {
		if st.Key == key {
			return st
		}
	}
	return scheduler.SourceStatus{}
}

func findTitle(wins []screen.Window, title string) (screen.Window, bool) {
	for _, w := range wins {
		if w.Title == title {
			return w, true
		}
	}
	return screen.Window{}, false
}
