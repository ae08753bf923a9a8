package x11

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jezek/xgb/xproto"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/screen"
)

// windowStream polls one window with GetImage at the display frame interval.
type windowStream struct {
	d        *Display
	win      xproto.Window
	interval time.Duration

	paused  atomic.Bool
	alive   atomic.Bool
	started atomic.Bool
	stop    chan struct{}
	once    sync.Once
	done    chan struct{}
}

// Open implements screen.StreamFactory.
func (d *Display) Open(w screen.Window) (screen.Stream, error) {
	if w.ID == 0 {
		return nil, apperrors.New(apperrors.InvalidArgument, "window has no id")
	}
	s := &windowStream{
		d:        d,
		win:      xproto.Window(w.ID),
		interval: d.frameInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.alive.Store(true)
	return s, nil
}

func (s *windowStream) Start(deliver func(screen.RawFrame)) error {
	s.started.Store(true)
	if _, err := xproto.GetGeometry(s.d.conn, xproto.Drawable(s.win)).Reply(); err != nil {
		s.alive.Store(false)
		close(s.done)
		return apperrors.Wrapf(err, apperrors.CaptureStream, "window %d", s.win)
	}
	go s.run(deliver)
	return nil
}

func (s *windowStream) run(deliver func(screen.RawFrame)) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			frame, err := s.grab()
			if err != nil {
				// BadWindow and BadMatch mean the window is gone or unmapped.
				slog.Debug("window capture failed", "window", uint32(s.win), "error", err)
				if _, gerr := xproto.GetGeometry(s.d.conn, xproto.Drawable(s.win)).Reply(); gerr != nil {
					s.alive.Store(false)
					return
				}
				continue
			}
			deliver(frame)
		}
	}
}

func (s *windowStream) grab() (screen.RawFrame, error) {
	geom, err := xproto.GetGeometry(s.d.conn, xproto.Drawable(s.win)).Reply()
	if err != nil {
		return screen.RawFrame{}, err
	}
	w, h := int(geom.Width), int(geom.Height)
	img, err := xproto.GetImage(s.d.conn, xproto.ImageFormatZPixmap, xproto.Drawable(s.win),
		0, 0, geom.Width, geom.Height, 0xffffffff).Reply()
	if err != nil {
		return screen.RawFrame{}, err
	}
	return screen.RawFrame{Pix: bgrxToRGBA(img.Data, w, h), Stride: w * 4, Width: w, Height: h}, nil
}

// bgrxToRGBA converts a 32bpp little-endian ZPixmap. Short input yields nil,
// which the source logs as an unreadable frame.
func bgrxToRGBA(data []byte, w, h int) []byte {
	n := w * h * 4
	if len(data) < n {
		return nil
	}
	out := make([]byte, n)
	for i := 0; i < n; i += 4 {
		out[i] = data[i+2]
		out[i+1] = data[i+1]
		out[i+2] = data[i]
		out[i+3] = 0xff
	}
	return out
}

func (s *windowStream) SetPaused(p bool) { s.paused.Store(p) }

func (s *windowStream) Alive() bool { return s.alive.Load() }

func (s *windowStream) Close() error {
	s.once.Do(func() {
		s.alive.Store(false)
		close(s.stop)
		if !s.started.Load() {
			close(s.done)
		}
	})
	<-s.done
	return nil
}
