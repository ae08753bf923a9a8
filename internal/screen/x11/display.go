// Package x11 lists client windows and streams their pixels over an X11 connection.
package x11

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/screen"
)

var atomNames = []string{
	"_NET_CLIENT_LIST",
	"_NET_WM_NAME",
	"_NET_WM_PID",
	"_NET_WM_STATE",
	"_NET_WM_STATE_HIDDEN",
	"UTF8_STRING",
	"WM_NAME",
}

// maxClients bounds the _NET_CLIENT_LIST read.
const maxClients = 1024

// Display is a shared X connection. It implements screen.WindowLister and
// screen.StreamFactory.
type Display struct {
	conn          *xgb.Conn
	root          xproto.Window
	atoms         map[string]xproto.Atom
	frameInterval time.Duration

	mu     sync.Mutex
	closed bool
}

// Open connects to $DISPLAY and interns the atoms it needs.
func Open(frameInterval time.Duration) (*Display, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "connect to X server")
	}
	d := &Display{
		conn:          conn,
		root:          xproto.Setup(conn).DefaultScreen(conn).Root,
		atoms:         make(map[string]xproto.Atom, len(atomNames)),
		frameInterval: frameInterval,
	}
	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, apperrors.Wrapf(err, apperrors.Unavailable, "intern atom %s", name)
		}
		d.atoms[name] = reply.Atom
	}
	return d, nil
}

// Close drops the X connection; open streams stop delivering.
func (d *Display) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.conn.Close()
	}
}

func (d *Display) property(w xproto.Window, atom, typ xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(d.conn, false, w, atom, typ, 0, length).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// List returns every managed client window.
func (d *Display) List(ctx context.Context) ([]screen.Window, error) {
	data, err := d.property(d.root, d.atoms["_NET_CLIENT_LIST"], xproto.AtomWindow, maxClients)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "read _NET_CLIENT_LIST")
	}
	ids := decodeIDs(data)
	windows := make([]screen.Window, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := xproto.Window(id)
		title := d.title(w)
		if title == "" {
			continue
		}
		windows = append(windows, screen.Window{
			ID:        id,
			Title:     title,
			PID:       d.pid(w),
			Minimized: d.hidden(w),
		})
	}
	return windows, nil
}

func (d *Display) title(w xproto.Window) string {
	if data, err := d.property(w, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], 256); err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	if data, err := d.property(w, d.atoms["WM_NAME"], xproto.AtomString, 256); err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	return ""
}

func (d *Display) pid(w xproto.Window) uint32 {
	data, err := d.property(w, d.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if err != nil || len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

// hidden reports _NET_WM_STATE_HIDDEN, which window managers set on iconified windows.
func (d *Display) hidden(w xproto.Window) bool {
	data, err := d.property(w, d.atoms["_NET_WM_STATE"], xproto.AtomAtom, 32)
	if err != nil {
		return false
	}
	return containsID(data, uint32(d.atoms["_NET_WM_STATE_HIDDEN"]))
}

func decodeIDs(data []byte) []uint32 {
	ids := make([]uint32, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		ids = append(ids, binary.LittleEndian.Uint32(data[i:]))
	}
	return ids
}

func containsID(data []byte, want uint32) bool {
	for _, id := range decodeIDs(data) {
		if id == want {
			return true
		}
	}
	return false
}
