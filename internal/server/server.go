package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/orchestrator/history"
	"github.com/gridscout/platform/internal/orchestrator/report"
	"github.com/gridscout/platform/internal/orchestrator/scheduler"
	"github.com/gridscout/platform/internal/screen"
	"github.com/gridscout/platform/internal/trace"
)

// Control is the scout management surface the API drives.
type Control interface {
	Windows(ctx context.Context) ([]screen.Window, error)
	Scouts() []scheduler.SourceStatus
	Watch(ctx context.Context, title string) (scheduler.SourceStatus, error)
	Unwatch(key string, purge bool) error
	SetMargins(key string, m screen.Margins) error
	SetSystem(key, system string) error
}

// ReportMessage announces a report confirmed by the sink.
type ReportMessage struct {
	Type         string    `json:"type"`
	Key          string    `json:"key"`
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Text         string    `json:"text"`
	Pilots       int       `json:"pilots"`
	Wormhole     string    `json:"wormhole,omitempty"`
	System       string    `json:"system,omitempty"`
	Disconnected bool      `json:"disconnected"`
	SentAt       time.Time `json:"sent_at"`
}

// ErrorMessage is the body of every failed API call.
type ErrorMessage struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type watchRequest struct {
	Title   string          `json:"title"`
	System  string          `json:"system,omitempty"`
	Margins *screen.Margins `json:"margins,omitempty"`
}

type systemRequest struct {
	System string `json:"system"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl    Control
	history *history.Log
	mu      sync.RWMutex
	conns   map[*websocket.Conn]struct{}
}

// New creates a new server and starts relaying events to feed clients.
func New(ctrl Control, events <-chan report.Event) *Server {
	s := &Server{
		ctrl:    ctrl,
		history: history.New(HistorySize),
		conns:   make(map[*websocket.Conn]struct{}),
	}
	if events != nil {
		go s.broadcastReports(events)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/windows", s.handleWindows)
	mux.HandleFunc("GET /api/scouts", s.handleScouts)
	mux.HandleFunc("POST /api/scouts", s.handleWatch)
	mux.HandleFunc("DELETE /api/scouts/{key}", s.handleUnwatch)
	mux.HandleFunc("PUT /api/scouts/{key}/margins", s.handleMargins)
	mux.HandleFunc("PUT /api/scouts/{key}/system", s.handleSystem)
	mux.HandleFunc("GET /api/reports", s.handleReports)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	log := trace.Logger(r.Context())
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// The feed is one-way; reading only detects the client going away.
	for {
		var msg json.RawMessage
		if err := wsjson.Read(r.Context(), conn, &msg); err != nil {
			log.Debug("websocket closed", "error", err)
			return
		}
	}
}

func (s *Server) broadcastReports(events <-chan report.Event) {
	for evt := range events {
		s.history.Add(evt)
		msg := reportMessage(evt)

		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn) {
				ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
				defer cancel()
				_ = wsjson.Write(ctx, c, msg)
			}(conn)
		}
		s.mu.RUnlock()
	}
}

func reportMessage(evt report.Event) ReportMessage {
	p := evt.Payload
	text := p.Text
	if len(text) > TextPreviewLimit {
		text = text[:TextPreviewLimit] + "..."
	}
	return ReportMessage{
		Type:         "report",
		Key:          evt.Key,
		ID:           p.ID,
		Label:        p.Label,
		Text:         text,
		Pilots:       report.Pilots(p.Entries),
		Wormhole:     p.Wormhole,
		System:       p.System,
		Disconnected: p.Disconnected,
		SentAt:       p.SentAt,
	}
}

func (s *Server) connCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	wins, err := s.ctrl.Windows(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": wins})
}

func (s *Server) handleScouts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scouts": s.ctrl.Scouts()})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, r, apperrors.New(apperrors.InvalidArgument, "title is required"))
		return
	}

	st, err := s.ctrl.Watch(r.Context(), req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Margins != nil {
		if err := s.ctrl.SetMargins(req.Title, *req.Margins); err != nil {
			writeError(w, r, err)
			return
		}
		st.Margins = *req.Margins
	}
	if req.System != "" {
		if err := s.ctrl.SetSystem(req.Title, req.System); err != nil {
			writeError(w, r, err)
			return
		}
		st.System = req.System
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))
	if err := s.ctrl.Unwatch(key, purge); err != nil {
		writeError(w, r, err)
		return
	}
	if purge {
		s.history.Forget(key)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMargins(w http.ResponseWriter, r *http.Request) {
	var m screen.Margins
	if err := decode(r, &m); err != nil {
		writeError(w, r, err)
		return
	}
	if m.Left < 0 || m.Top < 0 || m.Right < 0 || m.Bottom < 0 {
		writeError(w, r, apperrors.New(apperrors.InvalidArgument, "margins must not be negative"))
		return
	}
	if err := s.ctrl.SetMargins(r.PathValue("key"), m); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	var req systemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ctrl.SetSystem(r.PathValue("key"), req.System); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, r, apperrors.Newf(apperrors.InvalidArgument, "invalid since %q", v))
			return
		}
		window = d
	}
	events := s.history.Recent(window, r.URL.Query().Get("key"))
	out := make([]ReportMessage, 0, len(events))
	for _, evt := range events {
		out = append(out, reportMessage(evt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}

func decode(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, MaxRequestBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.InvalidArgument, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.Unknown
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorMessage{Error: err.Error(), Code: code.String()})
}

func httpStatus(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.InvalidArgument, apperrors.InvalidCrop, apperrors.ConfigInvalid:
		return http.StatusBadRequest
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.Unavailable, apperrors.OcrInitFailed:
		return http.StatusServiceUnavailable
	case apperrors.CaptureStream, apperrors.ReportSend:
		return http.StatusBadGateway
	case apperrors.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
