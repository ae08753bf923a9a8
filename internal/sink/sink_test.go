package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/orchestrator/report"
	"github.com/gridscout/platform/internal/orchestrator/scheduler"
	"github.com/gridscout/platform/internal/resilience"
	"github.com/gridscout/platform/internal/trace"
)

func testPayload() report.Payload {
	return report.Payload{ID: "id-1", Label: "Alpha", Text: "Rifter", Version: "test"}
}

func TestHTTPSend(t *testing.T) {
	var got report.Payload
	var path, traceID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		traceID = r.Header.Get(trace.TraceIDKey)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, time.Second)
	ctx := trace.WithContext(context.Background(), trace.New())
	if err := h.Send(ctx, testPayload()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if path != "/api/report" {
		t.Errorf("path = %q, want /api/report", path)
	}
	if got.Label != "Alpha" || got.Text != "Rifter" {
		t.Errorf("payload = %+v, want label Alpha text Rifter", got)
	}
	if traceID == "" {
		t.Error("trace header not propagated")
	}
}

func TestHTTPNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewHTTP(srv.URL+"/", time.Second).Send(context.Background(), testPayload())
	if !apperrors.IsCode(err, apperrors.ReportSend) {
		t.Errorf("Send() error = %v, want REPORT_SEND", err)
	}
}

func TestHTTPBreakerOpens(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, time.Second)
	for i := 0; i < resilience.DefaultThreshold+3; i++ {
		_ = h.Send(context.Background(), testPayload())
	}
	if h.Breaker().State() != resilience.Open {
		t.Errorf("breaker state = %v, want open", h.Breaker().State())
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != resilience.DefaultThreshold {
		t.Errorf("hits = %d, want %d", hits, resilience.DefaultThreshold)
	}
}

func TestHTTPUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTP(url, time.Second).Send(context.Background(), testPayload())
	if !apperrors.IsCode(err, apperrors.ReportSend) {
		t.Errorf("Send() error = %v, want REPORT_SEND", err)
	}
}

type mockPublisher struct {
	channel string
	msg     any
	err     error
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	m.channel = channel
	m.msg = message
	return redis.NewIntResult(1, m.err)
}

func TestRedisSend(t *testing.T) {
	pub := &mockPublisher{}
	r := &Redis{pub: pub, channel: "gridscout:reports"}

	if err := r.Send(context.Background(), testPayload()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if pub.channel != "gridscout:reports" {
		t.Errorf("channel = %q, want gridscout:reports", pub.channel)
	}
	var got report.Payload
	if err := json.Unmarshal(pub.msg.([]byte), &got); err != nil {
		t.Fatalf("published message is not JSON: %v", err)
	}
	if got.ID != "id-1" {
		t.Errorf("published id = %q, want id-1", got.ID)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRedisSendError(t *testing.T) {
	r := &Redis{pub: &mockPublisher{err: errors.New("READONLY")}, channel: "c"}
	if err := r.Send(context.Background(), testPayload()); !apperrors.IsCode(err, apperrors.ReportSend) {
		t.Errorf("Send() error = %v, want REPORT_SEND", err)
	}
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "http://not-redis", "c")
	if !apperrors.IsCode(err, apperrors.ConfigInvalid) {
		t.Errorf("NewRedis() error = %v, want CONFIG_INVALID", err)
	}
}

type funcSender func(context.Context, report.Payload) error

func (f funcSender) Send(ctx context.Context, p report.Payload) error { return f(ctx, p) }

func TestFanout(t *testing.T) {
	calls := 0
	ok := funcSender(func(context.Context, report.Payload) error { calls++; return nil })
	bad := funcSender(func(context.Context, report.Payload) error { calls++; return errors.New("down") })

	if err := (Fanout{ok, ok}).Send(context.Background(), testPayload()); err != nil {
		t.Errorf("Fanout all ok error = %v", err)
	}
	if err := (Fanout{bad, ok}).Send(context.Background(), testPayload()); err == nil {
		t.Error("Fanout with a failing sink should fail")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestHTTPSendError(t *testing.T) {
	var got ClientError
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	cause := apperrors.New(apperrors.OcrInitFailed, "tessdata missing")
	e := NewClientError("", cause, "test")
	if err := NewHTTP(srv.URL, time.Second).SendError(context.Background(), e); err != nil {
		t.Fatalf("SendError() error = %v", err)
	}
	if path != "/api/error" {
		t.Errorf("path = %q, want /api/error", path)
	}
	if got.Code != "OCR_INIT_FAILED" || got.Version != "test" || got.Message != cause.Error() {
		t.Errorf("posted %+v, want code OCR_INIT_FAILED version test", got)
	}
}

func TestClientErrorPlainError(t *testing.T) {
	e := NewClientError("Alpha", errors.New("boom"), "v1")
	if e.Code != "UNKNOWN" || e.Source != "Alpha" || e.Time.IsZero() {
		t.Errorf("NewClientError() = %+v, want code UNKNOWN source Alpha", e)
	}
}

type recordingErrors struct {
	mu   sync.Mutex
	sent []ClientError
}

func (r *recordingErrors) SendError(_ context.Context, e ClientError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, e)
	return nil
}

func (r *recordingErrors) codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, e := range r.sent {
		out[i] = e.Source + ":" + e.Code
	}
	return out
}

func TestErrorReporterOncePerStreak(t *testing.T) {
	rec := &recordingErrors{}
	r := NewErrorReporter(rec, "test", time.Second)
	ocrErr := scheduler.Result{Err: apperrors.New(apperrors.OcrFailure, "engine crashed")}

	r.CycleFinished("Alpha", ocrErr)
	r.CycleFinished("Alpha", ocrErr)
	r.CycleFinished("Bravo", ocrErr)
	r.CycleFinished("Alpha", scheduler.Result{Discarded: true})
	r.CycleFinished("Alpha", ocrErr)
	r.Wait()
	if got := len(rec.codes()); got != 2 {
		t.Fatalf("posted %d errors during the streak, want 2: %v", got, rec.codes())
	}

	r.CycleFinished("Alpha", scheduler.Result{Changed: true})
	r.CycleFinished("Alpha", ocrErr)
	r.CycleFinished("Alpha", scheduler.Result{Err: apperrors.New(apperrors.InvalidCrop, "margins too wide")})
	r.Wait()

	got := rec.codes()
	if len(got) != 3 || got[2] != "Alpha:OCR_FAILURE" {
		t.Errorf("posted %v, want a fresh Alpha:OCR_FAILURE after recovery and no INVALID_CROP", got)
	}
}

func TestErrorReporterCodeChange(t *testing.T) {
	rec := &recordingErrors{}
	r := NewErrorReporter(rec, "test", time.Second)
	ctx := context.Background()

	if !r.Report(ctx, "Alpha", apperrors.New(apperrors.CaptureStream, "window gone")) {
		t.Error("first capture failure should be posted")
	}
	if !r.Report(ctx, "Alpha", apperrors.New(apperrors.OcrFailure, "empty")) {
		t.Error("a different code should be posted")
	}
	r.Wait()
	if got := len(rec.codes()); got != 2 {
		t.Errorf("posted %d errors, want 2", got)
	}
}
