package sink

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/orchestrator/scheduler"
	"github.com/gridscout/platform/internal/trace"
)

// ErrorSender posts client errors.
type ErrorSender interface {
	SendError(ctx context.Context, e ClientError) error
}

// ErrorReporter forwards capture and OCR failures to an ErrorSender. A source
// reports a given code once until one of its cycles succeeds again.
type ErrorReporter struct {
	sender  ErrorSender
	version string
	timeout time.Duration

	mu      sync.Mutex
	failing map[string]string // source -> code already posted
	wg      sync.WaitGroup
}

// NewErrorReporter creates a reporter; each post is bounded by timeout.
func NewErrorReporter(sender ErrorSender, version string, timeout time.Duration) *ErrorReporter {
	return &ErrorReporter{
		sender:  sender,
		version: version,
		timeout: timeout,
		failing: make(map[string]string),
	}
}

// Report posts err for source in the background unless the same code is
// already outstanding for it. It returns whether a post was started.
func (r *ErrorReporter) Report(ctx context.Context, source string, err error) bool {
	e := NewClientError(source, err, r.version)

	r.mu.Lock()
	if r.failing[source] == e.Code {
		r.mu.Unlock()
		return false
	}
	r.failing[source] = e.Code
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if err := r.sender.SendError(ctx, e); err != nil {
			trace.Logger(ctx).Warn("failed to post client error", "source", source, "code", e.Code, "error", err)
		}
	}()
	return true
}

// Clear marks source healthy so its next failure is posted again.
func (r *ErrorReporter) Clear(source string) {
	r.mu.Lock()
	delete(r.failing, source)
	r.mu.Unlock()
}

// Wait blocks until background posts finish.
func (r *ErrorReporter) Wait() { r.wg.Wait() }

// Resumed implements scheduler.Observer.
func (r *ErrorReporter) Resumed(string) {}

// CycleStarted implements scheduler.Observer.
func (r *ErrorReporter) CycleStarted(string) {}

// CycleFinished implements scheduler.Observer.
func (r *ErrorReporter) CycleFinished(key string, res scheduler.Result) {
	switch {
	case res.Err == nil:
		if !res.Discarded {
			r.Clear(key)
		}
	case apperrors.IsCode(res.Err, apperrors.OcrFailure), apperrors.IsCode(res.Err, apperrors.CaptureStream):
		r.Report(context.Background(), key, res.Err)
	}
}
