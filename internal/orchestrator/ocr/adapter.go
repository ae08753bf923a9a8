// Package ocr runs text recognition on a dedicated worker so at most one
// engine call is outstanding at a time.
package ocr

import (
	"context"
	"strings"
	"sync"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/orchestrator/preprocess"
	"github.com/gridscout/platform/internal/trace"
)

// Engine extracts text from an encoded image.
type Engine interface {
	ExtractText(ctx context.Context, imageData []byte, format string) (string, error)
}

type result struct {
	text string
	err  error
}

type job struct {
	ctx  context.Context
	data []byte
	out  chan result
}

// Adapter serializes engine calls onto one goroutine.
type Adapter struct {
	engine Engine
	jobs   chan job
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewAdapter starts the worker.
func NewAdapter(engine Engine) *Adapter {
	a := &Adapter{
		engine: engine,
		jobs:   make(chan job),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.worker()
	return a
}

func (a *Adapter) worker() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case j := <-a.jobs:
			if err := j.ctx.Err(); err != nil {
				j.out <- result{err: err}
				continue
			}
			text, err := a.engine.ExtractText(j.ctx, j.data, "png")
			j.out <- result{text: text, err: err}
		}
	}
}

// Recognize returns cleaned text for img. Engine errors and empty results
// are OCR_FAILURE. If ctx ends first the caller stops waiting, but the
// engine call in progress finishes before the next one starts.
func (a *Adapter) Recognize(ctx context.Context, img *preprocess.Image) (string, error) {
	ctx, span := trace.StartSpan(ctx, "ocr_recognize")
	defer span.End()

	data, err := img.PNG()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.OcrFailure, "encode image")
	}
	span.SetAttr("bytes", len(data))

	j := job{ctx: ctx, data: data, out: make(chan result, 1)}
	select {
	case a.jobs <- j:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-a.stop:
		return "", apperrors.New(apperrors.Unavailable, "ocr worker stopped")
	}

	var r result
	select {
	case r = <-j.out:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if r.err != nil {
		span.SetAttr("error", r.err.Error())
		return "", apperrors.Wrap(r.err, apperrors.OcrFailure, "engine error")
	}
	text := CleanText(r.text)
	if text == "" {
		return "", apperrors.New(apperrors.OcrFailure, "no text recognized")
	}
	span.SetAttr("chars", len(text))
	return text, nil
}

// Close stops the worker after any call in progress.
func (a *Adapter) Close() {
	a.once.Do(func() { close(a.stop) })
	<-a.done
}

// CleanText normalizes line endings, trims trailing blanks and drops empty lines.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimRight(l, " \t\r\f")
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
