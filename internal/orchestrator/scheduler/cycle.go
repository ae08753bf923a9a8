package scheduler

import (
	"context"

	"github.com/gridscout/platform/internal/orchestrator/preprocess"
	"github.com/gridscout/platform/internal/orchestrator/report"
	"github.com/gridscout/platform/internal/screen"
	"github.com/gridscout/platform/internal/trace"
)

// cycle runs preprocess, change detection, OCR and the report decision for
// one admitted frame. Errors end the cycle; they never stop the scheduler.
func (s *Scheduler) cycle(ctx context.Context, f screen.Frame) (res Result) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()
	ctx, span := trace.StartSpan(ctx, "scout_cycle")
	defer span.End()
	span.SetAttr("source", f.Key)
	log := trace.Logger(ctx).With("source", f.Key)

	src, ok := s.lookup(f.Key)
	if !ok {
		log.Debug("frame for unregistered source dropped")
		return Result{Discarded: true}
	}

	s.observer.CycleStarted(f.Key)
	defer func() {
		span.SetAttr("changed", res.Changed)
		span.SetAttr("sent", res.Sent)
		s.observer.CycleFinished(f.Key, res)
		log.Debug("cycle finished", "span", span, "discarded", res.Discarded)
	}()

	img, err := preprocess.Process(f, src.Margins(), s.cfg.Params)
	if err != nil {
		log.Warn("frame dropped", "error", err)
		return Result{Err: err}
	}

	if !s.detector.HasChanged(f.Key, img) {
		// Unchanged image: resubmit the last candidate so the keep-alive and
		// failed-send retries still happen without another OCR call.
		sent, ok := s.resubmit(ctx, f.Key, src)
		if !ok {
			return Result{Discarded: true}
		}
		res.Sent = sent
		return res
	}
	res.Changed = true

	text, err := s.ocr.Recognize(ctx, img)
	if err != nil {
		log.Warn("recognition failed", "error", err)
		res.Err = err
		return res
	}

	if !s.active(f.Key, src) {
		log.Debug("source stopped mid-cycle, result discarded")
		res.Discarded = true
		return res
	}
	sent, ok := s.publish(ctx, f.Key, src, img, text)
	if !ok {
		log.Debug("source replaced mid-cycle, result discarded")
		res.Discarded = true
		return res
	}
	src.SetDigest(img.DigestHex())
	res.Sent = sent
	return res
}

func (s *Scheduler) lookup(key string) (*screen.Source, bool) {
	src, ok := s.Get(key)
	if !ok || src.Stopped() {
		return nil, false
	}
	return src, true
}

// active reports whether src is still the registered, running source for key.
func (s *Scheduler) active(key string, src *screen.Source) bool {
	cur, ok := s.Get(key)
	return ok && cur == src && !src.Stopped()
}

// resubmit reports the last candidate of key again. ok is false when src no
// longer owns key.
func (s *Scheduler) resubmit(ctx context.Context, key string, src *screen.Source) (sent, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.entries[key]
	if !found || e.src != src {
		return false, false
	}
	if e.last == nil {
		return false, true
	}
	return s.reports.MaybeReport(ctx, key, *e.last), true
}

// publish commits img and reports the candidate built from text while holding
// the registry lock. A concurrent Remove therefore either runs first and the
// result is dropped, or runs after and forgets what was committed. ok is false
// when src no longer owns key.
func (s *Scheduler) publish(ctx context.Context, key string, src *screen.Source, img *preprocess.Image, text string) (sent, ok bool) {
	entries := report.ParseEntries(text)
	p := report.Payload{
		Label:        src.Label(),
		Text:         text,
		Wormhole:     report.WormholeCode(entries),
		Disconnected: report.IsDisconnected(text, s.cfg.DisconnectPhrases),
		Entries:      entries,
		Version:      s.cfg.Version,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.entries[key]
	if !found || e.src != src {
		return false, false
	}
	p.System = e.system
	e.last = &p
	s.detector.Commit(key, img)
	return s.reports.MaybeReport(ctx, key, p), true
}
