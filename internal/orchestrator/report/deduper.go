package report

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/trace"
)

// DefaultKeepAlive is the longest an unchanged source goes without a report.
const DefaultKeepAlive = 5 * time.Minute

// eventBuffer bounds undelivered events; older listeners miss events rather
// than stall sends.
const eventBuffer = 64

// Sender delivers a payload to the report endpoint.
type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// Record is the last payload confirmed sent for a source.
type Record struct {
	Payload Payload
	SentAt  time.Time
	Seq     uint64
}

// Event announces a confirmed send.
type Event struct {
	Key     string
	Payload Payload
}

type pending struct {
	payload Payload
	seq     uint64
}

// Deduper decides per source whether a candidate report goes out.
type Deduper struct {
	sender      Sender
	keepAlive   time.Duration
	sendTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	seq      uint64
	last     map[string]Record
	inflight map[string]pending
	floor    map[string]uint64 // sends at or below this seq were issued before Forget
	events   chan Event
	wg       sync.WaitGroup
}

// Option configures a Deduper.
type Option func(*Deduper)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(d *Deduper) { d.now = now } }

// WithSendTimeout bounds each send.
func WithSendTimeout(t time.Duration) Option { return func(d *Deduper) { d.sendTimeout = t } }

// NewDeduper creates a deduper; keepAlive <= 0 uses DefaultKeepAlive.
func NewDeduper(sender Sender, keepAlive time.Duration, opts ...Option) *Deduper {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	d := &Deduper{
		sender:      sender,
		keepAlive:   keepAlive,
		sendTimeout: 10 * time.Second,
		now:         time.Now,
		last:        make(map[string]Record),
		inflight:    make(map[string]pending),
		floor:       make(map[string]uint64),
		events:      make(chan Event, eventBuffer),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// MaybeReport starts a send of candidate if it differs from the last sent
// record for key, or if more than the keep-alive has elapsed since that send. A
// disconnected candidate after a connected record always differs, so it goes
// out at once. It returns whether a send was started; the send itself runs
// in the background and only a successful one updates the record.
func (d *Deduper) MaybeReport(ctx context.Context, key string, candidate Payload) bool {
	log := trace.Logger(ctx)

	d.mu.Lock()
	if p, ok := d.inflight[key]; ok && p.payload.Equal(candidate) {
		d.mu.Unlock()
		log.Debug("identical report already in flight", "source", key)
		return false
	}
	now := d.now()
	prev, ok := d.last[key]
	if ok && prev.Payload.Equal(candidate) && now.Sub(prev.SentAt) <= d.keepAlive {
		d.mu.Unlock()
		return false
	}
	d.seq++
	seq := d.seq
	candidate.ID = uuid.New().String()
	candidate.SentAt = now
	d.inflight[key] = pending{payload: candidate, seq: seq}
	d.mu.Unlock()

	reason := "changed"
	if ok && prev.Payload.Equal(candidate) {
		reason = "keep_alive"
	}
	log.Info("sending report", "source", key, "reason", reason, "disconnected", candidate.Disconnected, "id", candidate.ID)

	d.wg.Add(1)
	go d.send(context.WithoutCancel(ctx), key, seq, candidate)
	return true
}

func (d *Deduper) send(ctx context.Context, key string, seq uint64, p Payload) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	err := d.sender.Send(ctx, p)

	d.mu.Lock()
	if cur, ok := d.inflight[key]; ok && cur.seq == seq {
		delete(d.inflight, key)
	}
	committed := false
	if err == nil && seq > d.floor[key] {
		if prev, ok := d.last[key]; !ok || prev.Seq < seq {
			d.last[key] = Record{Payload: p, SentAt: p.SentAt, Seq: seq}
			committed = true
		}
	}
	d.mu.Unlock()

	if err != nil {
		trace.Logger(ctx).Warn("report send failed", "source", key, "id", p.ID,
			"error", apperrors.Wrap(err, apperrors.ReportSend, "send report"))
		return
	}
	if committed {
		select {
		case d.events <- Event{Key: key, Payload: p}:
		default:
		}
	}
}

// Last returns the last confirmed record for key.
func (d *Deduper) Last(key string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.last[key]
	return r, ok
}

// Forget drops all state for a removed source. Sends already in flight for it
// still run but no longer update the record.
func (d *Deduper) Forget(key string) {
	d.mu.Lock()
	delete(d.last, key)
	delete(d.inflight, key)
	d.floor[key] = d.seq
	d.mu.Unlock()
}

// Events streams confirmed sends.
func (d *Deduper) Events() <-chan Event { return d.events }

// Wait blocks until all started sends have finished.
func (d *Deduper) Wait() { d.wg.Wait() }
