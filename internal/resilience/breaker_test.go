package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// outcome is one recorded sink call; wait sleeps before recording.
type outcome struct {
	wait time.Duration
	ok   bool
}

func TestBreakerTransitions(t *testing.T) {
	const cool = 2 * time.Millisecond
	fail := outcome{ok: false}
	pass := outcome{ok: true}
	afterCool := func(ok bool) outcome { return outcome{wait: 3 * cool, ok: ok} }

	tests := []struct {
		name  string
		cfg   Config
		calls []outcome
		want  State
	}{
		{"fresh", Config{Threshold: 3}, nil, Closed},
		{"below threshold", Config{Threshold: 3, ResetTimeout: time.Hour}, []outcome{fail, fail}, Closed},
		{"at threshold", Config{Threshold: 3, ResetTimeout: time.Hour}, []outcome{fail, fail, fail}, Open},
		{"success clears streak", Config{Threshold: 3, ResetTimeout: time.Hour}, []outcome{fail, fail, pass, fail, fail}, Closed},
		{"trial send recovers", Config{Threshold: 1, ResetTimeout: cool, HalfOpenSuccesses: 2}, []outcome{fail, afterCool(true), pass}, Closed},
		{"trial send partial", Config{Threshold: 1, ResetTimeout: cool, HalfOpenSuccesses: 3}, []outcome{fail, afterCool(true)}, HalfOpen},
		{"trial send fails", Config{Threshold: 1, ResetTimeout: cool, HalfOpenSuccesses: 3}, []outcome{fail, afterCool(false)}, Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("report-sink", tt.cfg)
			for _, c := range tt.calls {
				time.Sleep(c.wait)
				if err := b.Allow(); err != nil {
					continue
				}
				if c.ok {
					b.Success()
				} else {
					b.Failure()
				}
			}
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreakerRejectsDuringOutage(t *testing.T) {
	b := New("report-sink", Config{Threshold: 1, ResetTimeout: time.Hour})
	b.Failure()

	calls := 0
	err := b.Execute(func() error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute() = %v, want ErrOpen", err)
	}
	if calls != 0 {
		t.Errorf("send ran %d times while open", calls)
	}
}

func TestBreakerExecutePassesError(t *testing.T) {
	b := New("report-sink", Config{Threshold: 2, ResetTimeout: time.Second})

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute success = %v, want nil", err)
	}

	sendErr := errors.New("502 bad gateway")
	if err := b.Execute(func() error { return sendErr }); err != sendErr {
		t.Errorf("Execute failure = %v, want %v", err, sendErr)
	}
	if b.State() != Closed {
		t.Errorf("state after one failure = %v, want Closed", b.State())
	}
}

func TestBreakerConcurrentSends(t *testing.T) {
	b := New("report-sink", Config{Threshold: 100, ResetTimeout: time.Second, HalfOpenSuccesses: 10})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(func() error {
				if i%2 == 0 {
					return nil
				}
				return errors.New("timeout")
			})
		}()
	}
	wg.Wait()

	if s := b.State(); s != Closed && s != Open {
		t.Errorf("state = %v, want Closed or Open", s)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Threshold != 5 || cfg.ResetTimeout != 30*time.Second || cfg.HalfOpenSuccesses != 2 {
		t.Errorf("defaults = %+v, want Threshold 5, ResetTimeout 30s, HalfOpenSuccesses 2", cfg)
	}
}
