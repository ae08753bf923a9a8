package history

import (
	"testing"
	"time"

	"github.com/gridscout/platform/internal/orchestrator/report"
)

func event(key, text string, at time.Time) report.Event {
	return report.Event{Key: key, Payload: report.Payload{Text: text, SentAt: at}}
}

func TestLogAdd(t *testing.T) {
	l := New(30)
	l.Add(event("A", "Rifter", time.Now()))

	got := l.Recent(0, "")
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Key != "A" || got[0].Payload.Text != "Rifter" {
		t.Errorf("unexpected entry: %+v", got[0])
	}
}

func TestLogMaxSize(t *testing.T) {
	l := New(5)
	now := time.Now()
	for i := 0; i < 10; i++ {
		l.Add(event("A", "x", now))
	}

	if l.Len() != 5 {
		t.Errorf("expected 5 entries, got %d", l.Len())
	}
}

func TestLogRecent(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(30)
	l.now = func() time.Time { return now }

	l.Add(event("A", "Old", now.Add(-5*time.Minute)))
	l.Add(event("A", "Recent", now.Add(-10*time.Second)))
	l.Add(event("B", "Other", now.Add(-5*time.Second)))

	tests := []struct {
		name   string
		window time.Duration
		key    string
		want   []string
	}{
		{"all", 0, "", []string{"Old", "Recent", "Other"}},
		{"last minute", time.Minute, "", []string{"Recent", "Other"}},
		{"by key", 0, "A", []string{"Old", "Recent"}},
		{"window and key", time.Minute, "A", []string{"Recent"}},
		{"unknown key", 0, "C", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Recent(tt.window, tt.key)
			if len(got) != len(tt.want) {
				t.Fatalf("Recent() returned %d entries, want %d", len(got), len(tt.want))
			}
			for i, e := range got {
				if e.Payload.Text != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, e.Payload.Text, tt.want[i])
				}
			}
		})
	}
}

func TestLogForget(t *testing.T) {
	l := New(30)
	now := time.Now()
	l.Add(event("A", "1", now))
	l.Add(event("B", "2", now))
	l.Add(event("A", "3", now))

	l.Forget("A")
	got := l.Recent(0, "")
	if len(got) != 1 || got[0].Key != "B" {
		t.Errorf("after Forget = %+v, want only B", got)
	}
}
