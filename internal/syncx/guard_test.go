package syncx

import (
	"sync"
	"testing"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)

	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}
	g.Set(100)
	if got := g.Get(); got != 100 {
		t.Errorf("Get() after Set = %d, want 100", got)
	}
}

func TestGuardSwap(t *testing.T) {
	g := NewGuard("hello")

	if old := g.Swap("world"); old != "hello" {
		t.Errorf("Swap returned %q, want %q", old, "hello")
	}
	if got := g.Get(); got != "world" {
		t.Errorf("Get() after Swap = %q, want %q", got, "world")
	}
}

func TestGuardConcurrentWrite(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Write(func(v *int) { *v++ })
		}()
	}
	wg.Wait()

	if got := g.Get(); got != 50 {
		t.Errorf("Get() = %d, want 50", got)
	}
}

func TestFlagSet(t *testing.T) {
	f := NewFlagSet[string]()

	if f.Get("C") {
		t.Error("unset flag should be false")
	}
	if !f.Set("C", true) {
		t.Error("Set(true) on unset flag should report a change")
	}
	if f.Set("C", true) {
		t.Error("repeated Set(true) should not report a change")
	}
	if !f.Get("C") {
		t.Error("flag should be set")
	}
	if !f.Set("C", false) {
		t.Error("Set(false) should report a change")
	}
	f.Set("D", true)
	f.Delete("D")
	if f.Get("D") {
		t.Error("deleted flag should be false")
	}
}

func TestFlagSetConcurrent(t *testing.T) {
	f := NewFlagSet[int]()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); f.Set(i%3, i%2 == 0) }()
		go func() { defer wg.Done(); _ = f.Get(i % 3) }()
	}
	wg.Wait()
}
