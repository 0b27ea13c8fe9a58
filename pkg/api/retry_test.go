package api

import (
	"testing"
	"time"
)

func TestRetryPolicy_LinearWithCap(t *testing.T) {
	p := DefaultRetryPolicy()

	want := []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Fatalf("Delay(%d)=%v, want %v", attempt, got, w)
		}
	}
}

func TestRetryPolicy_ZeroBaseIsImmediate(t *testing.T) {
	p := RetryPolicy{}
	if got := p.Delay(5); got != 0 {
		t.Fatalf("expected immediate retry, got %v", got)
	}
}

func TestRetryPolicy_NoCap(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Millisecond}
	if got := p.Delay(7); got != 70*time.Millisecond {
		t.Fatalf("Delay(7)=%v, want 70ms", got)
	}
}
