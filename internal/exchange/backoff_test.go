package exchange

import (
	"testing"
	"time"
)

func TestBackoffDoublesUntilCap(t *testing.T) {
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 200 * time.Millisecond},
		{1, 400 * time.Millisecond},
		{2, 800 * time.Millisecond},
		{4, 3200 * time.Millisecond},
		{5, 5 * time.Second},
		{20, 5 * time.Second},
		{64, 5 * time.Second},
		{-1, 200 * time.Millisecond},
	}
	for _, tc := range cases {
		got := Backoff(tc.retry, 200*time.Millisecond, 5*time.Second)
		if got != tc.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	if got := Backoff(0, 0, 0); got != 200*time.Millisecond {
		t.Fatalf("default base = %v, want 200ms", got)
	}
	if got := Backoff(10, 0, 0); got != 5*time.Second {
		t.Fatalf("default cap = %v, want 5s", got)
	}
}
