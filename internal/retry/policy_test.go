package retry

import (
	"testing"
	"time"
)

func TestPolicy_ShouldRetry(t *testing.T) {
	p := Policy{MaxRetries: 2, RetryDelayMillis: 1000}

	cases := []struct {
		attemptNumber int
		want          bool
	}{
		{1, true},
		{2, true},
		{3, false},
		{4, false},
	}
	for _, c := range cases {
		if got := p.ShouldRetry(c.attemptNumber); got != c.want {
			t.Errorf("ShouldRetry(%d) = %v, want %v", c.attemptNumber, got, c.want)
		}
	}
}

func TestPolicy_NextEligibleAt(t *testing.T) {
	p := Policy{MaxRetries: 3, RetryDelayMillis: 5000}
	last := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	got := p.NextEligibleAt(last)
	want := last.Add(5 * time.Second)
	if !got.Equal(want) {
		t.Fatalf("NextEligibleAt = %v, want %v", got, want)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{RetryDelayMillis: 1500}
	if got := p.Delay(); got != 1500*time.Millisecond {
		t.Fatalf("Delay() = %v, want 1.5s", got)
	}
}
