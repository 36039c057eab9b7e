package timeutil

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestExponentialBackoffDelay(t *testing.T) {
	param := NewBackoffParam(100*time.Millisecond, 2.0, time.Second)

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first attempt uses initial duration", attempt: 1, want: 100 * time.Millisecond},
		{name: "second attempt doubles", attempt: 2, want: 200 * time.Millisecond},
		{name: "third attempt doubles again", attempt: 3, want: 400 * time.Millisecond},
		{name: "large attempt is capped", attempt: 10, want: time.Second},
		{name: "zero attempt is treated as first", attempt: 0, want: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExponentialBackoffDelay(tt.attempt, 0, nil, param)
			if got != tt.want {
				t.Errorf("ExponentialBackoffDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExponentialBackoffDelay_WithJitter(t *testing.T) {
	param := NewBackoffParam(100*time.Millisecond, 2.0, time.Second)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 100; i++ {
		got := ExponentialBackoffDelay(1, 50*time.Millisecond, rng, param)
		if got < 100*time.Millisecond || got >= 150*time.Millisecond {
			t.Fatalf("ExponentialBackoffDelay() = %v, want within [100ms, 150ms)", got)
		}
	}
}

func TestComputeJitter(t *testing.T) {
	tests := []struct {
		name string
		max  time.Duration
		rng  *rand.Rand
	}{
		{name: "max=0 returns 0", max: 0, rng: rand.New(rand.NewSource(1))},
		{name: "negative max returns 0", max: -100 * time.Millisecond, rng: rand.New(rand.NewSource(1))},
		{name: "nil rng returns 0", max: time.Second, rng: nil},
		{name: "positive max returns value within range", max: time.Second, rng: rand.New(rand.NewSource(42))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeJitter(tt.max, tt.rng)
			if tt.max <= 0 || tt.rng == nil {
				if got != 0 {
					t.Errorf("ComputeJitter() = %v, want 0", got)
				}
				return
			}
			if got < 0 || got >= tt.max {
				t.Errorf("ComputeJitter() = %v, want within [0, %v)", got, tt.max)
			}
		})
	}
}

func TestSleep_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if err == nil {
		t.Fatal("expected context error, got nil")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Sleep did not return promptly after cancellation")
	}
}

func TestSleep_Elapses(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
