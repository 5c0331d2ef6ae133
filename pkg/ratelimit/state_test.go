package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    *State
		maxAge   time.Duration
		expected bool
	}{
		{name: "fresh state", state: &State{LastUpdate: now}, maxAge: 5 * time.Minute, expected: false},
		{name: "stale state", state: &State{LastUpdate: now.Add(-10 * time.Minute)}, maxAge: 5 * time.Minute, expected: true},
		{name: "just under max age", state: &State{LastUpdate: now.Add(-4 * time.Minute)}, maxAge: 5 * time.Minute, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(now, tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Thresholds(t *testing.T) {
	tests := []struct {
		remaining    int
		wantBlock    bool
		wantThrottle bool
		wantHealthy  bool
	}{
		{remaining: 100, wantBlock: false, wantThrottle: false, wantHealthy: true},
		{remaining: 50, wantBlock: false, wantThrottle: false, wantHealthy: true},
		{remaining: 49, wantBlock: false, wantThrottle: false, wantHealthy: false},
		{remaining: 20, wantBlock: false, wantThrottle: false, wantHealthy: false},
		{remaining: 19, wantBlock: false, wantThrottle: true, wantHealthy: false},
		{remaining: 5, wantBlock: false, wantThrottle: true, wantHealthy: false},
		{remaining: 4, wantBlock: true, wantThrottle: false, wantHealthy: false},
		{remaining: 0, wantBlock: true, wantThrottle: false, wantHealthy: false},
	}

	for _, tt := range tests {
		s := &State{Remaining: tt.remaining}
		s.UpdateHealth()

		if got := s.NeedsCriticalBlock(); got != tt.wantBlock {
			t.Errorf("remaining %d: NeedsCriticalBlock() = %v, want %v", tt.remaining, got, tt.wantBlock)
		}
		if got := s.NeedsThrottling(); got != tt.wantThrottle {
			t.Errorf("remaining %d: NeedsThrottling() = %v, want %v", tt.remaining, got, tt.wantThrottle)
		}
		if s.IsHealthy != tt.wantHealthy {
			t.Errorf("remaining %d: IsHealthy = %v, want %v", tt.remaining, s.IsHealthy, tt.wantHealthy)
		}
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	now := time.Now()

	future := &State{ResetAt: now.Add(30 * time.Second)}
	if got := future.TimeUntilReset(now); got != 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want 30s", got)
	}
	if future.Expired(now) {
		t.Error("Expired() = true for a future reset")
	}

	past := &State{ResetAt: now.Add(-time.Second)}
	if got := past.TimeUntilReset(now); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0", got)
	}
	if !past.Expired(now) {
		t.Error("Expired() = false for a past reset")
	}
}
