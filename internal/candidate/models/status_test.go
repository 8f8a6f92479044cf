package models

import "testing"

func TestStatusForConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		confidence float64
		want       PlatformStatus
	}{
		{0, PlatformUnverified},
		{0.05, PlatformUnlikely},
		{0.39, PlatformUnlikely},
		{0.4, PlatformProbable},
		{0.59, PlatformProbable},
		{0.6, PlatformConfirmed},
		{1.0, PlatformConfirmed},
	}

	for _, tc := range tests {
		if got := StatusForConfidence(tc.confidence); got != tc.want {
			t.Errorf("StatusForConfidence(%v) = %q, want %q", tc.confidence, got, tc.want)
		}
	}
}

// TestCanTransition exercises the lifecycle transition table directly rather
// than deriving it from individual service behaviours.
func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		from, to        LifecycleStatus
		strictConfirmed bool
		want            bool
	}{
		{name: "pending to active", from: LifecyclePending, to: LifecycleActive, want: true},
		{name: "active to possibly inactive", from: LifecycleActive, to: LifecyclePossiblyInactive, want: true},
		{name: "active to dead", from: LifecycleActive, to: LifecycleDead, want: true},
		{name: "rate limited back to active", from: LifecycleRateLimited, to: LifecycleActive, want: true},
		{name: "same state is always allowed", from: LifecycleDead, to: LifecycleDead, want: true},

		{name: "nonexistent never leaves", from: LifecycleNonexistent, to: LifecycleActive, strictConfirmed: true, want: false},
		{name: "nonexistent not even to another negative", from: LifecycleNonexistent, to: LifecycleDead, want: false},

		{name: "dead to active without strict confirmation", from: LifecycleDead, to: LifecycleActive, want: false},
		{name: "dead to active with strict confirmation", from: LifecycleDead, to: LifecycleActive, strictConfirmed: true, want: true},
		{name: "inactive platform to possibly inactive needs strict", from: LifecycleInactivePlatform, to: LifecyclePossiblyInactive, want: false},
		{name: "blocked to active with strict confirmation", from: LifecycleBlocked, to: LifecycleActive, strictConfirmed: true, want: true},
		{name: "dead to blocked stays allowed", from: LifecycleDead, to: LifecycleBlocked, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to, tc.strictConfirmed); got != tc.want {
				t.Fatalf("CanTransition(%s, %s, strict=%v) = %v, want %v",
					tc.from, tc.to, tc.strictConfirmed, got, tc.want)
			}
		})
	}
}

func TestLifecycleStatusHelpers(t *testing.T) {
	t.Parallel()

	if !LifecycleNonexistent.IsTerminalNegative() {
		t.Fatal("nonexistent must be terminal negative")
	}
	if LifecycleNonexistent.Schedulable() {
		t.Fatal("nonexistent must never be schedulable again")
	}
	if !LifecycleRateLimited.Schedulable() {
		t.Fatal("rate limited candidates stay in rotation")
	}
	if LifecycleActive.IsTerminalNegative() {
		t.Fatal("active is not a negative state")
	}

	for _, s := range []LifecycleStatus{
		LifecyclePending, LifecycleActive, LifecyclePossiblyInactive,
		LifecycleInactivePlatform, LifecycleNonexistent, LifecycleDead,
		LifecyclePasswordProtected, LifecycleRateLimited, LifecycleBlocked,
	} {
		if !s.IsValid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	if LifecycleStatus("gone").IsValid() {
		t.Fatal("unknown status should be invalid")
	}
}
