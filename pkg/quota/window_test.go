package quota

import (
	"testing"
	"time"
)

func TestShouldReset(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		lastResetAt time.Time
		window      time.Duration
		want        bool
	}{
		{
			name:        "zero last reset is always due",
			lastResetAt: time.Time{},
			window:      24 * time.Hour,
			want:        true,
		},
		{
			name:        "inside window",
			lastResetAt: now.Add(-12 * time.Hour),
			window:      24 * time.Hour,
			want:        false,
		},
		{
			name:        "exactly at window boundary is not due",
			lastResetAt: now.Add(-24 * time.Hour),
			window:      24 * time.Hour,
			want:        false,
		},
		{
			name:        "past window",
			lastResetAt: now.Add(-25 * time.Hour),
			window:      24 * time.Hour,
			want:        true,
		},
		{
			name:        "zero window falls back to default",
			lastResetAt: now.Add(-25 * time.Hour),
			window:      0,
			want:        true,
		},
		{
			name:        "short window",
			lastResetAt: now.Add(-2 * time.Minute),
			window:      time.Minute,
			want:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldReset(tt.lastResetAt, now, tt.window)
			if got != tt.want {
				t.Errorf("ShouldReset(%v, %v, %v) = %v, want %v",
					tt.lastResetAt, now, tt.window, got, tt.want)
			}
		})
	}
}

func TestNextReset(t *testing.T) {
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)

	got := NextReset(now, 24*time.Hour)
	want := now.Add(24 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("NextReset = %v, want %v", got, want)
	}

	// Zero window falls back to the default.
	got = NextReset(now, 0)
	want = now.Add(DefaultResetWindow)
	if !got.Equal(want) {
		t.Errorf("NextReset with zero window = %v, want %v", got, want)
	}
}
