package autolayer

import (
	"testing"
)

func TestShouldSuppress(t *testing.T) {
	tests := []struct {
		name            string
		lastTap         int64
		now             int64
		idleThresholdMs int64
		want            bool
	}{
		{
			name:            "zero threshold never suppresses",
			lastTap:         100,
			now:             100,
			idleThresholdMs: 0,
			want:            false,
		},
		{
			name:            "negative threshold never suppresses",
			lastTap:         100,
			now:             100,
			idleThresholdMs: -1,
			want:            false,
		},
		{
			name:            "tap just before pointer suppresses",
			lastTap:         0,
			now:             100,
			idleThresholdMs: 150,
			want:            true,
		},
		{
			name:            "idle window elapsed",
			lastTap:         0,
			now:             200,
			idleThresholdMs: 150,
			want:            false,
		},
		{
			name:            "exact boundary does not suppress",
			lastTap:         0,
			now:             150,
			idleThresholdMs: 150,
			want:            false,
		},
		{
			name:            "one ms inside the window",
			lastTap:         0,
			now:             149,
			idleThresholdMs: 150,
			want:            true,
		},
		{
			name:            "no tap ever recorded",
			lastTap:         0,
			now:             0,
			idleThresholdMs: 150,
			want:            true,
		},
		{
			name:            "large uptime values",
			lastTap:         86_400_000_000,
			now:             86_400_000_100,
			idleThresholdMs: 150,
			want:            true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldSuppress(tt.lastTap, tt.now, tt.idleThresholdMs)
			if got != tt.want {
				t.Errorf("ShouldSuppress(%d, %d, %d) = %v, want %v",
					tt.lastTap, tt.now, tt.idleThresholdMs, got, tt.want)
			}
		})
	}
}

func BenchmarkShouldSuppress(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ShouldSuppress(1000, 1200, 150)
	}
}
