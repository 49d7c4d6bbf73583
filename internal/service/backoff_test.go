package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff(t *testing.T) {
	base := 15 * time.Second
	ceiling := 10 * time.Minute

	tests := []struct {
		name    string
		attempt int
		want    time.Duration // before jitter
	}{
		{name: "first retry", attempt: 0, want: 15 * time.Second},
		{name: "second retry", attempt: 1, want: 30 * time.Second},
		{name: "third retry", attempt: 2, want: 60 * time.Second},
		{name: "fifth retry", attempt: 4, want: 4 * time.Minute},
		{name: "capped", attempt: 6, want: 10 * time.Minute},
		{name: "stays capped", attempt: 9, want: 10 * time.Minute},
		{name: "huge attempt does not overflow", attempt: 500, want: 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				got := NextBackoff(base, ceiling, tt.attempt)
				assert.GreaterOrEqual(t, got, tt.want)
				assert.LessOrEqual(t, got, tt.want+tt.want/5)
			}
		})
	}
}

func TestNextBackoff_JitterVaries(t *testing.T) {
	base := 15 * time.Second
	ceiling := 10 * time.Minute

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		seen[NextBackoff(base, ceiling, 5)] = true
	}
	assert.Greater(t, len(seen), 1, "jitter should produce varying delays")
}
